// Package display renders the heart-rate screen. It is a pure consumer of
// the controller's listen hooks and holds no BLE logic.
package display

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/pulseview/pulseview/internal/hrm"
)

const (
	heartGlyph = "❤"
	// Pulse period bounds keep the animation readable when the reading is
	// extreme or absent.
	minPulsePeriod = 250 * time.Millisecond
	maxPulsePeriod = 2 * time.Second
	idlePulse      = time.Second
)

// View is the full-screen BPM readout: a pulsing heart, the current
// reading, and a status line with state, device name, and key hints.
type View struct {
	app        *tview.Application
	controller *hrm.Controller
	logger     *log.Logger

	heartView  *tview.TextView
	statusView *tview.TextView

	mu         sync.Mutex
	state      hrm.ConnectionState
	scanning   bool
	deviceName *string
	bpm        *int
	beatOn     bool

	stopPulse   chan struct{}
	unregisters []func()
	wg          sync.WaitGroup
}

// NewView builds the screen and subscribes to the controller's events.
func NewView(controller *hrm.Controller, logger *log.Logger) *View {
	if controller == nil {
		panic("View: controller cannot be nil")
	}
	if logger == nil {
		panic("View: logger cannot be nil")
	}

	v := &View{
		app:        tview.NewApplication(),
		controller: controller,
		logger:     logger,
		state:      hrm.StateIdle,
		stopPulse:  make(chan struct{}),
	}

	v.heartView = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	v.heartView.SetBorder(true).SetTitle(" PulseView ")

	v.statusView = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(v.heartView, 0, 5, false).
		AddItem(v.statusView, 3, 0, false)

	v.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyEscape, event.Rune() == 'q':
			v.app.Stop()
			return nil
		case event.Rune() == 'r':
			if err := v.controller.Rescan(); err != nil {
				v.logger.Printf("View: rescan: %v", err)
			}
			return nil
		case event.Rune() == 'd':
			if err := v.controller.Disconnect(); err != nil {
				v.logger.Printf("View: disconnect: %v", err)
			}
			return nil
		case event.Rune() == 's':
			go func() {
				if err := v.controller.Start(); err != nil {
					v.logger.Printf("View: start: %v", err)
				}
			}()
			return nil
		}
		return event
	})

	v.app.SetRoot(flex, true)
	v.subscribe()
	return v
}

func (v *View) subscribe() {
	v.unregisters = append(v.unregisters,
		v.controller.ListenToConnectionState(func(state hrm.ConnectionState) {
			v.mu.Lock()
			v.state = state
			v.mu.Unlock()
			v.redraw()
		}),
		v.controller.ListenToScanning(func(scanning bool) {
			v.mu.Lock()
			v.scanning = scanning
			v.mu.Unlock()
			v.redraw()
		}),
		v.controller.ListenToDeviceName(func(name *string) {
			v.mu.Lock()
			v.deviceName = name
			v.mu.Unlock()
			v.redraw()
		}),
		v.controller.ListenToHeartRate(func(bpm *int) {
			v.mu.Lock()
			v.bpm = bpm
			v.mu.Unlock()
			v.redraw()
		}),
	)
}

// Run starts the pulse animation and blocks in the UI loop.
func (v *View) Run() error {
	v.wg.Add(1)
	go v.pulseLoop()
	defer v.shutdown()
	return v.app.Run()
}

func (v *View) shutdown() {
	close(v.stopPulse)
	v.wg.Wait()
	for _, unregister := range v.unregisters {
		unregister()
	}
}

// pulseLoop toggles the heart glyph at the live heart rate.
func (v *View) pulseLoop() {
	defer v.wg.Done()
	for {
		v.mu.Lock()
		period := idlePulse
		if v.bpm != nil && *v.bpm > 0 {
			period = time.Duration(float64(time.Minute) / float64(*v.bpm) / 2)
			if period < minPulsePeriod {
				period = minPulsePeriod
			}
			if period > maxPulsePeriod {
				period = maxPulsePeriod
			}
		}
		v.beatOn = !v.beatOn
		v.mu.Unlock()
		v.redraw()

		select {
		case <-v.stopPulse:
			return
		case <-time.After(period):
		}
	}
}

func (v *View) redraw() {
	v.app.QueueUpdateDraw(func() {
		v.mu.Lock()
		defer v.mu.Unlock()

		heartColor := "[gray]"
		if v.state == hrm.StateConnected && v.beatOn {
			heartColor = "[red]"
		} else if v.state == hrm.StateConnected {
			heartColor = "[maroon]"
		}
		reading := "--"
		if v.bpm != nil {
			reading = fmt.Sprintf("%d", *v.bpm)
		}
		v.heartView.SetText(fmt.Sprintf("\n\n%s%s[-]\n\n[white]%s bpm", heartColor, heartGlyph, reading))

		name := "no device"
		if v.deviceName != nil {
			name = *v.deviceName
		}
		scanning := ""
		if v.scanning {
			scanning = " [yellow](scanning...)[-]"
		}
		v.statusView.SetText(fmt.Sprintf("[white]%s[-] | %s%s\n[gray]s start  r rescan  d disconnect  q quit",
			v.state, name, scanning))
	})
}
