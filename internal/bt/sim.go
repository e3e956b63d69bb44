package bt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pulseview/pulseview/internal/events"
)

// SimulatorConfig describes the single simulated heart-rate peripheral.
type SimulatorConfig struct {
	DeviceID     string
	LocalName    string
	ServiceUUID  string // service the simulated device advertises
	CharUUID     string // characteristic carrying heart-rate payloads
	HTTPPort     int    // 0 disables the control server
	AdvertPeriod time.Duration
	NotifyPeriod time.Duration
}

// Simulator implements Adapter with one fake wearable so the app can run
// without Bluetooth hardware. An optional HTTP control surface changes the
// heart rate, forces disconnects, and toggles radio power at runtime.
type Simulator struct {
	logger *log.Logger
	cfg    SimulatorConfig

	mu         sync.Mutex
	powerState PowerState
	scanStop   chan struct{}
	connected  bool
	notifyCb   func([]byte, error)
	notifyStop chan struct{}
	bpm        uint16
	destroyed  bool

	powerEvent      *events.Event[PowerState]
	disconnectEvent *events.Event[struct{}]

	server *http.Server
	wg     sync.WaitGroup
}

var _ Adapter = (*Simulator)(nil)

// NewSimulator creates a simulated adapter. Zero durations fall back to a
// 500ms advertisement period and a 1s notification period.
func NewSimulator(cfg SimulatorConfig, logger *log.Logger) *Simulator {
	if logger == nil {
		panic("Simulator: logger cannot be nil")
	}
	if cfg.AdvertPeriod <= 0 {
		cfg.AdvertPeriod = 500 * time.Millisecond
	}
	if cfg.NotifyPeriod <= 0 {
		cfg.NotifyPeriod = time.Second
	}
	return &Simulator{
		logger:          logger,
		cfg:             cfg,
		powerState:      PowerUnknown,
		bpm:             72,
		powerEvent:      events.NewEvent[PowerState](false),
		disconnectEvent: events.NewEvent[struct{}](false),
	}
}

func (s *Simulator) Enable() error {
	s.setPowerState(PowerOn)

	if s.cfg.HTTPPort > 0 && s.server == nil {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/state", s.handleState)
		mux.HandleFunc("/api/set", s.handleSet)
		mux.HandleFunc("/api/disconnect", s.handleDisconnect)
		mux.HandleFunc("/api/power", s.handlePower)
		s.server = &http.Server{
			Addr:    fmt.Sprintf(":%d", s.cfg.HTTPPort),
			Handler: mux,
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Printf("Simulator: control server on http://localhost:%d", s.cfg.HTTPPort)
			if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
				s.logger.Printf("Simulator: control server error: %v", err)
			}
		}()
	}
	return nil
}

func (s *Simulator) setPowerState(state PowerState) {
	s.mu.Lock()
	changed := s.powerState != state
	s.powerState = state
	s.mu.Unlock()
	if changed {
		s.powerEvent.Notify(state)
	}
}

func (s *Simulator) scanResult() ScanResult {
	return ScanResult{
		ID:           s.cfg.DeviceID,
		LocalName:    s.cfg.LocalName,
		RSSI:         -52,
		ServiceUUIDs: []string{s.cfg.ServiceUUID},
	}
}

func (s *Simulator) StartScan(serviceUUIDs []string, cb func(ScanResult, error)) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrCancelled
	}
	if s.powerState != PowerOn {
		s.mu.Unlock()
		return ErrAdapterOff
	}
	if s.scanStop != nil {
		s.mu.Unlock()
		return fmt.Errorf("scan already in progress")
	}
	stop := make(chan struct{})
	s.scanStop = stop
	s.mu.Unlock()

	match := len(serviceUUIDs) == 0
	for _, u := range serviceUUIDs {
		if s.scanResult().HasService(u) {
			match = true
		}
	}

	s.wg.Add(1)
	SafeGo(s.logger, func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.AdvertPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if match {
					cb(s.scanResult(), nil)
				}
			}
		}
	})
	return nil
}

func (s *Simulator) StopScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanStop != nil {
		close(s.scanStop)
		s.scanStop = nil
	}
	return nil
}

func (s *Simulator) Connect(deviceID string) (Peripheral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.powerState != PowerOn {
		return nil, ErrAdapterOff
	}
	if deviceID != s.cfg.DeviceID {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	s.connected = true
	s.logger.Printf("Simulator: connected to %s", deviceID)
	return &simPeripheral{sim: s}, nil
}

func (s *Simulator) IsConnected(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && deviceID == s.cfg.DeviceID
}

func (s *Simulator) CancelConnection(deviceID string) error {
	if deviceID != s.cfg.DeviceID {
		return nil
	}
	s.dropConnection()
	return nil
}

// dropConnection tears down the link and notifies disconnect listeners.
func (s *Simulator) dropConnection() {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.notifyCb = nil
	if s.notifyStop != nil {
		close(s.notifyStop)
		s.notifyStop = nil
	}
	s.mu.Unlock()
	if wasConnected {
		s.logger.Printf("Simulator: disconnected")
		s.disconnectEvent.Notify(struct{}{})
	}
}

func (s *Simulator) SubscribeToDisconnect(deviceID string, cb func()) func() {
	if deviceID != s.cfg.DeviceID {
		return func() {}
	}
	return s.disconnectEvent.Listen(func(struct{}) { cb() })
}

func (s *Simulator) SubscribeToPowerState(cb func(PowerState), emitCurrent bool) func() {
	release := s.powerEvent.Listen(cb)
	if emitCurrent {
		s.mu.Lock()
		state := s.powerState
		s.mu.Unlock()
		cb(state)
	}
	return release
}

func (s *Simulator) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	s.mu.Unlock()

	_ = s.StopScan()
	s.dropConnection()
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Printf("Simulator: control server shutdown: %v", err)
		}
	}
	s.wg.Wait()
	return nil
}

// encodeHeartRate builds a Heart Rate Measurement payload: flags byte then
// the value, 16-bit little-endian when it does not fit in 8 bits.
func encodeHeartRate(bpm uint16) []byte {
	if bpm > 0xFF {
		return []byte{0x01, byte(bpm & 0xFF), byte(bpm >> 8)}
	}
	return []byte{0x00, byte(bpm)}
}

// startNotifyPump emits heart-rate payloads until the subscription is
// released or the link drops. Caller must hold s.mu.
func (s *Simulator) startNotifyPump(stop chan struct{}) {
	s.wg.Add(1)
	SafeGo(s.logger, func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.NotifyPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				cb := s.notifyCb
				payload := encodeHeartRate(s.bpm)
				s.mu.Unlock()
				if cb != nil {
					cb(payload, nil)
				}
			}
		}
	})
}

// --- control server handlers ---

type simState struct {
	BPM       uint16 `json:"bpm"`
	Connected bool   `json:"connected"`
	Powered   bool   `json:"powered"`
	LocalName string `json:"localName"`
	DeviceID  string `json:"deviceId"`
}

func (s *Simulator) handleState(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	state := simState{
		BPM:       s.bpm,
		Connected: s.connected,
		Powered:   s.powerState == PowerOn,
		LocalName: s.cfg.LocalName,
		DeviceID:  s.cfg.DeviceID,
	}
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(state)
}

func (s *Simulator) handleSet(w http.ResponseWriter, r *http.Request) {
	bpm, err := strconv.ParseUint(r.URL.Query().Get("bpm"), 10, 16)
	if err != nil {
		http.Error(w, "bpm must be an unsigned integer", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.bpm = uint16(bpm)
	s.mu.Unlock()
	s.logger.Printf("Simulator: bpm set to %d", bpm)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Simulator) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.dropConnection()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Simulator) handlePower(w http.ResponseWriter, r *http.Request) {
	on, err := strconv.ParseBool(r.URL.Query().Get("on"))
	if err != nil {
		http.Error(w, "on must be true or false", http.StatusBadRequest)
		return
	}
	if on {
		s.setPowerState(PowerOn)
	} else {
		s.dropConnection()
		_ = s.StopScan()
		s.setPowerState(PowerOff)
	}
	w.WriteHeader(http.StatusNoContent)
}

// simPeripheral is the Peripheral face of the Simulator's one device.
type simPeripheral struct {
	sim *Simulator
}

var _ Peripheral = (*simPeripheral)(nil)

func (p *simPeripheral) ID() string {
	return p.sim.cfg.DeviceID
}

func (p *simPeripheral) DiscoverProfile() error {
	p.sim.mu.Lock()
	defer p.sim.mu.Unlock()
	if !p.sim.connected {
		return ErrDisconnected
	}
	return nil
}

func (p *simPeripheral) Subscribe(serviceUUID, charUUID string, cb func(data []byte, err error)) (func(), error) {
	s := p.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, ErrDisconnected
	}
	if serviceUUID != s.cfg.ServiceUUID || charUUID != s.cfg.CharUUID {
		return nil, fmt.Errorf("characteristic %s not found in service %s", charUUID, serviceUUID)
	}

	s.notifyCb = cb
	stop := make(chan struct{})
	s.notifyStop = stop
	s.startNotifyPump(stop)

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			s.notifyCb = nil
			if s.notifyStop == stop {
				close(s.notifyStop)
				s.notifyStop = nil
			}
			s.mu.Unlock()
		})
	}
	return release, nil
}

func (p *simPeripheral) Disconnect() error {
	p.sim.dropConnection()
	return nil
}
