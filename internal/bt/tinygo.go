package bt

import (
	"fmt"
	"log"
	"sync"

	"github.com/pulseview/pulseview/internal/events"
	"tinygo.org/x/bluetooth"
)

// TinygoAdapter implements Adapter on top of tinygo.org/x/bluetooth.
//
// The tinygo stack has no cross-platform power-state notification, so the
// adapter derives the state itself: Enable success means PoweredOn, Enable
// failure means PoweredOff. Disconnects are observed through the stack's
// connect handler.
type TinygoAdapter struct {
	adapter *bluetooth.Adapter
	logger  *log.Logger

	mu            sync.Mutex
	addressesByID map[string]bluetooth.Address
	devicesByID   map[string]*bluetooth.Device
	scanStop      chan struct{} // non-nil while a scan is active
	powerState    PowerState
	destroyed     bool

	powerEvent       *events.Event[PowerState]
	disconnectEvents map[string]*events.Event[struct{}]
}

var _ Adapter = (*TinygoAdapter)(nil)

// NewTinygoAdapter wraps a tinygo bluetooth adapter, normally
// bluetooth.DefaultAdapter.
func NewTinygoAdapter(adapter *bluetooth.Adapter, logger *log.Logger) *TinygoAdapter {
	if adapter == nil {
		panic("TinygoAdapter: adapter cannot be nil")
	}
	if logger == nil {
		panic("TinygoAdapter: logger cannot be nil")
	}
	return &TinygoAdapter{
		adapter:          adapter,
		logger:           logger,
		addressesByID:    make(map[string]bluetooth.Address),
		devicesByID:      make(map[string]*bluetooth.Device),
		powerState:       PowerUnknown,
		powerEvent:       events.NewEvent[PowerState](false),
		disconnectEvents: make(map[string]*events.Event[struct{}]),
	}
}

func (a *TinygoAdapter) Enable() error {
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		id := device.Address.String()
		if connected {
			a.logger.Printf("TinygoAdapter: device connected: %s", id)
			a.mu.Lock()
			a.devicesByID[id] = &device
			a.mu.Unlock()
			return
		}

		a.logger.Printf("TinygoAdapter: device disconnected: %s", id)
		a.mu.Lock()
		delete(a.devicesByID, id)
		ev := a.disconnectEvents[id]
		a.mu.Unlock()
		if ev != nil {
			ev.Notify(struct{}{})
		}
	})

	if err := a.adapter.Enable(); err != nil {
		a.setPowerState(PowerOff)
		return fmt.Errorf("enable BLE stack: %w", err)
	}
	a.setPowerState(PowerOn)
	return nil
}

func (a *TinygoAdapter) setPowerState(state PowerState) {
	a.mu.Lock()
	changed := a.powerState != state
	a.powerState = state
	a.mu.Unlock()
	if changed {
		a.powerEvent.Notify(state)
	}
}

func (a *TinygoAdapter) StartScan(serviceUUIDs []string, cb func(ScanResult, error)) error {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return ErrCancelled
	}
	if a.scanStop != nil {
		a.mu.Unlock()
		return fmt.Errorf("scan already in progress")
	}
	stop := make(chan struct{})
	a.scanStop = stop
	a.mu.Unlock()

	filter := make(map[string]struct{}, len(serviceUUIDs))
	for _, u := range serviceUUIDs {
		filter[u] = struct{}{}
	}

	SafeGo(a.logger, func() {
		err := a.adapter.Scan(func(adapter *bluetooth.Adapter, device bluetooth.ScanResult) {
			select {
			case <-stop:
				// Scan stopped, drop late results. StopScan on the
				// adapter has already been requested.
				return
			default:
			}

			result := ScanResult{
				ID:        device.Address.String(),
				LocalName: device.LocalName(),
				RSSI:      device.RSSI,
			}
			for _, uuid := range device.ServiceUUIDs() {
				result.ServiceUUIDs = append(result.ServiceUUIDs, uuid.String())
			}

			if len(filter) > 0 {
				found := false
				for _, u := range result.ServiceUUIDs {
					if _, ok := filter[u]; ok {
						found = true
						break
					}
				}
				if !found {
					return
				}
			}

			a.mu.Lock()
			a.addressesByID[result.ID] = device.Address
			a.mu.Unlock()

			cb(result, nil)
		})
		if err != nil {
			a.logger.Printf("TinygoAdapter: scan error: %v", err)
			select {
			case <-stop:
				// Stopped on purpose, not a scan failure.
			default:
				cb(ScanResult{}, fmt.Errorf("scan: %w", err))
			}
		}
	})
	return nil
}

func (a *TinygoAdapter) StopScan() error {
	a.mu.Lock()
	if a.scanStop == nil {
		a.mu.Unlock()
		return nil
	}
	close(a.scanStop)
	a.scanStop = nil
	a.mu.Unlock()
	return a.adapter.StopScan()
}

func (a *TinygoAdapter) Connect(deviceID string) (Peripheral, error) {
	a.mu.Lock()
	address, ok := a.addressesByID[deviceID]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	device, err := a.adapter.Connect(address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", deviceID, err)
	}

	a.mu.Lock()
	a.devicesByID[deviceID] = &device
	a.mu.Unlock()

	return newTinygoPeripheral(deviceID, &device, a.logger), nil
}

func (a *TinygoAdapter) IsConnected(deviceID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.devicesByID[deviceID]
	return ok
}

func (a *TinygoAdapter) CancelConnection(deviceID string) error {
	a.mu.Lock()
	device, ok := a.devicesByID[deviceID]
	a.mu.Unlock()
	if !ok || device == nil {
		return nil
	}
	if err := device.Disconnect(); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

func (a *TinygoAdapter) SubscribeToDisconnect(deviceID string, cb func()) func() {
	a.mu.Lock()
	ev, ok := a.disconnectEvents[deviceID]
	if !ok {
		ev = events.NewEvent[struct{}](false)
		a.disconnectEvents[deviceID] = ev
	}
	a.mu.Unlock()
	return ev.Listen(func(struct{}) { cb() })
}

func (a *TinygoAdapter) SubscribeToPowerState(cb func(PowerState), emitCurrent bool) func() {
	release := a.powerEvent.Listen(cb)
	if emitCurrent {
		a.mu.Lock()
		state := a.powerState
		a.mu.Unlock()
		cb(state)
	}
	return release
}

// Destroy stops scanning and drops every live connection. The tinygo stack
// has no explicit adapter teardown, so the radio itself stays up.
func (a *TinygoAdapter) Destroy() error {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return nil
	}
	a.destroyed = true
	devices := make([]*bluetooth.Device, 0, len(a.devicesByID))
	for _, d := range a.devicesByID {
		devices = append(devices, d)
	}
	a.devicesByID = make(map[string]*bluetooth.Device)
	a.mu.Unlock()

	if err := a.StopScan(); err != nil {
		a.logger.Printf("TinygoAdapter: stop scan during destroy: %v", err)
	}
	for _, d := range devices {
		if err := d.Disconnect(); err != nil {
			a.logger.Printf("TinygoAdapter: disconnect during destroy: %v", err)
		}
	}
	return nil
}

// tinygoPeripheral wraps a connected bluetooth.Device and caches the
// discovered profile. Services and characteristics are each discovered in a
// single pass; per-service re-discovery interrupts notifications already
// running on earlier services.
type tinygoPeripheral struct {
	id     string
	device *bluetooth.Device
	logger *log.Logger

	mu         sync.Mutex
	discovered bool
	charsByKey map[string]*bluetooth.DeviceCharacteristic
}

func newTinygoPeripheral(id string, device *bluetooth.Device, logger *log.Logger) *tinygoPeripheral {
	return &tinygoPeripheral{
		id:         id,
		device:     device,
		logger:     logger,
		charsByKey: make(map[string]*bluetooth.DeviceCharacteristic),
	}
}

var _ Peripheral = (*tinygoPeripheral)(nil)

func (p *tinygoPeripheral) ID() string {
	return p.id
}

func charKey(serviceUUID, charUUID string) string {
	return serviceUUID + "_" + charUUID
}

func (p *tinygoPeripheral) DiscoverProfile() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.discovered {
		return nil
	}

	services, err := p.device.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("discover services: %w", err)
	}
	for i := range services {
		svc := &services[i]
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return fmt.Errorf("discover characteristics for %s: %w", svc.UUID().String(), err)
		}
		for j := range chars {
			char := &chars[j]
			key := charKey(svc.UUID().String(), char.UUID().String())
			p.charsByKey[key] = char
		}
	}
	p.discovered = true
	return nil
}

func (p *tinygoPeripheral) lookupCharacteristic(serviceUUID, charUUID string) (*bluetooth.DeviceCharacteristic, error) {
	svcParsed, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", serviceUUID, err)
	}
	charParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", charUUID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.discovered {
		return nil, fmt.Errorf("profile not discovered for %s", p.id)
	}
	char, ok := p.charsByKey[charKey(svcParsed.String(), charParsed.String())]
	if !ok {
		return nil, fmt.Errorf("characteristic %s not found in service %s", charUUID, serviceUUID)
	}
	return char, nil
}

func (p *tinygoPeripheral) Subscribe(serviceUUID, charUUID string, cb func(data []byte, err error)) (func(), error) {
	char, err := p.lookupCharacteristic(serviceUUID, charUUID)
	if err != nil {
		return nil, err
	}

	if err := char.EnableNotifications(func(buf []byte) {
		cb(buf, nil)
	}); err != nil {
		return nil, fmt.Errorf("enable notifications on %s: %w", charUUID, err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// nil callback disables notifications on the tinygo stack.
			if err := char.EnableNotifications(nil); err != nil {
				p.logger.Printf("tinygoPeripheral: disable notifications on %s: %v", charUUID, err)
			}
		})
	}
	return release, nil
}

func (p *tinygoPeripheral) Disconnect() error {
	if err := p.device.Disconnect(); err != nil {
		return fmt.Errorf("disconnect %s: %w", p.id, err)
	}
	return nil
}
