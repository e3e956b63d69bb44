package hrm

import (
	"sync"

	"github.com/pulseview/pulseview/internal/bt"
)

// mockAdapter simulates the BLE adapter collaborator. Tests drive it by
// delivering scan results, power-state changes, disconnects, and
// notifications; it records subscription bookkeeping so invariants can be
// asserted.
type mockAdapter struct {
	mu sync.Mutex

	power    bt.PowerState
	powerCbs map[uint64]func(bt.PowerState)
	nextID   uint64

	scanning      bool
	scanCb        func(bt.ScanResult, error)
	stopScanCalls int

	connectErr   error
	discoverErr  error
	subscribeErr error

	peripheral    *mockPeripheral // most recent connection
	connected     map[string]bool
	disconnectCbs map[string]map[uint64]func()
	cancelCalls   []string

	activeSubs    int
	maxActiveSubs int
	subLog        []string // interleaving of subscribe/unsubscribe calls

	destroyCalls int
}

var _ bt.Adapter = (*mockAdapter)(nil)

func newMockAdapter() *mockAdapter {
	return &mockAdapter{
		power:         bt.PowerOn,
		powerCbs:      make(map[uint64]func(bt.PowerState)),
		connected:     make(map[string]bool),
		disconnectCbs: make(map[string]map[uint64]func()),
	}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) StartScan(serviceUUIDs []string, cb func(bt.ScanResult, error)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanning = true
	a.scanCb = cb
	return nil
}

func (a *mockAdapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanning = false
	a.stopScanCalls++
	return nil
}

// deliver feeds a scan result to whatever callback is registered, even after
// StopScan, so tests can verify late events are ignored.
func (a *mockAdapter) deliver(result bt.ScanResult) {
	a.mu.Lock()
	cb := a.scanCb
	a.mu.Unlock()
	if cb != nil {
		cb(result, nil)
	}
}

func (a *mockAdapter) deliverError(err error) {
	a.mu.Lock()
	cb := a.scanCb
	a.mu.Unlock()
	if cb != nil {
		cb(bt.ScanResult{}, err)
	}
}

func (a *mockAdapter) Connect(deviceID string) (bt.Peripheral, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	p := &mockPeripheral{adapter: a, id: deviceID}
	a.peripheral = p
	a.connected[deviceID] = true
	return p, nil
}

func (a *mockAdapter) IsConnected(deviceID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected[deviceID]
}

func (a *mockAdapter) CancelConnection(deviceID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.connected, deviceID)
	a.cancelCalls = append(a.cancelCalls, deviceID)
	return nil
}

// simulateDisconnect drops the link and fires the registered disconnect
// callbacks, like an unsolicited peripheral-side disconnect.
func (a *mockAdapter) simulateDisconnect(deviceID string) {
	a.mu.Lock()
	delete(a.connected, deviceID)
	cbs := make([]func(), 0, len(a.disconnectCbs[deviceID]))
	for _, cb := range a.disconnectCbs[deviceID] {
		cbs = append(cbs, cb)
	}
	a.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

func (a *mockAdapter) SubscribeToDisconnect(deviceID string, cb func()) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	if a.disconnectCbs[deviceID] == nil {
		a.disconnectCbs[deviceID] = make(map[uint64]func())
	}
	a.disconnectCbs[deviceID][id] = cb
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.disconnectCbs[deviceID], id)
	}
}

func (a *mockAdapter) disconnectSubCount(deviceID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.disconnectCbs[deviceID])
}

func (a *mockAdapter) SubscribeToPowerState(cb func(bt.PowerState), emitCurrent bool) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.powerCbs[id] = cb
	current := a.power
	a.mu.Unlock()
	if emitCurrent {
		cb(current)
	}
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.powerCbs, id)
	}
}

func (a *mockAdapter) setPower(state bt.PowerState) {
	a.mu.Lock()
	a.power = state
	cbs := make([]func(bt.PowerState), 0, len(a.powerCbs))
	for _, cb := range a.powerCbs {
		cbs = append(cbs, cb)
	}
	a.mu.Unlock()
	for _, cb := range cbs {
		cb(state)
	}
}

func (a *mockAdapter) Destroy() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.destroyCalls++
	return nil
}

func (a *mockAdapter) snapshotSubs() (active, max int, log []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activeSubs, a.maxActiveSubs, append([]string(nil), a.subLog...)
}

// mockPeripheral simulates a connected device.
type mockPeripheral struct {
	adapter *mockAdapter
	id      string

	mu         sync.Mutex
	discovered bool
	notifyCb   func([]byte, error)
}

var _ bt.Peripheral = (*mockPeripheral)(nil)

func (p *mockPeripheral) ID() string { return p.id }

func (p *mockPeripheral) DiscoverProfile() error {
	p.adapter.mu.Lock()
	err := p.adapter.discoverErr
	p.adapter.mu.Unlock()
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.discovered = true
	p.mu.Unlock()
	return nil
}

func (p *mockPeripheral) Subscribe(serviceUUID, charUUID string, cb func([]byte, error)) (func(), error) {
	a := p.adapter
	a.mu.Lock()
	if a.subscribeErr != nil {
		err := a.subscribeErr
		a.mu.Unlock()
		return nil, err
	}
	a.activeSubs++
	if a.activeSubs > a.maxActiveSubs {
		a.maxActiveSubs = a.activeSubs
	}
	a.subLog = append(a.subLog, "subscribe "+p.id)
	a.mu.Unlock()

	p.mu.Lock()
	p.notifyCb = cb
	p.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			a.mu.Lock()
			a.activeSubs--
			a.subLog = append(a.subLog, "unsubscribe "+p.id)
			a.mu.Unlock()
			p.mu.Lock()
			p.notifyCb = nil
			p.mu.Unlock()
		})
	}
	return release, nil
}

// notify pushes a notification payload or delivery error to the subscriber.
func (p *mockPeripheral) notify(data []byte, err error) {
	p.mu.Lock()
	cb := p.notifyCb
	p.mu.Unlock()
	if cb != nil {
		cb(data, err)
	}
}

func (p *mockPeripheral) Disconnect() error {
	p.adapter.mu.Lock()
	delete(p.adapter.connected, p.id)
	p.adapter.mu.Unlock()
	return nil
}
