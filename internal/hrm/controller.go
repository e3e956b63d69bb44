// Package hrm implements the heart-rate monitor connection lifecycle:
// permission gating, adapter readiness, scanning with timeout, connect and
// discovery, notification decoding, and disconnect recovery.
package hrm

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pulseview/pulseview/internal/bt"
	"github.com/pulseview/pulseview/internal/events"
)

// activePeripheral is the at-most-one connected device and its two live
// subscriptions. Both release funcs are always cleared together.
type activePeripheral struct {
	id                string
	name              string
	peripheral        bt.Peripheral
	releaseNotify     func()
	releaseDisconnect func()
}

// Controller drives the BLE central role for a single heart-rate
// peripheral. It exclusively owns the adapter handle, the scan session, the
// active peripheral, and all subscriptions.
//
// Adapter events arrive on arbitrary goroutines; a single mutex serializes
// controller state, and every operation re-checks the destroyed flag and
// the scan generation after blocking calls, so late events are no-ops.
type Controller struct {
	adapter bt.Adapter
	perms   PermissionRequester
	cfg     Config
	decoder Decoder
	logger  *log.Logger

	mu          sync.Mutex
	state       ConnectionState
	destroyed   bool
	scanning    bool
	scanTimer   *time.Timer
	scanSeq     uint64 // bumped on every scan start/stop; stale scan events compare and bail
	readySeq    uint64
	readyCancel func()
	rescanTimer *time.Timer
	peripheral  *activePeripheral

	stateEvent    *events.Event[ConnectionState]
	scanningEvent *events.Event[bool]
	nameEvent     *events.Event[*string]
	heartEvent    *events.Event[*int]
}

// NewController wires the controller to its collaborators. The adapter must
// already be enabled. Config zero values fall back to defaults.
func NewController(adapter bt.Adapter, perms PermissionRequester, cfg Config, logger *log.Logger) (*Controller, error) {
	if adapter == nil {
		panic("Controller: adapter cannot be nil")
	}
	if perms == nil {
		panic("Controller: perms cannot be nil")
	}
	if logger == nil {
		panic("Controller: logger cannot be nil")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		adapter:       adapter,
		perms:         perms,
		cfg:           cfg,
		decoder:       Decoder{Min: cfg.HeartRateMin, Max: cfg.HeartRateMax},
		logger:        logger,
		state:         StateIdle,
		stateEvent:    events.NewEvent[ConnectionState](true),
		scanningEvent: events.NewEvent[bool](true),
		nameEvent:     events.NewEvent[*string](true),
		heartEvent:    events.NewEvent[*int](true),
	}, nil
}

// --- observable events ---

// ListenToConnectionState registers a listener for state transitions.
// Returns a deregistration func. The current state is replayed on listen.
func (c *Controller) ListenToConnectionState(cb func(ConnectionState)) func() {
	return c.stateEvent.Listen(cb)
}

// ListenToScanning registers a listener for the scanning flag.
func (c *Controller) ListenToScanning(cb func(bool)) func() {
	return c.scanningEvent.Listen(cb)
}

// ListenToDeviceName registers a listener for the connected device's name;
// nil means no device.
func (c *Controller) ListenToDeviceName(cb func(*string)) func() {
	return c.nameEvent.Listen(cb)
}

// ListenToHeartRate registers a listener for decoded BPM samples; nil means
// no current reading.
func (c *Controller) ListenToHeartRate(cb func(*int)) func() {
	return c.heartEvent.Listen(cb)
}

// State returns the current connection state.
func (c *Controller) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsScanning reports whether a scan is in progress.
func (c *Controller) IsScanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanning
}

func (c *Controller) setState(state ConnectionState) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	changed := c.state != state
	c.state = state
	c.mu.Unlock()
	if changed {
		c.logger.Printf("Controller: state -> %s", state)
		c.stateEvent.Notify(state)
	}
}

// --- public operations ---

// Start acquires permissions, waits for the adapter to power on, and begins
// scanning for a qualifying peripheral. Calling Start while a scan is
// already in progress is a no-op.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if c.scanning {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if !c.requestPermissions() {
		c.setState(StatePermissionDenied)
		return ErrPermissionDenied
	}

	if err := c.waitForPoweredOn(); err != nil {
		c.setState(StateBluetoothOff)
		return err
	}

	// Permission and power waits are suspension points; re-check.
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if c.scanning {
		c.mu.Unlock()
		return nil
	}
	// Unsubscribe-first: stale subscriptions from a prior session must be
	// gone before a new scan can hand us a new peripheral.
	c.clearSubscriptionsLocked()
	c.scanSeq++
	seq := c.scanSeq
	c.scanning = true
	c.scanTimer = time.AfterFunc(c.cfg.ScanTimeout, func() { c.onScanTimeout(seq) })
	c.mu.Unlock()

	c.scanningEvent.Notify(true)
	c.setState(StateScanning)

	err := c.adapter.StartScan(c.cfg.ServiceUUIDs, func(result bt.ScanResult, scanErr error) {
		c.onScanEvent(seq, result, scanErr)
	})
	if err != nil {
		c.logger.Printf("Controller: failed to start scan: %v", err)
		c.mu.Lock()
		stopped := c.stopScanLocked(seq)
		c.mu.Unlock()
		if stopped {
			c.scanningEvent.Notify(false)
		}
		c.setState(StateScanError)
		return fmt.Errorf("start scan: %w", err)
	}
	return nil
}

// Stop stops any scan and disconnects the active peripheral. Disconnect
// with nothing connected is a no-op. Cleanup errors are logged and
// swallowed: not-connected is already the desired end state.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	wasScanning := c.stopScanLocked(c.scanSeq)
	ap := c.peripheral
	c.clearSubscriptionsLocked()
	c.mu.Unlock()

	if wasScanning {
		c.scanningEvent.Notify(false)
	}
	if ap == nil {
		if wasScanning {
			c.setState(StateIdle)
		}
		return nil
	}

	if err := c.adapter.CancelConnection(ap.id); err != nil {
		c.logger.Printf("Controller: disconnect %s: %v (ignored)", ap.id, err)
	}
	c.nameEvent.Notify(nil)
	c.heartEvent.Notify(nil)
	c.setState(StateDisconnected)
	return nil
}

// Disconnect is the operator-facing alias for Stop.
func (c *Controller) Disconnect() error {
	return c.Stop()
}

// Rescan stops scanning, force-disconnects the current peripheral, clears
// the device name and heart rate, and re-enters Start after a debounce.
func (c *Controller) Rescan() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	c.mu.Unlock()

	if err := c.Stop(); err != nil {
		return err
	}
	c.scheduleRescan()
	return nil
}

func (c *Controller) scheduleRescan() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	if c.rescanTimer != nil {
		c.rescanTimer.Stop()
	}
	c.rescanTimer = time.AfterFunc(c.cfg.RescanDebounce, func() {
		c.mu.Lock()
		destroyed := c.destroyed
		c.mu.Unlock()
		if destroyed {
			return
		}
		if err := c.Start(); err != nil {
			c.logger.Printf("Controller: rescan start: %v", err)
		}
	})
	c.mu.Unlock()
}

// Destroy tears everything down: subscriptions, scan, connection, adapter.
// Terminal; the controller is not reusable. Safe to call more than once.
// No events are emitted afterwards.
func (c *Controller) Destroy() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	if c.scanTimer != nil {
		c.scanTimer.Stop()
		c.scanTimer = nil
	}
	if c.rescanTimer != nil {
		c.rescanTimer.Stop()
		c.rescanTimer = nil
	}
	if c.readyCancel != nil {
		c.readyCancel()
		c.readyCancel = nil
	}
	c.scanning = false
	c.scanSeq++
	ap := c.peripheral
	c.clearSubscriptionsLocked()
	c.mu.Unlock()

	if err := c.adapter.StopScan(); err != nil {
		c.logger.Printf("Controller: stop scan during destroy: %v (ignored)", err)
	}
	if ap != nil && c.adapter.IsConnected(ap.id) {
		if err := c.adapter.CancelConnection(ap.id); err != nil {
			c.logger.Printf("Controller: cancel connection during destroy: %v (ignored)", err)
		}
	}
	if err := c.adapter.Destroy(); err != nil {
		c.logger.Printf("Controller: adapter destroy: %v (ignored)", err)
	}
	return nil
}

// --- permission & adapter readiness gate ---

// requestPermissions asks the platform collaborator for the BLE capability
// set. Any failure counts as denial.
func (c *Controller) requestPermissions() bool {
	required := RequiredPermissions(true)
	granted, err := c.perms.Request(required)
	if err != nil {
		c.logger.Printf("Controller: permission request failed: %v", err)
		return false
	}
	for _, p := range required {
		if !granted[p] {
			c.logger.Printf("Controller: permission %s denied", p)
			return false
		}
	}
	return true
}

// waitForPoweredOn blocks until the adapter reports powered-on, bounded by
// AdapterReadyTimeout. Idempotent: a new wait replaces any outstanding one
// instead of stacking power-state subscriptions.
func (c *Controller) waitForPoweredOn() error {
	ready := make(chan struct{})
	var readyOnce sync.Once

	release := c.adapter.SubscribeToPowerState(func(state bt.PowerState) {
		switch state {
		case bt.PowerOn:
			readyOnce.Do(func() { close(ready) })
		case bt.PowerOff, bt.PowerUnauthorized:
			// Surface the condition but keep waiting: only the
			// timeout fails the gate.
			c.setState(StateBluetoothOff)
		}
	}, true)

	cancelled := make(chan struct{})
	var cancelOnce sync.Once
	cancel := func() {
		cancelOnce.Do(func() {
			close(cancelled)
			release()
		})
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		cancel()
		return ErrDestroyed
	}
	if c.readyCancel != nil {
		c.readyCancel()
	}
	c.readySeq++
	seq := c.readySeq
	c.readyCancel = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.readySeq == seq {
			c.readyCancel = nil
		}
		c.mu.Unlock()
		cancel()
	}()

	timeout := time.NewTimer(c.cfg.AdapterReadyTimeout)
	defer timeout.Stop()

	select {
	case <-ready:
		return nil
	case <-cancelled:
		return fmt.Errorf("%w: wait cancelled", ErrAdapterUnavailable)
	case <-timeout.C:
		return fmt.Errorf("%w: not powered on within %v", ErrAdapterUnavailable, c.cfg.AdapterReadyTimeout)
	}
}

// --- scan session ---

// stopScanLocked performs the unconditional scan-stop steps: cancel the
// pending timeout, request adapter-level stop, clear stale subscriptions,
// and drop the scanning flag. Returns whether the flag changed so the
// caller can notify outside the lock. Caller must hold c.mu.
func (c *Controller) stopScanLocked(seq uint64) bool {
	if seq != c.scanSeq {
		return false
	}
	c.scanSeq++
	if c.scanTimer != nil {
		c.scanTimer.Stop()
		c.scanTimer = nil
	}
	if err := c.adapter.StopScan(); err != nil {
		c.logger.Printf("Controller: stop scan: %v (ignored)", err)
	}
	c.clearSubscriptionsLocked()
	wasScanning := c.scanning
	c.scanning = false
	return wasScanning
}

// qualifies applies the first-match policy: the advertisement must carry a
// target service and a non-empty name. Noise advertisements rarely bother
// with a local name.
func (c *Controller) qualifies(result bt.ScanResult) bool {
	if result.LocalName == "" {
		return false
	}
	for _, uuid := range c.cfg.ServiceUUIDs {
		if result.HasService(uuid) {
			return true
		}
	}
	return false
}

// onScanEvent handles one scan callback. The first terminal event — scan
// error, qualifying match, or timeout — wins and stops the scan; anything
// arriving after that is dropped by the sequence check.
func (c *Controller) onScanEvent(seq uint64, result bt.ScanResult, scanErr error) {
	c.mu.Lock()
	if c.destroyed || seq != c.scanSeq || !c.scanning {
		c.mu.Unlock()
		return
	}

	if scanErr != nil {
		c.stopScanLocked(seq)
		c.mu.Unlock()
		c.logger.Printf("Controller: scan error: %v", scanErr)
		c.scanningEvent.Notify(false)
		c.setState(StateScanError)
		return
	}

	if !c.qualifies(result) {
		c.mu.Unlock()
		return
	}

	// Stop scanning before connecting so the adapter is never asked to do
	// both at once and further matches cannot race this one.
	c.stopScanLocked(seq)
	c.mu.Unlock()

	c.scanningEvent.Notify(false)
	c.setState(StateConnecting)
	c.connect(result)
}

func (c *Controller) onScanTimeout(seq uint64) {
	c.mu.Lock()
	if c.destroyed || seq != c.scanSeq || !c.scanning {
		c.mu.Unlock()
		return
	}
	c.stopScanLocked(seq)
	c.mu.Unlock()

	c.logger.Printf("Controller: no qualifying device within %v", c.cfg.ScanTimeout)
	c.scanningEvent.Notify(false)
	c.setState(StateNoDevice)
}

// --- connect & subscriptions ---

func (c *Controller) connect(result bt.ScanResult) {
	peripheral, err := c.adapter.Connect(result.ID)
	if err == nil {
		err = peripheral.DiscoverProfile()
	}
	if err != nil {
		c.logger.Printf("Controller: connect %s: %v", result.ID, err)
		c.setState(StateConnectError)
		c.retryStart()
		return
	}

	// Connect and discovery are suspension points; re-check before taking
	// ownership, and never leave old subscriptions behind the new ones.
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		if discErr := peripheral.Disconnect(); discErr != nil {
			c.logger.Printf("Controller: disconnect after destroy: %v (ignored)", discErr)
		}
		return
	}
	c.clearSubscriptionsLocked()
	ap := &activePeripheral{id: result.ID, name: result.LocalName, peripheral: peripheral}
	c.peripheral = ap
	c.mu.Unlock()

	releaseNotify, err := peripheral.Subscribe(c.cfg.NotifyServiceUUID, c.cfg.NotifyCharUUID,
		func(data []byte, notifyErr error) { c.onNotification(result.ID, data, notifyErr) })
	if err != nil {
		c.logger.Printf("Controller: subscribe %s: %v", result.ID, err)
		c.mu.Lock()
		if c.peripheral == ap {
			c.clearSubscriptionsLocked()
		}
		c.mu.Unlock()
		if discErr := peripheral.Disconnect(); discErr != nil {
			c.logger.Printf("Controller: disconnect after failed subscribe: %v (ignored)", discErr)
		}
		c.setState(StateConnectError)
		c.retryStart()
		return
	}

	releaseDisconnect := c.adapter.SubscribeToDisconnect(result.ID, func() { c.onDisconnected(result.ID) })

	c.mu.Lock()
	if c.destroyed || c.peripheral != ap {
		// Destroy or rescan won the race while we were subscribing.
		c.mu.Unlock()
		releaseNotify()
		releaseDisconnect()
		return
	}
	ap.releaseNotify = releaseNotify
	ap.releaseDisconnect = releaseDisconnect
	c.mu.Unlock()

	name := result.LocalName
	c.nameEvent.Notify(&name)
	c.setState(StateConnected)
	c.logger.Printf("Controller: connected to %s (%s)", name, result.ID)
}

// retryStart re-enters Start after a connect failure.
func (c *Controller) retryStart() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	bt.SafeGo(c.logger, func() {
		if err := c.Start(); err != nil {
			c.logger.Printf("Controller: retry start: %v", err)
		}
	})
}

// onNotification handles one notification callback from the subscription.
func (c *Controller) onNotification(deviceID string, data []byte, notifyErr error) {
	c.mu.Lock()
	if c.destroyed || c.peripheral == nil || c.peripheral.id != deviceID {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if notifyErr != nil {
		if bt.IsDisconnectLike(notifyErr) {
			// Transient reporting noise around teardown, not a
			// monitoring fault.
			c.logger.Printf("Controller: ignorable monitor error: %v", notifyErr)
			return
		}
		c.logger.Printf("Controller: monitor error: %v", notifyErr)
		// Subscription stays alive; such errors do not mean the link
		// is gone.
		c.setState(StateMonitorError)
		return
	}

	bpm, ok := c.decoder.Decode(data)
	if !ok {
		return
	}
	c.heartEvent.Notify(&bpm)
}

// onDisconnected handles an adapter-reported disconnect, operator-driven or
// not.
func (c *Controller) onDisconnected(deviceID string) {
	c.mu.Lock()
	if c.destroyed || c.peripheral == nil || c.peripheral.id != deviceID {
		c.mu.Unlock()
		return
	}
	c.clearSubscriptionsLocked()
	c.mu.Unlock()

	c.logger.Printf("Controller: peripheral %s disconnected", deviceID)
	c.nameEvent.Notify(nil)
	c.heartEvent.Notify(nil)
	c.setState(StateDisconnected)

	if c.cfg.AutoRescanOnDisconnect {
		c.scheduleRescan()
	}
}

// clearSubscriptionsLocked releases both subscriptions of the active
// peripheral, together and before anything else happens. Caller must hold
// c.mu.
func (c *Controller) clearSubscriptionsLocked() {
	ap := c.peripheral
	if ap == nil {
		return
	}
	c.peripheral = nil
	if ap.releaseNotify != nil {
		ap.releaseNotify()
	}
	if ap.releaseDisconnect != nil {
		ap.releaseDisconnect()
	}
}
