// Package bt abstracts the BLE central-role stack behind a small adapter
// interface so the connection controller can be driven by real hardware
// (tinygo.org/x/bluetooth) or by the simulator without code changes.
package bt

import (
	"errors"
	"strings"
)

// PowerState describes the adapter radio state.
type PowerState int

const (
	PowerUnknown PowerState = iota
	PowerOn
	PowerOff
	PowerUnauthorized
)

func (s PowerState) String() string {
	switch s {
	case PowerOn:
		return "PoweredOn"
	case PowerOff:
		return "PoweredOff"
	case PowerUnauthorized:
		return "Unauthorized"
	default:
		return "Unknown"
	}
}

// ScanResult is a single advertisement seen during a scan.
type ScanResult struct {
	ID           string // platform device identifier (MAC or OS handle)
	LocalName    string // advertised name, may be empty
	RSSI         int16
	ServiceUUIDs []string
}

// HasService reports whether the advertisement carried the given service UUID.
func (r ScanResult) HasService(uuid string) bool {
	for _, u := range r.ServiceUUIDs {
		if strings.EqualFold(u, uuid) {
			return true
		}
	}
	return false
}

// Sentinel error kinds. Implementations wrap these so callers can classify
// failures with errors.Is instead of matching message text.
var (
	// ErrDisconnected: the peripheral dropped the link or was never connected.
	ErrDisconnected = errors.New("bt: peripheral disconnected")
	// ErrCancelled: the operation was cancelled locally.
	ErrCancelled = errors.New("bt: operation cancelled")
	// ErrAdapterOff: the radio is not powered on.
	ErrAdapterOff = errors.New("bt: adapter not powered on")
	// ErrUnknownDevice: no device with that identifier has been seen.
	ErrUnknownDevice = errors.New("bt: unknown device")
)

// disconnectLikeFragments is the free-text fallback for stacks that cannot
// report structured error kinds.
var disconnectLikeFragments = []string{"cancel", "disconnect", "terminat", "gatt"}

// IsDisconnectLike reports whether err indicates the peripheral is merely
// gone or the operation was torn down, as opposed to a genuine monitoring
// fault. Checks structured kinds first, then falls back to substring
// matching on the message.
func IsDisconnectLike(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDisconnected) || errors.Is(err, ErrCancelled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range disconnectLikeFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// Peripheral is an active connection to a remote device.
type Peripheral interface {
	ID() string
	// DiscoverProfile discovers all services and their characteristics.
	// Must be called once before Subscribe.
	DiscoverProfile() error
	// Subscribe enables notifications on a characteristic. The callback
	// receives either raw payload bytes or a delivery error. The returned
	// release func disables the notification; it is safe to call more
	// than once.
	Subscribe(serviceUUID, charUUID string, cb func(data []byte, err error)) (func(), error)
	// Disconnect drops the link.
	Disconnect() error
}

// Adapter is the BLE central-role capability consumed by the controller.
// Exactly one scan may be active per adapter.
type Adapter interface {
	// Enable powers on the underlying stack.
	Enable() error
	// StartScan begins scanning for advertisements carrying any of the
	// given service UUIDs. Results and scan-level errors are delivered on
	// the callback until StopScan.
	StartScan(serviceUUIDs []string, cb func(ScanResult, error)) error
	StopScan() error
	// Connect opens a connection to a previously scanned device.
	Connect(deviceID string) (Peripheral, error)
	IsConnected(deviceID string) bool
	// CancelConnection force-drops any connection to the device.
	// Returns nil if the device is already disconnected.
	CancelConnection(deviceID string) error
	// SubscribeToDisconnect registers a callback fired when the device
	// drops, however that happens. Returns a release func.
	SubscribeToDisconnect(deviceID string, cb func()) func()
	// SubscribeToPowerState registers a callback for radio state changes.
	// When emitCurrent is true the current state is delivered immediately.
	// Returns a release func.
	SubscribeToPowerState(cb func(PowerState), emitCurrent bool) func()
	// Destroy tears the adapter down. The adapter is unusable afterwards.
	Destroy() error
}
