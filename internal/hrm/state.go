package hrm

// ConnectionState is the single source of truth for the controller's
// lifecycle position. Exactly one value is current at any time.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateScanning
	StateConnecting
	StateConnected
	StateDisconnected
	StateNoDevice
	StatePermissionDenied
	StateBluetoothOff
	StateScanError
	StateConnectError
	StateMonitorError
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateNoDevice:
		return "no_device"
	case StatePermissionDenied:
		return "permission_denied"
	case StateBluetoothOff:
		return "bluetooth_off"
	case StateScanError:
		return "scan_error"
	case StateConnectError:
		return "connect_error"
	case StateMonitorError:
		return "monitor_error"
	default:
		return "unknown"
	}
}
