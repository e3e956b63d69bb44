package hrm

import "time"

// Bluetooth SIG UUIDs for the Heart Rate profile
const (
	ServiceUUIDHeartRate         = "0000180d-0000-1000-8000-00805f9b34fb"
	CharUUIDHeartRateMeasurement = "00002a37-0000-1000-8000-00805f9b34fb"
)

// Defaults applied by Config.withDefaults
const (
	DefaultHeartRateMin        = 30
	DefaultHeartRateMax        = 220
	DefaultScanTimeout         = 12 * time.Second
	DefaultAdapterReadyTimeout = 7 * time.Second
	DefaultRescanDebounce      = 300 * time.Millisecond
)
