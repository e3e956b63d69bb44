package hrm

import (
	"fmt"
	"time"
)

// Config is the controller's immutable configuration, supplied once at
// construction.
type Config struct {
	// Accepted BPM range; decoded values outside it are dropped silently.
	HeartRateMin int
	HeartRateMax int

	// Services a qualifying advertisement must carry.
	ServiceUUIDs []string

	// Service/characteristic pair to subscribe to after connecting.
	NotifyServiceUUID string
	NotifyCharUUID    string

	ScanTimeout         time.Duration
	AdapterReadyTimeout time.Duration
	RescanDebounce      time.Duration

	// AutoRescanOnDisconnect schedules a rescan when the peripheral drops
	// without operator action. Off by default: an unexpected disconnect
	// leaves the choice to the operator.
	AutoRescanOnDisconnect bool
}

// DefaultConfig returns the standard Heart Rate profile configuration.
func DefaultConfig() Config {
	return Config{
		HeartRateMin:        DefaultHeartRateMin,
		HeartRateMax:        DefaultHeartRateMax,
		ServiceUUIDs:        []string{ServiceUUIDHeartRate},
		NotifyServiceUUID:   ServiceUUIDHeartRate,
		NotifyCharUUID:      CharUUIDHeartRateMeasurement,
		ScanTimeout:         DefaultScanTimeout,
		AdapterReadyTimeout: DefaultAdapterReadyTimeout,
		RescanDebounce:      DefaultRescanDebounce,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HeartRateMin == 0 {
		c.HeartRateMin = def.HeartRateMin
	}
	if c.HeartRateMax == 0 {
		c.HeartRateMax = def.HeartRateMax
	}
	if len(c.ServiceUUIDs) == 0 {
		c.ServiceUUIDs = def.ServiceUUIDs
	}
	if c.NotifyServiceUUID == "" {
		c.NotifyServiceUUID = def.NotifyServiceUUID
	}
	if c.NotifyCharUUID == "" {
		c.NotifyCharUUID = def.NotifyCharUUID
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = def.ScanTimeout
	}
	if c.AdapterReadyTimeout <= 0 {
		c.AdapterReadyTimeout = def.AdapterReadyTimeout
	}
	if c.RescanDebounce <= 0 {
		c.RescanDebounce = def.RescanDebounce
	}
	return c
}

// Validate rejects configurations the controller cannot run with.
func (c Config) Validate() error {
	if c.HeartRateMin < 0 || c.HeartRateMax <= c.HeartRateMin {
		return fmt.Errorf("invalid heart rate range [%d, %d]", c.HeartRateMin, c.HeartRateMax)
	}
	return nil
}
