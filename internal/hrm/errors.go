package hrm

import "errors"

var (
	// ErrDestroyed: the controller was destroyed and accepts no further
	// operations.
	ErrDestroyed = errors.New("hrm: controller destroyed")
	// ErrPermissionDenied: the platform refused the BLE capability set.
	ErrPermissionDenied = errors.New("hrm: bluetooth permission denied")
	// ErrAdapterUnavailable: the adapter did not reach the powered-on
	// state within the bounded wait.
	ErrAdapterUnavailable = errors.New("hrm: adapter unavailable")
)
