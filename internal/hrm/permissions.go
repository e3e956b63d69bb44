package hrm

// Permission is a named runtime capability the platform may require before
// BLE scanning or connecting is allowed.
type Permission string

const (
	PermissionBluetoothScan    Permission = "bluetooth_scan"
	PermissionBluetoothConnect Permission = "bluetooth_connect"
	PermissionFineLocation     Permission = "fine_location"
	PermissionCoarseLocation   Permission = "coarse_location"
)

// PermissionRequester is the platform permission collaborator. Request
// returns the grant result per permission; any request failure is treated
// by the controller as denial.
type PermissionRequester interface {
	Request(perms []Permission) (map[Permission]bool, error)
}

// RequiredPermissions returns the capability set for the platform's BLE
// permission model. The modern model requires explicit scan and connect
// capabilities on top of location; the older model only fine location.
func RequiredPermissions(modernModel bool) []Permission {
	if modernModel {
		return []Permission{
			PermissionBluetoothScan,
			PermissionBluetoothConnect,
			PermissionCoarseLocation,
			PermissionFineLocation,
		}
	}
	return []Permission{PermissionFineLocation}
}

// GrantedPermissions is the no-op requester for platforms without a runtime
// permission model: everything is granted.
type GrantedPermissions struct{}

var _ PermissionRequester = GrantedPermissions{}

func (GrantedPermissions) Request(perms []Permission) (map[Permission]bool, error) {
	granted := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		granted[p] = true
	}
	return granted, nil
}
