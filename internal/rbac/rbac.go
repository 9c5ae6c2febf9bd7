package rbac

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownRole      = errors.New("rbac: unknown role")
	ErrCapabilityDenied = errors.New("rbac: capability denied")
)

// Role is one of the three operator roles recognised by the console.
type Role string

const (
	RoleOwner   Role = "Owner"
	RoleAdmin   Role = "Admin"
	RoleAuditor Role = "Auditor"
)

// Capability is a named permission granted per role.
type Capability string

const (
	CapManageTenants Capability = "manageTenants"
	CapManageUsers   Capability = "manageUsers"
	CapEditPolicies  Capability = "editPolicies"
	CapViewDevices   Capability = "viewDevices"
)

// Capabilities is the flat permission set for a role.
type Capabilities struct {
	ManageTenants bool
	ManageUsers   bool
	EditPolicies  bool
	ViewDevices   bool
}

// Allows reports whether the capability is granted.
func (c Capabilities) Allows(cap Capability) bool {
	switch cap {
	case CapManageTenants:
		return c.ManageTenants
	case CapManageUsers:
		return c.ManageUsers
	case CapEditPolicies:
		return c.EditPolicies
	case CapViewDevices:
		return c.ViewDevices
	default:
		return false
	}
}

// capabilities is the sole authority for capability-gated operations.
// Immutable for the process lifetime.
var capabilities = map[Role]Capabilities{
	RoleOwner: {
		ManageTenants: true,
		ManageUsers:   true,
		EditPolicies:  true,
		ViewDevices:   true,
	},
	RoleAdmin: {
		ManageTenants: false,
		ManageUsers:   true,
		EditPolicies:  true,
		ViewDevices:   true,
	},
	RoleAuditor: {
		ManageTenants: false,
		ManageUsers:   false,
		EditPolicies:  false,
		ViewDevices:   true,
	},
}

// hierarchy ranks roles for "at least as privileged as" checks. This ordinal
// model lives beside the capability table; the two are used where the console
// originally used each and are not derived from one another.
var hierarchy = map[Role]int{
	RoleOwner:   3,
	RoleAdmin:   2,
	RoleAuditor: 1,
}

// RoleCapabilities returns the fixed capability set for the role.
func RoleCapabilities(role Role) (Capabilities, error) {
	caps, ok := capabilities[role]
	if !ok {
		return Capabilities{}, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	return caps, nil
}

// KnownRole reports whether the role is one of the recognised roles.
func KnownRole(role Role) bool {
	_, ok := capabilities[role]
	return ok
}

// Roles lists the recognised roles in descending privilege order.
func Roles() []Role {
	return []Role{RoleOwner, RoleAdmin, RoleAuditor}
}

// AssertRoleAllows fails when the role does not grant the capability.
func AssertRoleAllows(role Role, cap Capability) error {
	caps, err := RoleCapabilities(role)
	if err != nil {
		return err
	}
	if !caps.Allows(cap) {
		return fmt.Errorf("%w: %s role does not allow %s", ErrCapabilityDenied, role, cap)
	}
	return nil
}

// Rank returns the ordinal privilege level of the role.
func Rank(role Role) (int, error) {
	level, ok := hierarchy[role]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	return level, nil
}

func CanEditPolicies(role Role) bool  { return allows(role, CapEditPolicies) }
func CanManageUsers(role Role) bool   { return allows(role, CapManageUsers) }
func CanManageTenants(role Role) bool { return allows(role, CapManageTenants) }
func CanViewDevices(role Role) bool   { return allows(role, CapViewDevices) }

func allows(role Role, cap Capability) bool {
	caps, err := RoleCapabilities(role)
	if err != nil {
		return false
	}
	return caps.Allows(cap)
}
