package model

import "strings"

// Role is the coarse role carried by an authentication token.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleDriver     Role = "DRIVER"
)

// ParseRole normalises a role claim.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleAdmin, RoleSuperAdmin, RoleDriver:
		return r, true
	}
	return "", false
}

// Capability is a permission granted to an actor.
type Capability uint8

const (
	CapDriver Capability = 1 << iota
	CapAdmin
	CapSuperAdmin
)

func (c Capability) String() string {
	switch c {
	case CapDriver:
		return "DRIVER"
	case CapAdmin:
		return "ADMIN"
	case CapSuperAdmin:
		return "SUPER_ADMIN"
	}
	return "UNKNOWN"
}

// Actor is the authenticated principal of a request or socket.
type Actor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// System is the actor attached to automatic transitions.
var System = Actor{ID: "system", Username: "system"}

// Capabilities returns the capability set granted by the actor's role.
// SUPER_ADMIN implies ADMIN.
func (a Actor) Capabilities() Capability {
	switch a.Role {
	case RoleDriver:
		return CapDriver
	case RoleAdmin:
		return CapAdmin
	case RoleSuperAdmin:
		return CapAdmin | CapSuperAdmin
	}
	return 0
}

// Can reports whether the actor holds capability c.
func (a Actor) Can(c Capability) bool { return a.Capabilities()&c == c }

// IsAdmin reports whether the actor has administrative rights.
func (a Actor) IsAdmin() bool { return a.Can(CapAdmin) }
