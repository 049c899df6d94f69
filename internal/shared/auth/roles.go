// Package auth provides authentication and authorization types for the
// care hub boundary.
package auth

import "fmt"

// ActorKind is the closed set of actor categories. Handlers branch on it
// exhaustively instead of comparing raw role strings.
type ActorKind int

const (
	ActorPatient ActorKind = iota
	ActorClinical
)

func (k ActorKind) String() string {
	switch k {
	case ActorPatient:
		return "patient"
	case ActorClinical:
		return "clinical"
	default:
		return "unknown"
	}
}

// Role represents a user role in the clinic portal.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RoleNurse   Role = "nurse"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
	RolePatient Role = "patient"
)

// Kind maps a role onto the closed actor variant.
func (r Role) Kind() ActorKind {
	if r == RolePatient {
		return ActorPatient
	}
	return ActorClinical
}

// ParseRole validates a role string from a token claim.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleDoctor, RoleNurse, RoleStaff, RoleAdmin, RolePatient:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// CanPrescribe reports whether the role may drive the prescription workflow.
func (r Role) CanPrescribe() bool {
	return r == RoleDoctor
}
