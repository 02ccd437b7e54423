package auth

import "errors"

// Role determines what a token holder may do.
type Role string

const (
	// RoleOperator can run treatments: arm, engage, pause, resume, and
	// control protocols.
	RoleOperator Role = "operator"

	// RoleSupervisor has everything operator can do plus fault recovery
	// (supervisor clear). Supervisor credentials are held separately
	// from the treatment console.
	RoleSupervisor Role = "supervisor"
)

// ValidRoles lists all recognised roles.
var ValidRoles = []Role{RoleOperator, RoleSupervisor}

// Valid reports whether the role is recognised.
func (r Role) Valid() bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Allows reports whether a holder of role r may act as required.
// Supervisor subsumes operator.
func (r Role) Allows(required Role) bool {
	if r == required {
		return true
	}
	return r == RoleSupervisor && required == RoleOperator
}

// Sentinel errors for token validation.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrRoleDenied   = errors.New("role does not permit this operation")
)
