package auth

import (
	"errors"
	"fmt"
)

// ErrUnknownRole is returned for a role claim outside the known set.
var ErrUnknownRole = errors.New("auth: unknown role")

// Role is an operator API role. Roles are ordered; a higher role may do what a lower one can.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// ParseRole maps a token claim to a Role.
func ParseRole(value string) (Role, error) {
	role := Role(value)
	if _, ok := roleRanks[role]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, value)
	}
	return role, nil
}

// Allows reports whether r is at least required. Unknown roles allow nothing.
func (r Role) Allows(required Role) bool {
	rank, ok := roleRanks[r]
	return ok && rank >= roleRanks[required]
}
