// Package access defines the closed set of staff roles and what each of them
// is allowed to see and do.
package access

import (
	"errors"
	"fmt"
	"strings"
)

// Role identifies a staff member's position in the church organisation.
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RolePasteur     Role = "pasteur"
	RoleSuperviseur Role = "superviseur"
	RoleReferent    Role = "referent"
	RoleAccueil     Role = "accueil"
)

// ErrUnknownRole is returned by ParseRole for strings outside the enumeration.
var ErrUnknownRole = errors.New("unknown role")

// Roles lists every valid role, most privileged first.
var Roles = []Role{RoleSuperAdmin, RolePasteur, RoleSuperviseur, RoleReferent, RoleAccueil}

// ParseRole converts a stored or submitted role name into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := capabilities[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

func (r Role) String() string { return string(r) }

// Valid reports whether r is part of the enumeration.
func (r Role) Valid() bool {
	_, ok := capabilities[r]
	return ok
}
