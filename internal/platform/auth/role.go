package auth

import (
	"context"
	"fmt"
)

// Role is the single resolved role of an authenticated caller.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleProfessional Role = "professional"
	RolePatient      Role = "patient"
	RoleWarehouse    Role = "warehouse"
	RolePartner      Role = "partner"
)

var validRoles = map[Role]bool{
	RoleAdmin: true, RoleProfessional: true, RolePatient: true,
	RoleWarehouse: true, RolePartner: true,
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !validRoles[r] {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func (r Role) IsAdmin() bool        { return r == RoleAdmin }
func (r Role) IsProfessional() bool { return r == RoleProfessional }
func (r Role) IsPatient() bool      { return r == RolePatient }

// Principal identifies the caller of a request.
type Principal struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	// ProfileID is the patient or professional record the user maps to, if any.
	ProfileID string `json:"profile_id,omitempty"`
}

type contextKey string

const principalKey contextKey = "principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the caller set by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

func UserIDFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.UserID
}
