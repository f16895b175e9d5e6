package domain

import "fmt"

type Role string

const (
	RoleAdmin           Role = "ADMIN"
	RoleFrontendService Role = "FRONTEND_SERVICE"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleFrontendService:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) MarshalText() ([]byte, error) {
	if _, err := ParseRole(string(r)); err != nil {
		return nil, err
	}
	return []byte(r), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// SwitchRole calls the case matching r. Every role is a required parameter, so
// adding a role breaks each caller until it handles the new case.
func SwitchRole[T any](r Role, admin, frontendService func() T) T {
	switch r {
	case RoleAdmin:
		return admin()
	case RoleFrontendService:
		return frontendService()
	default:
		panic(fmt.Sprintf("domain: unhandled role %q", string(r)))
	}
}

// User is the stored authorization record of one identity.
type User struct {
	Role Role `json:"role"`
}

func (u User) IsAdmin() bool {
	return SwitchRole(u.Role, func() bool { return true }, func() bool { return false })
}

func (u User) IsFrontendService() bool {
	return SwitchRole(u.Role, func() bool { return false }, func() bool { return true })
}
