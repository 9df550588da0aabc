// Package identity is the client for the user directory the notification
// orchestrator resolves recipients through.
package identity

import (
	"context"
	"errors"
)

var (
	ErrNotFound            = errors.New("identity: user not found")
	ErrUpstreamUnavailable = errors.New("identity: directory unavailable")
)

// RoleAll matches every user in role lookups.
const RoleAll = "all"

type User struct {
	ID       string `json:"id" yaml:"id"`
	Username string `json:"username" yaml:"username"`
	Email    string `json:"email,omitempty" yaml:"email"`
	Phone    string `json:"phone,omitempty" yaml:"phone"`
	Role     string `json:"role" yaml:"role"`
}

// Directory resolves users by id or by role.
type Directory interface {
	GetUser(ctx context.Context, id string) (User, error)
	GetUsersByRoles(ctx context.Context, roles []string) ([]User, error)
}

func matchesRole(role string, roles []string) bool {
	for _, r := range roles {
		if r == RoleAll || r == role {
			return true
		}
	}
	return false
}
