package identity

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// StaticDirectory serves a fixed user list. It backs local development and
// tests when no user service is configured.
type StaticDirectory struct {
	users map[string]User
}

func NewStaticDirectory(users []User) *StaticDirectory {
	d := &StaticDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// LoadStaticDirectory reads a YAML list of users from path.
func LoadStaticDirectory(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read user file: %w", err)
	}
	var users []User
	if err := yaml.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parse user file: %w", err)
	}
	return NewStaticDirectory(users), nil
}

func (d *StaticDirectory) GetUser(_ context.Context, id string) (User, error) {
	u, ok := d.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return u, nil
}

func (d *StaticDirectory) GetUsersByRoles(_ context.Context, roles []string) ([]User, error) {
	var out []User
	for _, u := range d.users {
		if matchesRole(u.Role, roles) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
