// Package identity resolves the invoking user. When the process has
// been re-executed under sudo, the SUDO_* environment overrides point
// back at the original user so that mount ownership and the mount path
// are attributed to them instead of root.
package identity

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
)

// User is the identity mounts are attributed to.
type User struct {
	Username string
	UID      int
	GID      int
}

// Resolver yields the invoking user's identity.
type Resolver interface {
	Current() (User, error)
}

// EnvResolver resolves identity from SUDO_USER/SUDO_UID/SUDO_GID when
// present, falling back to the effective identity of the process.
type EnvResolver struct {
	getenv      func(string) string
	currentUser func() (*user.User, error)
	geteuid     func() int
	getegid     func() int
}

// NewResolver creates a resolver backed by the process environment.
func NewResolver() *EnvResolver {
	return &EnvResolver{
		getenv:      os.Getenv,
		currentUser: user.Current,
		geteuid:     os.Geteuid,
		getegid:     os.Getegid,
	}
}

// Current returns the invoking user.
func (r *EnvResolver) Current() (User, error) {
	u := User{UID: r.geteuid(), GID: r.getegid()}

	if v := r.getenv("SUDO_UID"); v != "" {
		uid, err := strconv.Atoi(v)
		if err != nil {
			return User{}, fmt.Errorf("parse SUDO_UID %q: %w", v, err)
		}
		u.UID = uid
	}
	if v := r.getenv("SUDO_GID"); v != "" {
		gid, err := strconv.Atoi(v)
		if err != nil {
			return User{}, fmt.Errorf("parse SUDO_GID %q: %w", v, err)
		}
		u.GID = gid
	}

	if v := r.getenv("SUDO_USER"); v != "" {
		u.Username = v
		return u, nil
	}

	cur, err := r.currentUser()
	if err != nil {
		return User{}, fmt.Errorf("resolve current user: %w", err)
	}
	u.Username = cur.Username

	return u, nil
}
