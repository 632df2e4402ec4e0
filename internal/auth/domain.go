package auth

import (
	"strings"

	"github.com/taxdesk/taxdesk/internal/remote"
	"github.com/taxdesk/taxdesk/internal/shared"
)

// Credentials is the login form.
type Credentials struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
}

// userFromRecord maps the profile returned by the remote login endpoint.
func userFromRecord(r remote.Record) shared.CurrentUser {
	u := shared.CurrentUser{
		ID:    r.String("id", "_id"),
		Name:  r.String("name", "fullName", "username"),
		Email: r.String("email"),
		Role:  strings.ToLower(r.String("role")),
	}
	if u.Name == "" {
		u.Name = u.Email
	}
	for _, key := range []string{"capabilities", "permissions"} {
		list, ok := r[key].([]any)
		if !ok {
			continue
		}
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				u.Capabilities = append(u.Capabilities, strings.TrimSpace(s))
			}
		}
		break
	}
	return u
}
