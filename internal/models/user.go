package models

import (
	"strings"
	"time"
)

// User is an account registered with the gateway's built-in identity provider.
type User struct {
	ID           string
	Username     string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Sanitize returns a copy of the user without sensitive fields populated.
func (u User) Sanitize() User {
	u.PasswordHash = ""
	return u
}

// Label is the human-friendly name carried in issued tokens.
func (u User) Label() string {
	for _, candidate := range []string{u.DisplayName, u.Username, u.Email} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return u.ID
}
