package models

import "strings"

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole maps free-form role labels onto the known roles, defaulting to user.
func ParseRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "assistant":
		return RoleAssistant
	case "system":
		return RoleSystem
	default:
		return RoleUser
	}
}
