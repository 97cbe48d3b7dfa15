package models

import "time"

// Thread is a conversation owned by exactly one identity.
type Thread struct {
	ID        string
	OwnerID   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Turn is one appended message of a thread. Turns are never mutated after append.
type Turn struct {
	Role      Role
	Content   string
	Seq       int64
	Timestamp time.Time
}
