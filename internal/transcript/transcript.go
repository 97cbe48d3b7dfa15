// Package transcript persists conversation turns per owner and thread, along
// with each owner's profile.
//
// Appends are the only mutation. Appending to an unknown thread creates it
// for the caller; appending to or reading a thread owned by someone else
// reports ErrThreadNotFound so foreign threads are indistinguishable from
// missing ones.
package transcript

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wuwenbin0122/chatrelay/internal/models"
)

var (
	ErrThreadNotFound = errors.New("transcript: thread not found")
	ErrOwnerRequired  = errors.New("transcript: owner is required")
	ErrThreadRequired = errors.New("transcript: thread id is required")
	ErrInvalidRole    = errors.New("transcript: invalid turn role")

	ErrProfileNotFound = errors.New("transcript: profile not found")
)

const DefaultThreadLimit = 50

type Store interface {
	// Append records turn at the end of the thread and returns it with its
	// sequence number and timestamp filled in.
	Append(ctx context.Context, owner, threadID string, turn models.Turn) (models.Turn, error)
	// List returns every turn of the thread in append order.
	List(ctx context.Context, owner, threadID string) ([]models.Turn, error)
}

type Threads interface {
	Create(ctx context.Context, owner, title string) (models.Thread, error)
	Get(ctx context.Context, owner, threadID string) (models.Thread, error)
	// Latest returns the owner's most recently updated thread.
	Latest(ctx context.Context, owner string) (models.Thread, error)
	ListThreads(ctx context.Context, owner string, limit int) ([]models.Thread, error)
}

// Profiles keeps one profile per owner, independent of any thread.
type Profiles interface {
	// Profile returns the stored profile or ErrProfileNotFound.
	Profile(ctx context.Context, owner string) (models.Profile, error)
	// EnsureProfile returns the owner's profile, creating it with default
	// settings and displayName on first use. An existing profile is never
	// modified.
	EnsureProfile(ctx context.Context, owner, displayName string) (models.Profile, error)
	// UpdateProfile applies patch, creating the profile first when missing.
	UpdateProfile(ctx context.Context, owner string, patch models.ProfileUpdate) (models.Profile, error)
}

type Repository interface {
	Store
	Threads
	Profiles
}

// Tail returns at most n trailing turns.
func Tail(turns []models.Turn, n int) []models.Turn {
	if n <= 0 {
		return nil
	}
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

func validateOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return ErrOwnerRequired
	}
	return nil
}

func validateKey(owner, threadID string) error {
	if err := validateOwner(owner); err != nil {
		return err
	}
	if strings.TrimSpace(threadID) == "" {
		return ErrThreadRequired
	}
	return nil
}

func validateTurn(turn models.Turn) error {
	switch turn.Role {
	case models.RoleUser, models.RoleAssistant, models.RoleSystem:
		return nil
	default:
		return ErrInvalidRole
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return DefaultThreadLimit
	}
	return limit
}

func newProfile(owner, displayName string, now time.Time) models.Profile {
	return models.Profile{
		OwnerID:     owner,
		DisplayName: strings.TrimSpace(displayName),
		Settings:    models.DefaultProfileSettings(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
