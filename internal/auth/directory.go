package auth

import (
	"context"
	"strings"
	"sync"

	"github.com/wuwenbin0122/chatrelay/internal/models"
)

// Directory stores registered accounts. Lookup matches a username or an
// email address, case-insensitively.
type Directory interface {
	Insert(ctx context.Context, user models.User) error
	Lookup(ctx context.Context, identifier string) (models.User, bool, error)
}

type memoryDirectory struct {
	mu      sync.RWMutex
	byName  map[string]models.User
	byEmail map[string]string
}

// NewMemoryDirectory keeps accounts in process memory; they vanish on restart.
func NewMemoryDirectory() Directory {
	return &memoryDirectory{
		byName:  make(map[string]models.User),
		byEmail: make(map[string]string),
	}
}

func (d *memoryDirectory) Insert(ctx context.Context, user models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := foldKey(user.Username)
	email := foldKey(user.Email)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, taken := d.byName[name]; taken {
		return ErrUserExists
	}
	if email != "" {
		if _, taken := d.byEmail[email]; taken {
			return ErrEmailExists
		}
		d.byEmail[email] = name
	}
	d.byName[name] = user
	return nil
}

func (d *memoryDirectory) Lookup(ctx context.Context, identifier string) (models.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, false, err
	}

	key := foldKey(identifier)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if user, ok := d.byName[key]; ok {
		return user, true, nil
	}
	if name, ok := d.byEmail[key]; ok {
		user, ok := d.byName[name]
		return user, ok, nil
	}
	return models.User{}, false, nil
}

func foldKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
