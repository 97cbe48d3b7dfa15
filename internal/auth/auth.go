// Package auth issues and verifies the gateway's identity tokens.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/wuwenbin0122/chatrelay/internal/models"
)

const minPasswordLength = 6

var (
	ErrSecretRequired     = errors.New("auth: jwt secret required")
	ErrUserExists         = errors.New("auth: user already exists")
	ErrEmailExists        = errors.New("auth: email already registered")
	ErrUsernameRequired   = errors.New("auth: username is required")
	ErrPasswordTooWeak    = errors.New("auth: password must be at least 6 characters")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrMissingToken       = errors.New("auth: missing bearer token")
)

type RegisterInput struct {
	Username    string
	Email       string
	DisplayName string
	Password    string
}

type LoginInput struct {
	Identifier string
	Password   string
}

type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      models.User
}

// Service registers accounts, checks passwords and hands out tokens.
type Service struct {
	users  Directory
	tokens tokens
}

// NewService uses an in-memory directory.
func NewService(secret string, ttl time.Duration) (*Service, error) {
	return NewServiceWithDirectory(secret, ttl, NewMemoryDirectory())
}

func NewServiceWithDirectory(secret string, ttl time.Duration, users Directory) (*Service, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrSecretRequired
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if users == nil {
		users = NewMemoryDirectory()
	}

	return &Service{
		users:  users,
		tokens: tokens{secret: []byte(secret), ttl: ttl, now: time.Now},
	}, nil
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	switch {
	case username == "":
		return nil, ErrUsernameRequired
	case len(strings.TrimSpace(input.Password)) < minPasswordLength:
		return nil, ErrPasswordTooWeak
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        strings.TrimSpace(input.Email),
		DisplayName:  strings.TrimSpace(input.DisplayName),
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Insert(ctx, user); err != nil {
		return nil, err
	}

	return s.issue(user)
}

func (s *Service) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	identifier := strings.TrimSpace(input.Identifier)
	if identifier == "" || strings.TrimSpace(input.Password) == "" {
		return nil, ErrInvalidCredentials
	}

	user, found, err := s.users.Lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issue(user)
}

// VerifyToken checks signature, issuer and expiry and returns the caller.
func (s *Service) VerifyToken(token string) (Identity, error) {
	return s.tokens.verify(token)
}

func (s *Service) issue(user models.User) (*AuthResult, error) {
	token, expiresAt, err := s.tokens.issue(user)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user.Sanitize(),
	}, nil
}
