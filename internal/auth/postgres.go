package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wuwenbin0122/chatrelay/internal/db"
	"github.com/wuwenbin0122/chatrelay/internal/models"
)

const pgUniqueViolation = "23505"

type postgresDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgresDirectory keeps accounts in the users table created by
// db.Postgres.EnsureSchema.
func NewPostgresDirectory(pool *pgxpool.Pool) Directory {
	return &postgresDirectory{pool: pool}
}

func (d *postgresDirectory) Insert(ctx context.Context, user models.User) error {
	const query = `INSERT INTO users (id, username, username_key, email, email_key, display_name, password_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := d.pool.Exec(ctx, query,
		user.ID, user.Username, foldKey(user.Username),
		user.Email, foldKey(user.Email), user.DisplayName,
		user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if pgErr.ConstraintName == db.UsersEmailConstraint {
			return ErrEmailExists
		}
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("auth: insert user: %w", err)
	}
	return nil
}

func (d *postgresDirectory) Lookup(ctx context.Context, identifier string) (models.User, bool, error) {
	const query = `SELECT id, username, email, display_name, password_hash, created_at, updated_at
FROM users
WHERE username_key = $1 OR (email_key <> '' AND email_key = $1)
ORDER BY (username_key = $1) DESC
LIMIT 1`

	var user models.User
	err := d.pool.QueryRow(ctx, query, foldKey(identifier)).Scan(
		&user.ID, &user.Username, &user.Email, &user.DisplayName,
		&user.PasswordHash, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, fmt.Errorf("auth: lookup user: %w", err)
	}
	return user, true, nil
}
