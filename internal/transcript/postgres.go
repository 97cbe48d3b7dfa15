package transcript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wuwenbin0122/chatrelay/internal/models"
)

// PostgresStore keeps threads and turns in the schema created by
// db.Postgres.EnsureSchema.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

const upsertThreadSQL = `INSERT INTO threads (id, owner_id, created_at, updated_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (id) DO UPDATE SET updated_at = EXCLUDED.updated_at
WHERE threads.owner_id = EXCLUDED.owner_id
RETURNING owner_id`

const insertTurnSQL = `INSERT INTO turns (thread_id, seq, role, content, created_at)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4 FROM turns WHERE thread_id = $1
RETURNING seq`

func (s *PostgresStore) Append(ctx context.Context, owner, threadID string, turn models.Turn) (models.Turn, error) {
	if err := validateKey(owner, threadID); err != nil {
		return models.Turn{}, err
	}
	if err := validateTurn(turn); err != nil {
		return models.Turn{}, err
	}

	now := s.now()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Turn{}, fmt.Errorf("transcript: begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	// The upsert row lock serializes appends to one thread until commit.
	var storedOwner string
	if err := tx.QueryRow(ctx, upsertThreadSQL, threadID, owner, now).Scan(&storedOwner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Turn{}, ErrThreadNotFound
		}
		return models.Turn{}, fmt.Errorf("transcript: upsert thread: %w", err)
	}

	if err := tx.QueryRow(ctx, insertTurnSQL, threadID, string(turn.Role), turn.Content, turn.Timestamp).Scan(&turn.Seq); err != nil {
		return models.Turn{}, fmt.Errorf("transcript: insert turn: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Turn{}, fmt.Errorf("transcript: commit append: %w", err)
	}

	return turn, nil
}

func (s *PostgresStore) List(ctx context.Context, owner, threadID string) ([]models.Turn, error) {
	if _, err := s.Get(ctx, owner, threadID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, "SELECT seq, role, content, created_at FROM turns WHERE thread_id = $1 ORDER BY seq", threadID)
	if err != nil {
		return nil, fmt.Errorf("transcript: query turns: %w", err)
	}

	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Turn, error) {
		var (
			turn models.Turn
			role string
		)
		if err := row.Scan(&turn.Seq, &role, &turn.Content, &turn.Timestamp); err != nil {
			return models.Turn{}, err
		}
		turn.Role = models.ParseRole(role)
		turn.Timestamp = turn.Timestamp.UTC()
		return turn, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript: scan turns: %w", err)
	}

	return turns, nil
}

func (s *PostgresStore) Create(ctx context.Context, owner, title string) (models.Thread, error) {
	if err := validateOwner(owner); err != nil {
		return models.Thread{}, err
	}

	now := s.now()
	thread := models.Thread{ID: uuid.NewString(), OwnerID: owner, Title: title, CreatedAt: now, UpdatedAt: now}

	_, err := s.pool.Exec(ctx,
		"INSERT INTO threads (id, owner_id, title, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)",
		thread.ID, thread.OwnerID, thread.Title, now,
	)
	if err != nil {
		return models.Thread{}, fmt.Errorf("transcript: create thread: %w", err)
	}

	return thread, nil
}

func (s *PostgresStore) Get(ctx context.Context, owner, threadID string) (models.Thread, error) {
	if err := validateKey(owner, threadID); err != nil {
		return models.Thread{}, err
	}

	rows, err := s.pool.Query(ctx,
		"SELECT id, owner_id, title, created_at, updated_at FROM threads WHERE id = $1 AND owner_id = $2",
		threadID, owner,
	)
	if err != nil {
		return models.Thread{}, fmt.Errorf("transcript: query thread: %w", err)
	}

	thread, err := pgx.CollectExactlyOneRow(rows, scanThread)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Thread{}, ErrThreadNotFound
		}
		return models.Thread{}, fmt.Errorf("transcript: scan thread: %w", err)
	}
	return thread, nil
}

func (s *PostgresStore) Latest(ctx context.Context, owner string) (models.Thread, error) {
	threads, err := s.ListThreads(ctx, owner, 1)
	if err != nil {
		return models.Thread{}, err
	}
	if len(threads) == 0 {
		return models.Thread{}, ErrThreadNotFound
	}
	return threads[0], nil
}

func (s *PostgresStore) ListThreads(ctx context.Context, owner string, limit int) ([]models.Thread, error) {
	if err := validateOwner(owner); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		"SELECT id, owner_id, title, created_at, updated_at FROM threads WHERE owner_id = $1 ORDER BY updated_at DESC, created_at DESC LIMIT $2",
		owner, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("transcript: query threads: %w", err)
	}

	threads, err := pgx.CollectRows(rows, scanThread)
	if err != nil {
		return nil, fmt.Errorf("transcript: scan threads: %w", err)
	}
	return threads, nil
}

func scanThread(row pgx.CollectableRow) (models.Thread, error) {
	var thread models.Thread
	err := row.Scan(&thread.ID, &thread.OwnerID, &thread.Title, &thread.CreatedAt, &thread.UpdatedAt)
	thread.CreatedAt = thread.CreatedAt.UTC()
	thread.UpdatedAt = thread.UpdatedAt.UTC()
	return thread, err
}

const profileColumns = "owner_id, display_name, avatar_url, web_search_default, locale, tz, created_at, updated_at"

const insertProfileSQL = `INSERT INTO profiles (` + profileColumns + `)
VALUES ($1, $2, '', $3, $4, $5, $6, $6)
ON CONFLICT (owner_id) DO NOTHING`

const updateProfileSQL = `UPDATE profiles SET
    display_name = COALESCE($2, display_name),
    avatar_url = COALESCE($3, avatar_url),
    web_search_default = COALESCE($4, web_search_default),
    locale = COALESCE($5, locale),
    tz = COALESCE($6, tz),
    updated_at = $7
WHERE owner_id = $1
RETURNING ` + profileColumns

func (s *PostgresStore) Profile(ctx context.Context, owner string) (models.Profile, error) {
	if err := validateOwner(owner); err != nil {
		return models.Profile{}, err
	}

	rows, err := s.pool.Query(ctx, "SELECT "+profileColumns+" FROM profiles WHERE owner_id = $1", owner)
	if err != nil {
		return models.Profile{}, fmt.Errorf("transcript: query profile: %w", err)
	}

	profile, err := pgx.CollectExactlyOneRow(rows, scanProfile)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Profile{}, ErrProfileNotFound
		}
		return models.Profile{}, fmt.Errorf("transcript: scan profile: %w", err)
	}
	return profile, nil
}

func (s *PostgresStore) EnsureProfile(ctx context.Context, owner, displayName string) (models.Profile, error) {
	if err := s.insertProfile(ctx, owner, displayName); err != nil {
		return models.Profile{}, err
	}
	return s.Profile(ctx, owner)
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, owner string, patch models.ProfileUpdate) (models.Profile, error) {
	if err := s.insertProfile(ctx, owner, ""); err != nil {
		return models.Profile{}, err
	}

	rows, err := s.pool.Query(ctx, updateProfileSQL,
		owner, patch.DisplayName, patch.AvatarURL, patch.WebSearchDefault, patch.Locale, patch.TZ, s.now(),
	)
	if err != nil {
		return models.Profile{}, fmt.Errorf("transcript: update profile: %w", err)
	}

	profile, err := pgx.CollectExactlyOneRow(rows, scanProfile)
	if err != nil {
		return models.Profile{}, fmt.Errorf("transcript: scan profile: %w", err)
	}
	return profile, nil
}

func (s *PostgresStore) insertProfile(ctx context.Context, owner, displayName string) error {
	if err := validateOwner(owner); err != nil {
		return err
	}

	p := newProfile(owner, displayName, s.now())
	_, err := s.pool.Exec(ctx, insertProfileSQL,
		p.OwnerID, p.DisplayName, p.Settings.WebSearchDefault, p.Settings.Locale, p.Settings.TZ, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("transcript: insert profile: %w", err)
	}
	return nil
}

func scanProfile(row pgx.CollectableRow) (models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.OwnerID, &p.DisplayName, &p.AvatarURL,
		&p.Settings.WebSearchDefault, &p.Settings.Locale, &p.Settings.TZ,
		&p.CreatedAt, &p.UpdatedAt,
	)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}
