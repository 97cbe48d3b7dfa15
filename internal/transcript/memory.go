package transcript

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wuwenbin0122/chatrelay/internal/models"
)

// MemoryStore keeps transcripts in process memory. Each thread has its own
// lock; the map lock is only held to find or insert a thread.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*memoryThread
	now     func() time.Time

	profilesMu sync.Mutex
	profiles   map[string]models.Profile
}

type memoryThread struct {
	mu     sync.Mutex
	thread models.Thread
	turns  []models.Turn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:  make(map[string]*memoryThread),
		now:      func() time.Time { return time.Now().UTC() },
		profiles: make(map[string]models.Profile),
	}
}

func (s *MemoryStore) Append(ctx context.Context, owner, threadID string, turn models.Turn) (models.Turn, error) {
	if err := validateKey(owner, threadID); err != nil {
		return models.Turn{}, err
	}
	if err := validateTurn(turn); err != nil {
		return models.Turn{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Turn{}, err
	}

	now := s.now()
	entry := s.threadFor(owner, threadID, now)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.thread.OwnerID != owner {
		return models.Turn{}, ErrThreadNotFound
	}

	turn.Seq = int64(len(entry.turns)) + 1
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}
	entry.turns = append(entry.turns, turn)
	entry.thread.UpdatedAt = now

	return turn, nil
}

func (s *MemoryStore) List(ctx context.Context, owner, threadID string) ([]models.Turn, error) {
	if err := validateKey(owner, threadID); err != nil {
		return nil, err
	}

	entry, ok := s.lookup(threadID)
	if !ok {
		return nil, ErrThreadNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.thread.OwnerID != owner {
		return nil, ErrThreadNotFound
	}

	turns := make([]models.Turn, len(entry.turns))
	copy(turns, entry.turns)
	return turns, nil
}

func (s *MemoryStore) Create(ctx context.Context, owner, title string) (models.Thread, error) {
	if err := validateOwner(owner); err != nil {
		return models.Thread{}, err
	}

	now := s.now()
	thread := models.Thread{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.threads[thread.ID] = &memoryThread{thread: thread}
	s.mu.Unlock()

	return thread, nil
}

func (s *MemoryStore) Get(ctx context.Context, owner, threadID string) (models.Thread, error) {
	if err := validateKey(owner, threadID); err != nil {
		return models.Thread{}, err
	}

	entry, ok := s.lookup(threadID)
	if !ok {
		return models.Thread{}, ErrThreadNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.thread.OwnerID != owner {
		return models.Thread{}, ErrThreadNotFound
	}
	return entry.thread, nil
}

func (s *MemoryStore) Latest(ctx context.Context, owner string) (models.Thread, error) {
	threads, err := s.ListThreads(ctx, owner, 1)
	if err != nil {
		return models.Thread{}, err
	}
	if len(threads) == 0 {
		return models.Thread{}, ErrThreadNotFound
	}
	return threads[0], nil
}

func (s *MemoryStore) ListThreads(ctx context.Context, owner string, limit int) ([]models.Thread, error) {
	if err := validateOwner(owner); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries := make([]*memoryThread, 0, len(s.threads))
	for _, entry := range s.threads {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	var owned []models.Thread
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.thread.OwnerID == owner {
			owned = append(owned, entry.thread)
		}
		entry.mu.Unlock()
	}

	sort.SliceStable(owned, func(i, j int) bool {
		if owned[i].UpdatedAt.Equal(owned[j].UpdatedAt) {
			return owned[i].CreatedAt.After(owned[j].CreatedAt)
		}
		return owned[i].UpdatedAt.After(owned[j].UpdatedAt)
	})

	if limit = normalizeLimit(limit); len(owned) > limit {
		owned = owned[:limit]
	}
	return owned, nil
}

func (s *MemoryStore) lookup(threadID string) (*memoryThread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.threads[threadID]
	return entry, ok
}

func (s *MemoryStore) threadFor(owner, threadID string, now time.Time) *memoryThread {
	if entry, ok := s.lookup(threadID); ok {
		return entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.threads[threadID]; ok {
		return entry
	}

	entry := &memoryThread{thread: models.Thread{
		ID:        threadID,
		OwnerID:   owner,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	s.threads[threadID] = entry
	return entry
}

func (s *MemoryStore) Profile(ctx context.Context, owner string) (models.Profile, error) {
	if err := validateOwner(owner); err != nil {
		return models.Profile{}, err
	}

	s.profilesMu.Lock()
	defer s.profilesMu.Unlock()

	profile, ok := s.profiles[owner]
	if !ok {
		return models.Profile{}, ErrProfileNotFound
	}
	return profile, nil
}

func (s *MemoryStore) EnsureProfile(ctx context.Context, owner, displayName string) (models.Profile, error) {
	if err := validateOwner(owner); err != nil {
		return models.Profile{}, err
	}

	s.profilesMu.Lock()
	defer s.profilesMu.Unlock()

	return s.ensureProfileLocked(owner, displayName), nil
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, owner string, patch models.ProfileUpdate) (models.Profile, error) {
	if err := validateOwner(owner); err != nil {
		return models.Profile{}, err
	}

	s.profilesMu.Lock()
	defer s.profilesMu.Unlock()

	profile := s.ensureProfileLocked(owner, "").Apply(patch)
	profile.UpdatedAt = s.now()
	s.profiles[owner] = profile
	return profile, nil
}

func (s *MemoryStore) ensureProfileLocked(owner, displayName string) models.Profile {
	if profile, ok := s.profiles[owner]; ok {
		return profile
	}
	profile := newProfile(owner, displayName, s.now())
	s.profiles[owner] = profile
	return profile
}
