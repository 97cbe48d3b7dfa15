package transcript_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuwenbin0122/chatrelay/internal/models"
	"github.com/wuwenbin0122/chatrelay/internal/transcript"
)

// runRepositoryContract exercises behaviour every backend must share.
func runRepositoryContract(t *testing.T, repo transcript.Repository) {
	ctx := context.Background()

	t.Run("append creates thread and preserves order", func(t *testing.T) {
		owner := "owner-" + uuid.NewString()
		threadID := uuid.NewString()

		first, err := repo.Append(ctx, owner, threadID, models.Turn{Role: models.RoleUser, Content: "hello"})
		require.NoError(t, err)
		second, err := repo.Append(ctx, owner, threadID, models.Turn{Role: models.RoleAssistant, Content: "Hi there!\n```go\nfmt.Println()\n```"})
		require.NoError(t, err)

		assert.Equal(t, int64(1), first.Seq)
		assert.Equal(t, int64(2), second.Seq)
		assert.False(t, first.Timestamp.IsZero())

		turns, err := repo.List(ctx, owner, threadID)
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, models.RoleUser, turns[0].Role)
		assert.Equal(t, "hello", turns[0].Content)
		assert.Equal(t, models.RoleAssistant, turns[1].Role)
		assert.Equal(t, "Hi there!\n```go\nfmt.Println()\n```", turns[1].Content)

		thread, err := repo.Get(ctx, owner, threadID)
		require.NoError(t, err)
		assert.Equal(t, owner, thread.OwnerID)
	})

	t.Run("foreign threads look missing", func(t *testing.T) {
		owner := "owner-" + uuid.NewString()
		intruder := "intruder-" + uuid.NewString()
		threadID := uuid.NewString()

		_, err := repo.Append(ctx, owner, threadID, models.Turn{Role: models.RoleUser, Content: "mine"})
		require.NoError(t, err)

		_, err = repo.Append(ctx, intruder, threadID, models.Turn{Role: models.RoleUser, Content: "theirs"})
		assert.ErrorIs(t, err, transcript.ErrThreadNotFound)

		_, err = repo.List(ctx, intruder, threadID)
		assert.ErrorIs(t, err, transcript.ErrThreadNotFound)

		_, err = repo.Get(ctx, intruder, threadID)
		assert.ErrorIs(t, err, transcript.ErrThreadNotFound)

		turns, err := repo.List(ctx, owner, threadID)
		require.NoError(t, err)
		require.Len(t, turns, 1)
	})

	t.Run("unknown thread", func(t *testing.T) {
		_, err := repo.List(ctx, "owner-"+uuid.NewString(), uuid.NewString())
		assert.ErrorIs(t, err, transcript.ErrThreadNotFound)
	})

	t.Run("latest follows appends", func(t *testing.T) {
		owner := "owner-" + uuid.NewString()

		_, err := repo.Latest(ctx, owner)
		assert.ErrorIs(t, err, transcript.ErrThreadNotFound)

		older, err := repo.Create(ctx, owner, "older")
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		newer, err := repo.Create(ctx, owner, "newer")
		require.NoError(t, err)

		latest, err := repo.Latest(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, newer.ID, latest.ID)

		time.Sleep(5 * time.Millisecond)
		_, err = repo.Append(ctx, owner, older.ID, models.Turn{Role: models.RoleUser, Content: "bump"})
		require.NoError(t, err)

		latest, err = repo.Latest(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, older.ID, latest.ID)

		threads, err := repo.ListThreads(ctx, owner, 10)
		require.NoError(t, err)
		require.Len(t, threads, 2)
		assert.Equal(t, older.ID, threads[0].ID)
		assert.Equal(t, "older", threads[0].Title)
		assert.Equal(t, newer.ID, threads[1].ID)

		limited, err := repo.ListThreads(ctx, owner, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := repo.Append(ctx, "", "t", models.Turn{Role: models.RoleUser})
		assert.ErrorIs(t, err, transcript.ErrOwnerRequired)

		_, err = repo.Append(ctx, "owner", " ", models.Turn{Role: models.RoleUser})
		assert.ErrorIs(t, err, transcript.ErrThreadRequired)

		_, err = repo.Append(ctx, "owner", "t", models.Turn{Role: models.Role("tool")})
		assert.ErrorIs(t, err, transcript.ErrInvalidRole)
	})

	t.Run("profile is created on first use", func(t *testing.T) {
		owner := "owner-" + uuid.NewString()

		_, err := repo.Profile(ctx, owner)
		assert.ErrorIs(t, err, transcript.ErrProfileNotFound)

		created, err := repo.EnsureProfile(ctx, owner, "Alice")
		require.NoError(t, err)
		assert.Equal(t, owner, created.OwnerID)
		assert.Equal(t, "Alice", created.DisplayName)
		assert.Equal(t, models.DefaultProfileSettings(), created.Settings)

		// an existing profile keeps its display name
		again, err := repo.EnsureProfile(ctx, owner, "Someone Else")
		require.NoError(t, err)
		assert.Equal(t, "Alice", again.DisplayName)

		stored, err := repo.Profile(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, "Alice", stored.DisplayName)
	})

	t.Run("profile update merges fields", func(t *testing.T) {
		owner := "owner-" + uuid.NewString()
		on := true
		locale := "de"

		updated, err := repo.UpdateProfile(ctx, owner, models.ProfileUpdate{WebSearchDefault: &on})
		require.NoError(t, err)
		assert.True(t, updated.Settings.WebSearchDefault)
		assert.Equal(t, "en", updated.Settings.Locale)
		assert.Equal(t, "UTC", updated.Settings.TZ)

		updated, err = repo.UpdateProfile(ctx, owner, models.ProfileUpdate{Locale: &locale})
		require.NoError(t, err)
		assert.True(t, updated.Settings.WebSearchDefault)
		assert.Equal(t, "de", updated.Settings.Locale)

		stored, err := repo.Profile(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, updated.Settings, stored.Settings)

		_, err = repo.UpdateProfile(ctx, " ", models.ProfileUpdate{})
		assert.ErrorIs(t, err, transcript.ErrOwnerRequired)
	})

	t.Run("concurrent appends to different threads", func(t *testing.T) {
		owner := "owner-" + uuid.NewString()
		ids := make([]string, 8)
		for i := range ids {
			ids[i] = uuid.NewString()
		}

		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				for n := 0; n < 5; n++ {
					_, err := repo.Append(ctx, owner, id, models.Turn{Role: models.RoleUser, Content: fmt.Sprintf("m%d", n)})
					assert.NoError(t, err)
				}
			}(id)
		}
		wg.Wait()

		for _, id := range ids {
			turns, err := repo.List(ctx, owner, id)
			require.NoError(t, err)
			require.Len(t, turns, 5)
			for n, turn := range turns {
				assert.Equal(t, fmt.Sprintf("m%d", n), turn.Content)
				assert.Equal(t, int64(n+1), turn.Seq)
			}
		}
	})
}
