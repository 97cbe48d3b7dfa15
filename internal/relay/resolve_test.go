package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuwenbin0122/chatrelay/internal/models"
	"github.com/wuwenbin0122/chatrelay/internal/transcript"
)

// slowThreads delays thread creation and can hang lookups entirely.
type slowThreads struct {
	*transcript.MemoryStore
	hang    bool
	delay   time.Duration
	creates int32
}

func (s *slowThreads) Latest(ctx context.Context, owner string) (models.Thread, error) {
	if s.hang {
		<-ctx.Done()
		return models.Thread{}, ctx.Err()
	}
	return s.MemoryStore.Latest(ctx, owner)
}

func (s *slowThreads) Create(ctx context.Context, owner, title string) (models.Thread, error) {
	atomic.AddInt32(&s.creates, 1)
	time.Sleep(s.delay)
	return s.MemoryStore.Create(ctx, owner, title)
}

func TestResolveReusesLatestThread(t *testing.T) {
	store := transcript.NewMemoryStore()
	ctx := context.Background()

	_, err := store.Create(ctx, "alice", "old")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	recent, err := store.Create(ctx, "alice", "recent")
	require.NoError(t, err)

	result := newRelay(Deps{Generator: textGenerator("ok"), Store: store, Threads: store}, Config{}).
		Run(ctx, Request{Owner: "alice", Message: "hello"}, &recordingSink{})

	assert.Equal(t, recent.ID, result.ThreadID)
	assert.Len(t, listTurns(t, store, "alice", recent.ID), 2)
}

func TestResolveCreatesThreadWhenOwnerHasNone(t *testing.T) {
	store := transcript.NewMemoryStore()

	result := newRelay(Deps{Generator: textGenerator("ok"), Store: store, Threads: store}, Config{}).
		Run(context.Background(), Request{Owner: "bob", Message: "Plan a trip\nto Lisbon"}, &recordingSink{})

	require.NotEmpty(t, result.ThreadID)
	thread, err := store.Get(context.Background(), "bob", result.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "Plan a trip", thread.Title)
	assert.Equal(t, SideEffect{Kind: EffectResolveThread}, result.SideEffects[0])
}

func TestResolveTimeoutFallsBackToNewThread(t *testing.T) {
	store := transcript.NewMemoryStore()
	threads := &slowThreads{MemoryStore: store, hang: true}

	start := time.Now()
	sink := &recordingSink{}
	result := newRelay(Deps{Generator: textGenerator("ok"), Store: store, Threads: threads}, Config{ResolveTimeout: 30 * time.Millisecond}).
		Run(context.Background(), Request{Owner: "alice", Message: "hello"}, sink)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, []string{"message", "done"}, types(sink.events(t)))

	require.NotEmpty(t, result.Failed())
	assert.Equal(t, EffectResolveThread, result.Failed()[0].Kind)
	assert.ErrorIs(t, result.Failed()[0].Err, context.DeadlineExceeded)

	// the fallback id becomes a real thread on first append
	assert.Len(t, listTurns(t, store, "alice", result.ThreadID), 2)
}

func TestResolveSharesLookupAcrossConcurrentRequests(t *testing.T) {
	store := transcript.NewMemoryStore()
	threads := &slowThreads{MemoryStore: store, delay: 50 * time.Millisecond}
	relay := newRelay(Deps{Generator: textGenerator("ok"), Store: store, Threads: threads}, Config{ResolveTimeout: time.Second})

	var wg sync.WaitGroup
	ids := make([]string, 4)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = relay.Run(context.Background(), Request{Owner: "carol", Message: "hi"}, &recordingSink{}).ThreadID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&threads.creates))
	assert.Len(t, listTurns(t, store, "carol", ids[0]), 8)
}

func TestExplicitThreadSkipsResolution(t *testing.T) {
	store := transcript.NewMemoryStore()
	threads := &slowThreads{MemoryStore: store, hang: true}

	result := newRelay(Deps{Generator: textGenerator("ok"), Store: store, Threads: threads}, Config{}).
		Run(context.Background(), Request{Owner: "alice", ThreadID: " t-42 ", Message: "hello"}, &recordingSink{})

	assert.Equal(t, "t-42", result.ThreadID)
	for _, effect := range result.SideEffects {
		assert.NotEqual(t, EffectResolveThread, effect.Kind)
	}
}

func TestTitleFrom(t *testing.T) {
	assert.Equal(t, "hello", titleFrom("  hello  "))
	assert.Equal(t, "first line", titleFrom("first line\r\nsecond"))

	long := strings.Repeat("é", 80)
	title := titleFrom(long)
	assert.True(t, strings.HasSuffix(title, "…"))
	assert.Equal(t, 61, len([]rune(title)))
}

// brokenProfiles fails every profile lookup.
type brokenProfiles struct {
	*transcript.MemoryStore
}

func (brokenProfiles) Profile(context.Context, string) (models.Profile, error) {
	return models.Profile{}, errors.New("profiles offline")
}

func TestWebSearchFallsBackToProfileDefault(t *testing.T) {
	store := transcript.NewMemoryStore()
	ctx := context.Background()
	on := true
	_, err := store.UpdateProfile(ctx, "alice", models.ProfileUpdate{WebSearchDefault: &on})
	require.NoError(t, err)

	cases := []struct {
		name   string
		owner  string
		option *bool
		want   bool
	}{
		{name: "profile default", owner: "alice", want: true},
		{name: "explicit off wins", owner: "alice", option: Bool(false), want: false},
		{name: "explicit on without profile", owner: "bob", option: Bool(true), want: true},
		{name: "no profile", owner: "bob", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := textGenerator("ok")
			result := newRelay(Deps{Generator: gen, Store: store, Profiles: store}, Config{}).
				Run(ctx, Request{Owner: tc.owner, ThreadID: "t-" + tc.owner, Message: "hi", Options: Options{WebSearch: tc.option}}, &recordingSink{})

			require.Equal(t, 1, gen.calls())
			assert.Equal(t, tc.want, gen.prompts[0].WebSearch)
			assert.Empty(t, result.Failed())
		})
	}
}

func TestWebSearchProfileFailureIsRecorded(t *testing.T) {
	store := transcript.NewMemoryStore()
	gen := textGenerator("ok")

	result := newRelay(Deps{Generator: gen, Store: store, Profiles: brokenProfiles{store}}, Config{}).
		Run(context.Background(), Request{Owner: "alice", ThreadID: "t1", Message: "hi"}, &recordingSink{})

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	require.Equal(t, 1, gen.calls())
	assert.False(t, gen.prompts[0].WebSearch)

	failed := result.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, EffectLoadProfile, failed[0].Kind)
}
