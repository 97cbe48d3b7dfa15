package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuwenbin0122/chatrelay/internal/sse"
	"github.com/wuwenbin0122/chatrelay/internal/transcript"
)

func TestKeepAliveWhileGeneratorIsSlow(t *testing.T) {
	gen := textGenerator("slow")
	gen.delay = 80 * time.Millisecond

	sink := pingingSink{&recordingSink{}}
	result := newRelay(Deps{Generator: gen, Store: transcript.NewMemoryStore()}, Config{KeepAlive: 10 * time.Millisecond}).
		Run(context.Background(), Request{Owner: "alice", ThreadID: "t1", Message: "hello"}, sink)
	require.Equal(t, OutcomeCompleted, result.Outcome)

	entries := sink.entries()
	assert.Contains(t, entries, "ping")
	assert.Equal(t, sse.EventDone, entries[len(entries)-1])

	// pings are comments; the decoded stream only has real frames
	assert.Equal(t, []string{"message", "done"}, types(sink.events(t)))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, len(entries), len(sink.entries()), "no keep-alive after done")
}

func TestKeepAliveDisabled(t *testing.T) {
	gen := textGenerator("x")
	gen.delay = 30 * time.Millisecond

	sink := pingingSink{&recordingSink{}}
	newRelay(Deps{Generator: gen}, Config{}).
		Run(context.Background(), Request{Owner: "alice", ThreadID: "t1", Message: "hello"}, sink)

	assert.NotContains(t, sink.entries(), "ping")
}
