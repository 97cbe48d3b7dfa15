package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransport = errors.New("connection reset")

func failing() Classifier {
	return ClassifierFunc(func(context.Context, string) (Verdict, error) {
		return Verdict{}, errTransport
	})
}

func TestPreCheckFlagged(t *testing.T) {
	gate := NewGate(NewKeywordClassifier(nil), Config{Enabled: true}, nil)

	decision := gate.PreCheck(context.Background(), "I want to hurt myself")

	require.NoError(t, decision.Err)
	assert.True(t, decision.Blocked())
	assert.Equal(t, []string{"self-harm"}, decision.Verdict.Categories)
}

func TestPreCheckFailOpenInBestEffortMode(t *testing.T) {
	gate := NewGate(failing(), Config{Enabled: true, Mode: ModeBestEffort}, nil)

	decision := gate.PreCheck(context.Background(), "hello")

	assert.False(t, decision.Blocked())
	assert.ErrorIs(t, decision.Err, errTransport)
}

func TestPreCheckFailClosedInEnforcedMode(t *testing.T) {
	gate := NewGate(failing(), Config{Enabled: true, Mode: ModeEnforced}, nil)

	decision := gate.PreCheck(context.Background(), "hello")

	assert.True(t, decision.FailedClosed)
	assert.True(t, decision.Blocked())
	assert.ErrorIs(t, decision.Err, ErrBlocked)
	assert.ErrorIs(t, decision.Err, errTransport)
}

func TestPostCheckNeverFailsClosed(t *testing.T) {
	gate := NewGate(failing(), Config{Enabled: true, Mode: ModeEnforced}, nil)

	decision := gate.PostCheck(context.Background(), "generated text")

	assert.False(t, decision.Blocked())
	assert.Error(t, decision.Err)
}

func TestPreCheckTimeoutIsBounded(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	stuck := ClassifierFunc(func(context.Context, string) (Verdict, error) {
		<-release
		return Verdict{Flagged: true}, nil
	})

	gate := NewGate(stuck, Config{Enabled: true, Mode: ModeEnforced, Timeout: 20 * time.Millisecond}, nil)

	start := time.Now()
	decision := gate.PreCheck(context.Background(), "hello")

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, decision.FailedClosed)
	assert.ErrorIs(t, decision.Err, context.DeadlineExceeded)
}

func TestDisabledGateSkips(t *testing.T) {
	gate := NewGate(failing(), Config{Enabled: false, Mode: ModeEnforced}, nil)

	decision := gate.PreCheck(context.Background(), "I want to hurt myself")

	assert.True(t, decision.Skipped)
	assert.False(t, decision.Blocked())

	var nilGate *Gate
	assert.True(t, nilGate.PostCheck(context.Background(), "x").Skipped)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode(" Enforced ")
	require.NoError(t, err)
	assert.Equal(t, ModeEnforced, mode)

	mode, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeBestEffort, mode)

	_, err = ParseMode("strict")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestKeywordClassifierCustomPhrases(t *testing.T) {
	classifier := NewKeywordClassifier([]string{" Forbidden  Word ", ""})

	verdict, err := classifier.Classify(context.Background(), "this has a forbidden   word in it")
	require.NoError(t, err)
	assert.True(t, verdict.Flagged)
	assert.Equal(t, []string{"custom"}, verdict.Categories)

	verdict, err = classifier.Classify(context.Background(), "hello there")
	require.NoError(t, err)
	assert.False(t, verdict.Flagged)
	assert.Empty(t, verdict.Categories)
}
