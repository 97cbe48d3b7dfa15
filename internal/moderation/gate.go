// Package moderation gates chat input and output through a content classifier.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Mode decides what a pre-check does when the classifier is unavailable.
type Mode string

const (
	// ModeBestEffort lets the request through when the classifier fails.
	ModeBestEffort Mode = "best_effort"
	// ModeEnforced blocks the request when the classifier fails.
	ModeEnforced Mode = "enforced"
)

const defaultTimeout = 3 * time.Second

var (
	ErrBlocked      = errors.New("moderation: blocked")
	ErrUnknownMode  = errors.New("moderation: unknown mode")
	ErrNoClassifier = errors.New("moderation: classifier not configured")
)

// ParseMode accepts the configuration spelling of a mode.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeBestEffort, "":
		return ModeBestEffort, nil
	case ModeEnforced:
		return ModeEnforced, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, raw)
	}
}

// Verdict is the outcome of one classifier call.
type Verdict struct {
	Flagged    bool     `json:"flagged"`
	Categories []string `json:"categories,omitempty"`
}

type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, text string) (Verdict, error)

func (f ClassifierFunc) Classify(ctx context.Context, text string) (Verdict, error) {
	return f(ctx, text)
}

type Config struct {
	Enabled bool
	Mode    Mode
	Timeout time.Duration
}

// Decision is what the gate hands back to the relay. Err carries the classifier
// failure, if any; it is informational unless FailedClosed is set.
type Decision struct {
	Verdict      Verdict
	Err          error
	FailedClosed bool
	Skipped      bool
}

func (d Decision) Blocked() bool {
	return d.Verdict.Flagged || d.FailedClosed
}

type Gate struct {
	classifier Classifier
	cfg        Config
	logger     *zap.Logger
}

func NewGate(classifier Classifier, cfg Config, logger *zap.Logger) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeBestEffort
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gate{classifier: classifier, cfg: cfg, logger: logger}
}

func (g *Gate) Mode() Mode {
	if g == nil {
		return ModeBestEffort
	}
	return g.cfg.Mode
}

// PreCheck classifies user input before generation. Classifier failures fail
// open or closed depending on the configured mode.
func (g *Gate) PreCheck(ctx context.Context, text string) Decision {
	decision := g.check(ctx, text)
	if decision.Err != nil && g.cfg.Mode == ModeEnforced {
		decision.FailedClosed = true
		decision.Err = fmt.Errorf("%w: %w", ErrBlocked, decision.Err)
	}
	return decision
}

// PostCheck classifies generated output. It never fails closed.
func (g *Gate) PostCheck(ctx context.Context, text string) Decision {
	return g.check(ctx, text)
}

func (g *Gate) check(ctx context.Context, text string) Decision {
	if g == nil || !g.cfg.Enabled {
		return Decision{Skipped: true}
	}
	if g.classifier == nil {
		return Decision{Err: ErrNoClassifier}
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	type result struct {
		verdict Verdict
		err     error
	}

	// Classifiers that ignore ctx must still not hold the request past the timeout.
	done := make(chan result, 1)
	go func() {
		verdict, err := g.classifier.Classify(ctx, text)
		done <- result{verdict: verdict, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			g.logger.Warn("moderation classifier failed", zap.Error(res.err))
			return Decision{Err: fmt.Errorf("moderation: classify: %w", res.err)}
		}
		return Decision{Verdict: res.verdict}
	case <-ctx.Done():
		g.logger.Warn("moderation classifier timed out", zap.Duration("timeout", g.cfg.Timeout))
		return Decision{Err: fmt.Errorf("moderation: classify: %w", ctx.Err())}
	}
}
