package llm

import (
	"context"
	"io"
	"strings"
	"time"
)

// Echo replays the last user message word by word. It backs local runs that
// have no API key configured.
type Echo struct {
	Interval time.Duration
}

func (e Echo) Stream(ctx context.Context, prompt Prompt) (Stream, error) {
	if len(prompt.Messages) == 0 {
		return nil, ErrEmptyPrompt
	}

	words := strings.Fields(prompt.LastUserMessage())
	fragments := make([]string, 0, len(words))
	for _, word := range words {
		fragments = append(fragments, word+" ")
	}

	return &sliceStream{fragments: fragments, interval: e.Interval}, nil
}

type sliceStream struct {
	fragments []string
	interval  time.Duration
	pos       int
}

func (s *sliceStream) Next(ctx context.Context) (Fragment, error) {
	if s.pos >= len(s.fragments) {
		return Fragment{}, io.EOF
	}

	if s.interval > 0 {
		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Fragment{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Fragment{}, err
	}

	fragment := s.fragments[s.pos]
	s.pos++
	return TextFragment(fragment), nil
}

func (s *sliceStream) Close() error {
	s.pos = len(s.fragments)
	return nil
}
