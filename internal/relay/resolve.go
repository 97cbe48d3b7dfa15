package relay

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/wuwenbin0122/chatrelay/internal/transcript"
)

const titleLimit = 60

// resolveThread picks the conversation for a request that names none: the
// owner's most recently updated thread, else a new one. Concurrent requests
// from one owner share a single lookup. On failure or timeout it falls back
// to a fresh id, which the first append creates.
func (r *run) resolveThread(req Request) string {
	if id := strings.TrimSpace(req.ThreadID); id != "" {
		return id
	}

	threads := r.relay.threads
	if threads == nil {
		return uuid.NewString()
	}

	timeout := r.relay.cfg.ResolveTimeout
	ch := r.relay.resolving.DoChan(req.Owner, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), timeout)
		defer cancel()

		latest, err := threads.Latest(ctx, req.Owner)
		if err == nil {
			return latest.ID, nil
		}
		if !errors.Is(err, transcript.ErrThreadNotFound) {
			return "", err
		}

		created, err := threads.Create(ctx, req.Owner, titleFrom(req.Message))
		if err != nil {
			return "", err
		}
		return created.ID, nil
	})

	ctx, cancel := context.WithTimeout(r.ctx, timeout)
	defer cancel()

	select {
	case res := <-ch:
		r.record(EffectResolveThread, res.Err)
		if res.Err == nil {
			return res.Val.(string)
		}
	case <-ctx.Done():
		r.record(EffectResolveThread, ctx.Err())
	}

	return uuid.NewString()
}

// webSearch settles the web search toggle. An explicit request option wins;
// otherwise the owner's profile default applies, and a missing or unreadable
// profile means off.
func (r *run) webSearch(req Request) bool {
	if req.Options.WebSearch != nil {
		return *req.Options.WebSearch
	}

	profiles := r.relay.profiles
	if profiles == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.relay.cfg.ResolveTimeout)
	defer cancel()

	profile, err := profiles.Profile(ctx, req.Owner)
	if errors.Is(err, transcript.ErrProfileNotFound) {
		return false
	}
	r.record(EffectLoadProfile, err)
	if err != nil {
		return false
	}
	return profile.Settings.WebSearchDefault
}

// titleFrom derives a thread title from the first line of a message.
func titleFrom(message string) string {
	line := strings.TrimSpace(message)
	if idx := strings.IndexAny(line, "\r\n"); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	if utf8.RuneCountInString(line) <= titleLimit {
		return line
	}
	runes := []rune(line)
	return strings.TrimSpace(string(runes[:titleLimit])) + "…"
}
