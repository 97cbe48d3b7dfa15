// Package relay drives one chat request from receipt to the terminal done
// frame: moderation, generation, framing and transcript write-back.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wuwenbin0122/chatrelay/internal/llm"
	"github.com/wuwenbin0122/chatrelay/internal/metrics"
	"github.com/wuwenbin0122/chatrelay/internal/models"
	"github.com/wuwenbin0122/chatrelay/internal/moderation"
	"github.com/wuwenbin0122/chatrelay/internal/sse"
	"github.com/wuwenbin0122/chatrelay/internal/transcript"
	"github.com/wuwenbin0122/chatrelay/internal/utils"
)

var (
	ErrEmptyMessage  = errors.New("message must not be empty")
	ErrOwnerRequired = errors.New("authenticated owner is required")
)

const DefaultPolicyMessage = "I can't help with that request."

type State string

const (
	StateReceived   State = "received"
	StatePrecheck   State = "precheck"
	StateBlocked    State = "blocked"
	StateGenerating State = "generating"
	StatePostcheck  State = "postcheck"
	StateFinalized  State = "finalized"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

// Options are per-request toggles chosen by the client. A nil toggle falls
// back to the owner's profile settings.
type Options struct {
	WebSearch *bool `json:"web_search,omitempty"`
}

// Bool returns a pointer to v, for filling Options.
func Bool(v bool) *bool { return &v }

type Request struct {
	Owner    string
	ThreadID string
	Message  string
	Options  Options
}

// Sink receives frames in emission order. A Send error means the client is
// gone; the relay stops generating but still persists what it has.
type Sink interface {
	Send(ev sse.Event) error
}

// KeepAliver is implemented by sinks that can carry idle heartbeats.
type KeepAliver interface {
	KeepAlive() error
}

type SinkFunc func(ev sse.Event) error

func (f SinkFunc) Send(ev sse.Event) error { return f(ev) }

type SideEffectKind string

const (
	EffectResolveThread   SideEffectKind = "resolve_thread"
	EffectLoadProfile     SideEffectKind = "load_profile"
	EffectPreCheck        SideEffectKind = "pre_check"
	EffectLoadHistory     SideEffectKind = "load_history"
	EffectAppendUser      SideEffectKind = "append_user_turn"
	EffectPostCheck       SideEffectKind = "post_check"
	EffectAppendAssistant SideEffectKind = "append_assistant_turn"
)

// SideEffect is the recorded outcome of one best-effort step. A nil Err
// means the step succeeded.
type SideEffect struct {
	Kind SideEffectKind
	Err  error
}

type Result struct {
	ThreadID    string
	State       State
	Outcome     Outcome
	Content     string
	Categories  []string
	Err         error
	SideEffects []SideEffect
}

// Failed returns the side effects that did not succeed.
func (r Result) Failed() []SideEffect {
	var failed []SideEffect
	for _, effect := range r.SideEffects {
		if effect.Err != nil {
			failed = append(failed, effect)
		}
	}
	return failed
}

type Config struct {
	PolicyMessage  string
	ResolveTimeout time.Duration
	PersistTimeout time.Duration
	HistoryTurns   int
	KeepAlive      time.Duration
}

type Deps struct {
	Gate      *moderation.Gate
	Generator llm.Generator
	Store     transcript.Store
	// Threads resolves a conversation when the request names none. When nil
	// every such request starts a new thread.
	Threads transcript.Threads
	// Profiles supplies defaults for options the request leaves unset.
	Profiles transcript.Profiles
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

type Relay struct {
	gate      *moderation.Gate
	generator llm.Generator
	store     transcript.Store
	threads   transcript.Threads
	profiles  transcript.Profiles
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       Config

	resolving singleflight.Group
}

func New(deps Deps, cfg Config) *Relay {
	if strings.TrimSpace(cfg.PolicyMessage) == "" {
		cfg.PolicyMessage = DefaultPolicyMessage
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 2 * time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}

	return &Relay{
		gate:      deps.Gate,
		generator: deps.Generator,
		store:     deps.Store,
		threads:   deps.Threads,
		profiles:  deps.Profiles,
		metrics:   deps.Metrics,
		logger:    utils.OrNop(deps.Logger),
		cfg:       cfg,
	}
}

// Run relays one request. It always ends the stream with a done frame unless
// the sink has already failed, and it never returns persistence or
// moderation failures as errors; those are reported in Result.SideEffects.
func (r *Relay) Run(ctx context.Context, req Request, sink Sink) Result {
	run := &run{
		relay:   r,
		ctx:     ctx,
		sink:    sink,
		started: time.Now(),
		logger:  r.logger.With(utils.StreamFields(req.Owner, "")...),
		result:  Result{State: StateReceived},
	}

	r.metrics.StreamStarted()
	defer func() { r.metrics.StreamFinished(string(run.result.Outcome)) }()

	if err := validate(req); err != nil {
		run.result.Err = err
		run.emit(sse.Error(err.Error()))
		run.finish(OutcomeRejected)
		return run.result
	}

	stopHeartbeat := run.startHeartbeat()
	defer stopHeartbeat()
	run.stopHeartbeat = stopHeartbeat

	threadID := run.resolveThread(req)
	run.result.ThreadID = threadID
	run.logger = r.logger.With(utils.StreamFields(req.Owner, threadID)...)

	run.result.State = StatePrecheck
	decision := r.gate.PreCheck(ctx, req.Message)
	if decision.Err != nil {
		run.record(EffectPreCheck, decision.Err)
	}

	if decision.Blocked() {
		run.result.State = StateBlocked
		run.result.Categories = decision.Verdict.Categories
		run.logger.Info("request blocked by moderation",
			zap.Strings("categories", decision.Verdict.Categories),
			zap.Bool("failed_closed", decision.FailedClosed),
		)
		run.emit(sse.Policy(r.cfg.PolicyMessage))
		run.appendTurn(EffectAppendUser, threadID, req.Owner, models.RoleUser, req.Message)
		run.finish(OutcomeBlocked)
		return run.result
	}

	history := run.loadHistory(req.Owner, threadID)
	run.appendTurn(EffectAppendUser, threadID, req.Owner, models.RoleUser, req.Message)

	run.result.State = StateGenerating
	prompt := llm.Prompt{
		Messages:  append(history, llm.Message{Role: models.RoleUser, Content: req.Message}),
		WebSearch: run.webSearch(req),
	}
	content, genErr := run.generate(prompt)
	run.result.Content = content

	outcome := OutcomeCompleted
	switch {
	case run.canceled():
		outcome = OutcomeCanceled
		run.logger.Info("client went away mid-stream", zap.Int("partial_bytes", len(content)))
	case genErr != nil:
		outcome = OutcomeFailed
		run.result.Err = genErr
		run.logger.Warn("generation failed", zap.Error(genErr), zap.Int("partial_bytes", len(content)))
		run.emit(sse.Error(fmt.Sprintf("generation failed: %v", genErr)))
	case content != "":
		run.result.State = StatePostcheck
		run.postCheck(content)
	}

	run.result.State = StateFinalized
	if content != "" {
		run.appendTurn(EffectAppendAssistant, threadID, req.Owner, models.RoleAssistant, content)
	}
	run.finish(outcome)
	return run.result
}

func validate(req Request) error {
	if strings.TrimSpace(req.Owner) == "" {
		return ErrOwnerRequired
	}
	if strings.TrimSpace(req.Message) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// run holds the mutable state of one Relay.Run call. It is confined to the
// calling goroutine except for the heartbeat, which only touches the sink.
type run struct {
	relay   *Relay
	ctx     context.Context
	sink    Sink
	started time.Time
	logger  *zap.Logger
	result  Result

	sinkErr       error
	cancelGen     context.CancelFunc
	stopHeartbeat func()
}

func (r *run) emit(ev sse.Event) {
	if r.sinkErr != nil {
		return
	}
	if err := r.sink.Send(ev); err != nil {
		r.sinkErr = err
		if r.cancelGen != nil {
			r.cancelGen()
		}
		r.logger.Debug("sink rejected frame", zap.String("event", ev.Type), zap.Error(err))
		return
	}
	r.relay.metrics.FrameSent(ev.Type)
}

func (r *run) canceled() bool {
	return r.sinkErr != nil || r.ctx.Err() != nil
}

func (r *run) finish(outcome Outcome) {
	if r.stopHeartbeat != nil {
		r.stopHeartbeat()
	}
	r.result.Outcome = outcome
	r.emit(sse.Done())
}

func (r *run) record(kind SideEffectKind, err error) {
	r.result.SideEffects = append(r.result.SideEffects, SideEffect{Kind: kind, Err: err})
	r.relay.metrics.SideEffect(string(kind), err)
	if err != nil {
		r.logger.Warn("side effect failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// persistContext survives client disconnects so partial output is still saved.
func (r *run) persistContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.ctx), r.relay.cfg.PersistTimeout)
}

func (r *run) appendTurn(kind SideEffectKind, threadID, owner string, role models.Role, content string) {
	if r.relay.store == nil {
		return
	}

	ctx, cancel := r.persistContext()
	defer cancel()

	_, err := r.relay.store.Append(ctx, owner, threadID, models.Turn{Role: role, Content: content})
	r.record(kind, err)
}

func (r *run) loadHistory(owner, threadID string) []llm.Message {
	limit := r.relay.cfg.HistoryTurns
	if limit <= 0 || r.relay.store == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.relay.cfg.ResolveTimeout)
	defer cancel()

	turns, err := r.relay.store.List(ctx, owner, threadID)
	if errors.Is(err, transcript.ErrThreadNotFound) {
		return nil
	}
	r.record(EffectLoadHistory, err)
	if err != nil {
		return nil
	}

	turns = transcript.Tail(turns, limit)
	history := make([]llm.Message, 0, len(turns))
	for _, turn := range turns {
		history = append(history, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	return history
}

// generate streams fragments to the sink and returns everything emitted.
func (r *run) generate(prompt llm.Prompt) (string, error) {
	if r.relay.generator == nil {
		return "", errors.New("no generation backend configured")
	}

	genCtx, cancel := context.WithCancel(r.ctx)
	defer cancel()
	r.cancelGen = cancel
	defer func() { r.cancelGen = nil }()

	stream, err := r.relay.generator.Stream(genCtx, prompt)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var buf strings.Builder
	send := func(text string) error {
		// persist what the client decodes, not the backend's raw line breaks
		buf.WriteString(sse.Normalize(text))
		r.emit(sse.Message(text))
		return r.sinkErr
	}

	first := true
	heldCR := false
	for {
		fragment, err := stream.Next(genCtx)
		if err != nil {
			if heldCR && r.sinkErr == nil {
				send("\n")
			}
			if errors.Is(err, io.EOF) {
				return buf.String(), r.sinkErr
			}
			return buf.String(), err
		}

		text := fragment.PlainText()
		if text == "" {
			continue
		}
		if first {
			first = false
			r.relay.metrics.FirstFragment(time.Since(r.started))
		}

		// a CRLF pair may straddle two fragments
		if heldCR {
			text = "\r" + text
			heldCR = false
		}
		if strings.HasSuffix(text, "\r") {
			text = strings.TrimSuffix(text, "\r")
			heldCR = true
		}
		if text == "" {
			continue
		}

		if err := send(text); err != nil {
			return buf.String(), err
		}
	}
}

func (r *run) postCheck(content string) {
	decision := r.relay.gate.PostCheck(r.ctx, content)
	if decision.Skipped {
		return
	}
	r.record(EffectPostCheck, decision.Err)
	if decision.Err != nil || !decision.Verdict.Flagged {
		return
	}

	r.result.Categories = decision.Verdict.Categories
	r.logger.Info("generated output flagged after delivery", zap.Strings("categories", decision.Verdict.Categories))
	r.emit(sse.Policy(r.relay.cfg.PolicyMessage))
}
