package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/chatrelay/internal/relay"
	"github.com/wuwenbin0122/chatrelay/internal/sse"
)

const socketWriteTimeout = 10 * time.Second

// chatRequest accepts the thread either as conversation_id or thread_id, and
// web_search either inside options or top-level, in that order of precedence.
type chatRequest struct {
	Message        string        `json:"message"`
	ConversationID string        `json:"conversation_id"`
	ThreadID       string        `json:"thread_id"`
	WebSearch      *bool         `json:"web_search"`
	Options        relay.Options `json:"options"`
}

func (r chatRequest) relayRequest(owner string) relay.Request {
	threadID := r.ConversationID
	if threadID == "" {
		threadID = r.ThreadID
	}
	opts := r.Options
	if opts.WebSearch == nil {
		opts.WebSearch = r.WebSearch
	}

	return relay.Request{
		Owner:    owner,
		ThreadID: threadID,
		Message:  r.Message,
		Options:  opts,
	}
}

// handleChatStream answers with an event stream. Requests that fail before
// the stream starts get a JSON error status; everything after is in-band.
func (h *Handler) handleChatStream(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "streaming unsupported", err)
		return
	}

	sse.SetHeaders(c.Writer)
	c.Status(http.StatusOK)

	result := h.relay.Run(c.Request.Context(), req.relayRequest(identity.Subject), writer)
	h.logResult("sse", identity.Subject, result)
}

// handleChatSocket relays requests received over a WebSocket one at a time.
// Every frame travels as one text message holding the encoded frame.
func (h *Handler) handleChatSocket(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sink := &socketSink{conn: conn}
	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, context.Canceled) {
				h.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		result := h.relay.Run(ctx, req.relayRequest(identity.Subject), sink)
		h.logResult("websocket", identity.Subject, result)

		if sink.failed() {
			return
		}
	}
}

func (h *Handler) logResult(transport, owner string, result relay.Result) {
	fields := []zap.Field{
		zap.String("transport", transport),
		zap.String("owner", owner),
		zap.String("thread_id", result.ThreadID),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("content_bytes", len(result.Content)),
		zap.Int("side_effect_failures", len(result.Failed())),
	}
	if result.Err != nil {
		fields = append(fields, zap.Error(result.Err))
	}
	h.logger.Info("chat stream finished", fields...)
}

type socketSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
	err  error
}

func (s *socketSink) Send(ev sse.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, sse.Encode(ev)); err != nil {
		s.err = err
		return err
	}
	return nil
}

func (s *socketSink) KeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteTimeout))
}

func (s *socketSink) failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err != nil
}
