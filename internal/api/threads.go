package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wuwenbin0122/chatrelay/internal/models"
	"github.com/wuwenbin0122/chatrelay/internal/transcript"
)

type createThreadRequest struct {
	Title string `json:"title"`
}

func (h *Handler) handleListThreads(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	limit := transcript.DefaultThreadLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(c, http.StatusBadRequest, "limit must be a positive integer", errors.New("invalid limit"))
			return
		}
		limit = parsed
	}

	threads, err := h.repo.ListThreads(c.Request.Context(), identity.Subject, limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "failed to list threads", err)
		return
	}

	items := make([]gin.H, 0, len(threads))
	for _, thread := range threads {
		items = append(items, threadJSON(thread))
	}
	c.JSON(http.StatusOK, gin.H{"threads": items})
}

func (h *Handler) handleCreateThread(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	var req createThreadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid payload", err)
			return
		}
	}

	thread, err := h.repo.Create(c.Request.Context(), identity.Subject, strings.TrimSpace(req.Title))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "failed to create thread", err)
		return
	}

	c.JSON(http.StatusCreated, threadJSON(thread))
}

// handleThreadMessages replays a transcript. Threads owned by someone else
// answer 404, same as missing ones.
func (h *Handler) handleThreadMessages(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	threadID := c.Param("id")
	turns, err := h.repo.List(c.Request.Context(), identity.Subject, threadID)
	if err != nil {
		if errors.Is(err, transcript.ErrThreadNotFound) {
			writeError(c, http.StatusNotFound, "thread not found", err)
			return
		}
		writeError(c, http.StatusInternalServerError, "failed to load messages", err)
		return
	}

	messages := make([]gin.H, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, turnJSON(turn))
	}
	c.JSON(http.StatusOK, gin.H{"threadId": threadID, "messages": messages})
}

func threadJSON(thread models.Thread) gin.H {
	return gin.H{
		"id":        thread.ID,
		"title":     thread.Title,
		"createdAt": thread.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": thread.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func turnJSON(turn models.Turn) gin.H {
	return gin.H{
		"role":    string(turn.Role),
		"content": turn.Content,
		"seq":     turn.Seq,
		"ts":      turn.Timestamp.Format(time.RFC3339Nano),
	}
}
