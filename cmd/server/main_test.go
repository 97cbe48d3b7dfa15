package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/chatrelay/internal/api"
	"github.com/wuwenbin0122/chatrelay/internal/auth"
	"github.com/wuwenbin0122/chatrelay/internal/metrics"
	"github.com/wuwenbin0122/chatrelay/internal/sse"
	"github.com/wuwenbin0122/chatrelay/internal/utils"
)

func memoryConfig() *utils.Config {
	return &utils.Config{
		TranscriptBackend: utils.BackendMemory,
		Moderation: utils.ModerationConfig{
			Enabled:       true,
			Mode:          "enforced",
			Timeout:       time.Second,
			PolicyMessage: "blocked",
		},
		Relay: utils.RelayConfig{
			ResolveTimeout: time.Second,
			PersistTimeout: time.Second,
			HistoryTurns:   5,
		},
	}
}

func TestServerStreamsWithMemoryBackend(t *testing.T) {
	gin.SetMode(gin.TestMode)

	registry := prometheus.NewRegistry()
	deps, err := buildDependencies(context.Background(), memoryConfig(), metrics.New(registry), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	authService, err := auth.NewServiceWithDirectory("wire-secret", time.Hour, deps.Users)
	require.NoError(t, err)
	registered, err := authService.Register(context.Background(), auth.RegisterInput{Username: "dana", Password: "secret123"})
	require.NoError(t, err)

	handler := api.NewHandler(authService, deps.Relay, deps.Repository, api.Options{})
	router := setupRouter(handler, registry, deps.Health)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"message":"hi there"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+registered.Token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	events, err := sse.DecodeAll(rec.Body)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, sse.Done(), events[len(events)-1])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `chatrelay_streams_total{outcome="completed"} 1`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildDependenciesRejectsUnknownMode(t *testing.T) {
	cfg := memoryConfig()
	cfg.Moderation.Mode = "sometimes"

	_, err := buildDependencies(context.Background(), cfg, nil, zap.NewNop())
	require.Error(t, err)
}

func TestHealthReportsDegradedStore(t *testing.T) {
	gin.SetMode(gin.TestMode)

	authService, err := auth.NewService("wire-secret", time.Hour)
	require.NoError(t, err)

	deps, err := buildDependencies(context.Background(), memoryConfig(), nil, zap.NewNop())
	require.NoError(t, err)

	handler := api.NewHandler(authService, deps.Relay, deps.Repository, api.Options{})
	router := setupRouter(handler, prometheus.NewRegistry(), func(context.Context) error {
		return errors.New("connection refused")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}
