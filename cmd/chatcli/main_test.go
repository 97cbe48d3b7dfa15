package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuwenbin0122/chatrelay/internal/api"
	"github.com/wuwenbin0122/chatrelay/internal/auth"
	"github.com/wuwenbin0122/chatrelay/internal/llm"
	"github.com/wuwenbin0122/chatrelay/internal/moderation"
	"github.com/wuwenbin0122/chatrelay/internal/relay"
	"github.com/wuwenbin0122/chatrelay/internal/transcript"
)

func startServer(t *testing.T) (string, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authService, err := auth.NewService("cli-secret", time.Hour)
	require.NoError(t, err)
	store := transcript.NewMemoryStore()
	gate := moderation.NewGate(moderation.NewKeywordClassifier(nil), moderation.Config{Enabled: true}, nil)
	rl := relay.New(relay.Deps{Gate: gate, Generator: llm.Echo{}, Store: store, Threads: store, Profiles: store}, relay.Config{})

	router := gin.New()
	api.NewHandler(authService, rl, store, api.Options{}).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	result, err := authService.Register(context.Background(), auth.RegisterInput{Username: "erin", Password: "secret123"})
	require.NoError(t, err)
	return srv.URL, result.Token
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSendHistoryAndThreads(t *testing.T) {
	server, token := startServer(t)

	out, err := run(t, "--server", server, "--token", token, "send", "--thread", "cli-1", "hello", "relay")
	require.NoError(t, err)
	assert.Equal(t, "hello relay \n", out)

	out, err = run(t, "--server", server, "--token", token, "history", "cli-1")
	require.NoError(t, err)
	assert.Contains(t, out, "#1 user")
	assert.Contains(t, out, "#2 assistant")
	assert.Contains(t, out, "hello relay")

	out, err = run(t, "--server", server, "--token", token, "threads")
	require.NoError(t, err)
	assert.Contains(t, out, "cli-1")
}

func TestSendPrintsPolicy(t *testing.T) {
	server, token := startServer(t)

	out, err := run(t, "--server", server, "--token", token, "send", "I want to hurt myself")
	require.NoError(t, err)
	assert.Contains(t, out, "[policy] "+relay.DefaultPolicyMessage)
}

func TestSendWithoutTokenFails(t *testing.T) {
	server, _ := startServer(t)

	_, err := run(t, "--server", server, "--token", "", "send", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestProfileShowAndUpdate(t *testing.T) {
	server, token := startServer(t)

	out, err := run(t, "--server", server, "--token", token, "profile")
	require.NoError(t, err)
	assert.Contains(t, out, "name:       erin")
	assert.Contains(t, out, "web search: false")
	assert.Contains(t, out, "locale:     en")

	out, err = run(t, "--server", server, "--token", token, "profile", "--web-search-default", "--tz", "Europe/Berlin")
	require.NoError(t, err)
	assert.Contains(t, out, "name:       erin")
	assert.Contains(t, out, "web search: true")
	assert.Contains(t, out, "timezone:   Europe/Berlin")
}
