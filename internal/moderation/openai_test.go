package moderation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModerationServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/moderations") {
			http.NotFound(w, r)
			return
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode moderation request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newOpenAIClient(baseURL string) *openai.Client {
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = baseURL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

func TestOpenAIClassifierFlagged(t *testing.T) {
	srv := newModerationServer(t, http.StatusOK, `{
		"id": "modr-1",
		"model": "omni-moderation-latest",
		"results": [{
			"flagged": true,
			"categories": {"self-harm": true, "self-harm/intent": true, "hate": false},
			"category_scores": {"self-harm": 0.98}
		}]
	}`)

	classifier := NewOpenAIClassifier(newOpenAIClient(srv.URL), "")

	verdict, err := classifier.Classify(context.Background(), "I want to hurt myself")
	require.NoError(t, err)
	assert.True(t, verdict.Flagged)
	assert.Equal(t, []string{"self-harm", "self-harm/intent"}, verdict.Categories)
}

func TestOpenAIClassifierClean(t *testing.T) {
	srv := newModerationServer(t, http.StatusOK, `{"id":"modr-2","model":"m","results":[{"flagged":false,"categories":{}}]}`)

	verdict, err := NewOpenAIClassifier(newOpenAIClient(srv.URL), "").Classify(context.Background(), "hello")
	require.NoError(t, err)
	assert.False(t, verdict.Flagged)
	assert.Empty(t, verdict.Categories)
}

func TestOpenAIClassifierTransportError(t *testing.T) {
	srv := newModerationServer(t, http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`)

	_, err := NewOpenAIClassifier(newOpenAIClient(srv.URL), "").Classify(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai moderation")
}
