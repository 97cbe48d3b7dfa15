package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuwenbin0122/chatrelay/internal/models"
	"github.com/wuwenbin0122/chatrelay/internal/sse"
)

func chunk(content string) string {
	return fmt.Sprintf(`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"test-model","choices":[{"index":0,"delta":{"content":%q}}]}`, content)
}

// completionServer streams the given deltas in the upstream wire format and
// records the last request body.
func completionServer(t *testing.T, deltas []string, captured *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if captured != nil {
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write(sse.EncodeMessage(`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"test-model","choices":[{"index":0,"delta":{"role":"assistant"}}]}`))
		for _, delta := range deltas {
			_, _ = w.Write(sse.EncodeMessage(chunk(delta)))
		}
		_, _ = w.Write(sse.EncodeMessage(`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"test-model","choices":[]}`))
		_, _ = w.Write(sse.EncodeMessage(sse.DoneSentinel))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIGeneratorStreamsDeltas(t *testing.T) {
	var captured openai.ChatCompletionRequest
	srv := completionServer(t, []string{"Hi", " there", "", "!"}, &captured)

	gen, err := NewOpenAIGenerator(OpenAIConfig{
		APIKey:       "test-key",
		Endpoints:    []string{srv.URL + "/v1/"},
		Model:        "test-model",
		SystemPrompt: "be brief",
	}, nil)
	require.NoError(t, err)

	stream, err := gen.Stream(context.Background(), Prompt{
		Messages: []Message{
			{Role: models.RoleUser, Content: "earlier"},
			{Role: models.RoleAssistant, Content: "answer"},
			{Role: models.RoleUser, Content: "hello"},
		},
		WebSearch: true,
	})
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, []string{"Hi", " there", "!"}, collect(t, stream))

	require.Len(t, captured.Messages, 5)
	assert.Equal(t, openai.ChatMessageRoleSystem, captured.Messages[0].Role)
	assert.Equal(t, "be brief", captured.Messages[0].Content)
	assert.Equal(t, webSearchHint, captured.Messages[1].Content)
	assert.Equal(t, openai.ChatMessageRoleAssistant, captured.Messages[3].Role)
	assert.Equal(t, "hello", captured.Messages[4].Content)
	assert.True(t, captured.Stream)
}

func TestOpenAIGeneratorFailsOverToBackupEndpoint(t *testing.T) {
	var primaryHits int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&primaryHits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	t.Cleanup(primary.Close)

	backup := completionServer(t, []string{"ok"}, nil)

	gen, err := NewOpenAIGenerator(OpenAIConfig{
		APIKey:    "test-key",
		Endpoints: []string{primary.URL + "/v1", "", backup.URL + "/v1"},
		Model:     "test-model",
	}, nil)
	require.NoError(t, err)

	stream, err := gen.Stream(context.Background(), Prompt{Messages: []Message{{Role: models.RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, []string{"ok"}, collect(t, stream))
	assert.Equal(t, int32(1), atomic.LoadInt32(&primaryHits))
}

func TestOpenAIGeneratorAllEndpointsFail(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(down.Close)

	gen, err := NewOpenAIGenerator(OpenAIConfig{Endpoints: []string{down.URL}, Model: "test-model"}, nil)
	require.NoError(t, err)

	_, err = gen.Stream(context.Background(), Prompt{Messages: []Message{{Role: models.RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm: open stream")
}

func TestNewOpenAIGeneratorValidates(t *testing.T) {
	_, err := NewOpenAIGenerator(OpenAIConfig{Endpoints: []string{"http://localhost"}}, nil)
	assert.Error(t, err)

	_, err = NewOpenAIGenerator(OpenAIConfig{Model: "m", Endpoints: []string{" "}}, nil)
	assert.Error(t, err)
}
