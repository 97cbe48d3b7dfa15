package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/chatrelay/internal/models"
)

const webSearchHint = "Web search is enabled for this turn. Prefer current, sourced information and cite where it came from."

type OpenAIConfig struct {
	APIKey       string
	Endpoints    []string
	Model        string
	Temperature  float32
	MaxTokens    int
	SystemPrompt string
}

// OpenAIGenerator streams chat completions from an OpenAI-compatible API,
// trying each configured endpoint in order until one accepts the request.
type OpenAIGenerator struct {
	clients []endpointClient
	cfg     OpenAIConfig
	logger  *zap.Logger
}

type endpointClient struct {
	baseURL string
	client  *openai.Client
}

func NewOpenAIGenerator(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIGenerator, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("llm: model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var clients []endpointClient
	for _, endpoint := range cfg.Endpoints {
		endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
		if endpoint == "" {
			continue
		}
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		clientCfg.BaseURL = endpoint
		clients = append(clients, endpointClient{baseURL: endpoint, client: openai.NewClientWithConfig(clientCfg)})
	}
	if len(clients) == 0 {
		return nil, errors.New("llm: at least one endpoint is required")
	}

	return &OpenAIGenerator{clients: clients, cfg: cfg, logger: logger}, nil
}

func (g *OpenAIGenerator) Stream(ctx context.Context, prompt Prompt) (Stream, error) {
	if len(prompt.Messages) == 0 {
		return nil, ErrEmptyPrompt
	}

	req := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Messages:    g.buildMessages(prompt),
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
		Stream:      true,
	}

	var lastErr error
	for _, ec := range g.clients {
		stream, err := ec.client.CreateChatCompletionStream(ctx, req)
		if err == nil {
			return &openAIStream{stream: stream}, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("llm: open stream: %w", ctx.Err())
		}
		g.logger.Warn("llm endpoint rejected stream", zap.String("endpoint", ec.baseURL), zap.Error(err))
		lastErr = err
	}

	return nil, fmt.Errorf("llm: open stream: %w", lastErr)
}

func (g *OpenAIGenerator) buildMessages(prompt Prompt) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(prompt.Messages)+2)
	if system := strings.TrimSpace(g.cfg.SystemPrompt); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	if prompt.WebSearch {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: webSearchHint})
	}
	for _, msg := range prompt.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: chatRole(msg.Role), Content: msg.Content})
	}
	return messages
}

func chatRole(role models.Role) string {
	switch role {
	case models.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case models.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Next(ctx context.Context) (Fragment, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Fragment{}, err
		}

		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return Fragment{}, io.EOF
		}
		if err != nil {
			return Fragment{}, fmt.Errorf("llm: receive: %w", err)
		}

		if len(resp.Choices) == 0 {
			continue
		}
		// role-only and finish chunks carry no content
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			return TextFragment(delta), nil
		}
	}
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}
