package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClassifier calls the hosted moderation endpoint.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

func NewOpenAIClassifier(client *openai.Client, model string) *OpenAIClassifier {
	return &OpenAIClassifier{client: client, model: model}
}

func (o *OpenAIClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	resp, err := o.client.Moderations(ctx, openai.ModerationRequest{
		Input: text,
		Model: o.model,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("openai moderation: %w", err)
	}

	seen := make(map[string]struct{})
	var verdict Verdict
	for _, result := range resp.Results {
		if result.Flagged {
			verdict.Flagged = true
		}
		flagged, err := flaggedCategories(result.Categories)
		if err != nil {
			return Verdict{}, err
		}
		for _, category := range flagged {
			seen[category] = struct{}{}
		}
	}

	for category := range seen {
		verdict.Categories = append(verdict.Categories, category)
	}
	sort.Strings(verdict.Categories)

	return verdict, nil
}

// flaggedCategories reads the category names off the response's json tags so
// new categories show up without code changes.
func flaggedCategories(categories openai.ResultCategories) ([]string, error) {
	raw, err := json.Marshal(categories)
	if err != nil {
		return nil, fmt.Errorf("openai moderation: encode categories: %w", err)
	}

	var flags map[string]bool
	if err := json.Unmarshal(raw, &flags); err != nil {
		return nil, fmt.Errorf("openai moderation: decode categories: %w", err)
	}

	names := make([]string, 0, len(flags))
	for name, flagged := range flags {
		if flagged {
			names = append(names, name)
		}
	}
	return names, nil
}
