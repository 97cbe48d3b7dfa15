package moderation

import (
	"context"
	"sort"
	"strings"
)

var defaultKeywords = map[string]string{
	"hurt myself":  "self-harm",
	"kill myself":  "self-harm",
	"end my life":  "self-harm",
	"suicide":      "self-harm",
	"self harm":    "self-harm",
	"build a bomb": "violence",
	"make a bomb":  "violence",
	"kill someone": "violence",
	"child sexual": "sexual/minors",
}

// KeywordClassifier flags text containing any configured phrase. It is used
// when no hosted moderation endpoint is configured.
type KeywordClassifier struct {
	phrases map[string]string
}

// NewKeywordClassifier extends the built-in phrase list with extra phrases,
// which are reported under the "custom" category.
func NewKeywordClassifier(extra []string) *KeywordClassifier {
	phrases := make(map[string]string, len(defaultKeywords)+len(extra))
	for phrase, category := range defaultKeywords {
		phrases[phrase] = category
	}
	for _, phrase := range extra {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase == "" {
			continue
		}
		if _, exists := phrases[phrase]; !exists {
			phrases[phrase] = "custom"
		}
	}
	return &KeywordClassifier{phrases: phrases}
}

func (k *KeywordClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}

	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	seen := make(map[string]struct{})
	for phrase, category := range k.phrases {
		if strings.Contains(normalized, phrase) {
			seen[category] = struct{}{}
		}
	}

	if len(seen) == 0 {
		return Verdict{}, nil
	}

	categories := make([]string, 0, len(seen))
	for category := range seen {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	return Verdict{Flagged: true, Categories: categories}, nil
}
