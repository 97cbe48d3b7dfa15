// Package llm adapts generation backends to a single fragment stream.
package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/wuwenbin0122/chatrelay/internal/models"
)

var ErrEmptyPrompt = errors.New("llm: prompt has no messages")

type Message struct {
	Role    models.Role
	Content string
}

// Prompt carries the per-request options alongside the conversation.
type Prompt struct {
	Messages  []Message
	WebSearch bool
}

// LastUserMessage returns the content of the most recent user message.
func (p Prompt) LastUserMessage() string {
	for i := len(p.Messages) - 1; i >= 0; i-- {
		if p.Messages[i].Role == models.RoleUser {
			return p.Messages[i].Content
		}
	}
	return ""
}

type Generator interface {
	Stream(ctx context.Context, prompt Prompt) (Stream, error)
}

// Stream yields fragments until Next returns io.EOF. Close releases the
// upstream connection and may be called at any point.
type Stream interface {
	Next(ctx context.Context) (Fragment, error)
	Close() error
}

type FragmentKind int

const (
	KindText FragmentKind = iota
	KindBlocks
	KindMessage
)

// Block is one typed piece of a structured fragment.
type Block struct {
	Type string
	Text string
}

// Fragment is one increment from a backend. Backends deliver plain strings,
// lists of content blocks, or whole message objects; Text flattens all of them.
type Fragment struct {
	Kind    FragmentKind
	Text    string
	Blocks  []Block
	Message *Message
}

func TextFragment(text string) Fragment {
	return Fragment{Kind: KindText, Text: text}
}

func BlocksFragment(blocks ...Block) Fragment {
	return Fragment{Kind: KindBlocks, Blocks: blocks}
}

func MessageFragment(msg Message) Fragment {
	return Fragment{Kind: KindMessage, Message: &msg}
}

// PlainText returns the user-visible text of the fragment. Non-text blocks
// (images, tool calls) contribute nothing.
func (f Fragment) PlainText() string {
	switch f.Kind {
	case KindText:
		return f.Text
	case KindBlocks:
		var b strings.Builder
		for _, block := range f.Blocks {
			switch strings.ToLower(block.Type) {
			case "", "text", "output_text":
				b.WriteString(block.Text)
			}
		}
		return b.String()
	case KindMessage:
		if f.Message == nil {
			return ""
		}
		return f.Message.Content
	default:
		return ""
	}
}
