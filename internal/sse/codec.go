// Package sse implements the line-oriented event framing shared by the gateway
// and its clients.
//
// A frame is an optional "event: <type>" line, one "data: <line>" line per line
// of payload, and a single blank line terminating the frame. Consumers rebuild
// the payload by joining consecutive data lines with "\n".
package sse

import (
	"bytes"
	"strings"
)

const (
	EventMessage = "message"
	EventPolicy  = "policy"
	EventError   = "error"
	EventDone    = "done"

	// DoneSentinel is the fixed payload of the terminal frame.
	DoneSentinel = "[DONE]"
)

// Event is one decoded (or to-be-encoded) frame.
type Event struct {
	Type string
	Data string
}

// Message builds a message event.
func Message(text string) Event { return Event{Type: EventMessage, Data: text} }

// Policy builds a policy event.
func Policy(text string) Event { return Event{Type: EventPolicy, Data: text} }

// Error builds an error event.
func Error(text string) Event { return Event{Type: EventError, Data: text} }

// Done builds the terminal event.
func Done() Event { return Event{Type: EventDone, Data: DoneSentinel} }

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Normalize rewrites CRLF and lone CR line breaks to LF.
func Normalize(text string) string {
	return lineBreaks.Replace(text)
}

// EncodeMessage frames text as a message event. The event line is omitted
// because decoders default to "message".
func EncodeMessage(text string) []byte {
	return encode("", text)
}

// EncodeEvent frames text under an explicit event type.
func EncodeEvent(eventType, text string) []byte {
	eventType = sanitizeType(eventType)
	if eventType == "" {
		eventType = EventMessage
	}
	return encode(eventType, text)
}

// EncodeDone frames the terminal event.
func EncodeDone() []byte {
	return encode(EventDone, DoneSentinel)
}

// Encode frames ev using the encoder matching its type.
func Encode(ev Event) []byte {
	switch sanitizeType(ev.Type) {
	case "", EventMessage:
		return EncodeMessage(ev.Data)
	case EventDone:
		return EncodeDone()
	default:
		return EncodeEvent(ev.Type, ev.Data)
	}
}

func encode(eventType, text string) []byte {
	lines := strings.Split(Normalize(text), "\n")

	var buf bytes.Buffer
	buf.Grow(len(text) + len(lines)*len("data: \n") + len(eventType) + 16)
	if eventType != "" {
		buf.WriteString("event: ")
		buf.WriteString(eventType)
		buf.WriteByte('\n')
	}
	for _, line := range lines {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// sanitizeType keeps an event type on a single line.
func sanitizeType(eventType string) string {
	eventType = strings.TrimSpace(eventType)
	if strings.ContainsAny(eventType, "\r\n") {
		eventType = strings.Join(strings.Fields(Normalize(eventType)), " ")
	}
	return eventType
}
