package sse

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxLineSize bounds a single wire line; long model outputs are split into many lines.
const maxLineSize = 1 << 20

// Decoder reassembles frames from individual wire lines. It keeps state for a
// single stream only; use one Decoder per connection.
type Decoder struct {
	eventType string
	data      []string
}

// NewDecoder returns a Decoder positioned at the start of a stream.
func NewDecoder() *Decoder {
	return &Decoder{eventType: EventMessage}
}

// Feed consumes one line (without its terminator) and reports a completed
// event when the line is blank. Comments and malformed lines are ignored.
func (d *Decoder) Feed(line string) (Event, bool) {
	line = strings.TrimSuffix(line, "\r")

	switch {
	case line == "":
		// every blank line closes a frame, even an empty one
		return d.dispatch(), true
	case strings.HasPrefix(line, "event:"):
		value := strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		if value == "" {
			value = EventMessage
		}
		d.eventType = value
	case strings.HasPrefix(line, "data:"):
		value := strings.TrimPrefix(line, "data:")
		value = strings.TrimPrefix(value, " ")
		d.data = append(d.data, value)
	}

	return Event{}, false
}

// Flush emits whatever is buffered when the stream ends without a trailing
// blank line.
func (d *Decoder) Flush() (Event, bool) {
	if len(d.data) == 0 {
		d.reset()
		return Event{}, false
	}
	return d.dispatch(), true
}

func (d *Decoder) dispatch() Event {
	ev := Event{Type: d.eventType, Data: strings.Join(d.data, "\n")}
	d.reset()
	return ev
}

func (d *Decoder) reset() {
	d.eventType = EventMessage
	d.data = d.data[:0]
}

// Decode reads r until EOF and calls fn for every decoded event, in wire order.
// Returning an error from fn stops decoding and returns that error.
func Decode(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	dec := NewDecoder()
	for scanner.Scan() {
		if ev, ok := dec.Feed(scanner.Text()); ok {
			if err := fn(ev); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("sse: read stream: %w", err)
	}

	if ev, ok := dec.Flush(); ok {
		return fn(ev)
	}
	return nil
}

// DecodeAll collects every event of r.
func DecodeAll(r io.Reader) ([]Event, error) {
	var events []Event
	err := Decode(r, func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	return events, err
}

// DecodeFrame decodes one encoded frame, as carried by a single WebSocket message.
func DecodeFrame(frame []byte) (Event, bool) {
	events, err := DecodeAll(strings.NewReader(string(frame)))
	if err != nil || len(events) == 0 {
		return Event{}, false
	}
	return events[0], true
}
