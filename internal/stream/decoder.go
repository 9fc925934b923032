// Package stream reconstructs discrete protocol events from network byte
// chunks arriving at arbitrary boundaries.
package stream

import (
	"bytes"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
)

// Dialect selects the framing a backend uses for streamed responses.
type Dialect int

const (
	// DialectNDJSON is newline-delimited JSON objects, one per event, with
	// a terminal object carrying done:true (Ollama native API).
	DialectNDJSON Dialect = iota
	// DialectSSE is Server-Sent-Events-style "data: <json>" lines
	// terminated by a literal "data: [DONE]" line (OpenAI-compatible APIs).
	DialectSSE
)

// Event is one decoded stream event: a text delta, a completion marker,
// or both.
type Event struct {
	Delta string
	Done  bool
}

// Decoder turns a sequence of opaque byte chunks into events. It keeps the
// trailing partial line between chunks, so chunk boundaries never influence
// the decoded output. A decoder serves exactly one stream; it is not
// restartable.
type Decoder struct {
	dialect Dialect
	buf     []byte
	done    bool
	logger  *slog.Logger
}

// NewDecoder creates a decoder for the given dialect.
func NewDecoder(dialect Dialect, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{dialect: dialect, logger: logger}
}

// Done reports whether the stream's explicit completion signal was observed.
func (d *Decoder) Done() bool {
	return d.done
}

// Ingest appends a chunk to the carry-over buffer and decodes every complete
// line it now holds. The final, possibly incomplete segment is retained for
// the next call. Once the completion signal is seen, remaining input is
// ignored.
func (d *Decoder) Ingest(chunk []byte) []Event {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var events []Event
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := d.buf[:idx]
		d.buf = d.buf[idx+1:]

		ev, ok := d.decodeLine(line)
		if !ok {
			continue
		}
		events = append(events, ev)
		if ev.Done {
			d.done = true
			d.buf = nil
			break
		}
	}
	return events
}

// Flush decodes whatever remains in the buffer at end-of-input. Servers
// normally terminate every frame with a newline, but a final unterminated
// line is still decoded rather than dropped.
func (d *Decoder) Flush() []Event {
	if d.done || len(d.buf) == 0 {
		return nil
	}
	line := d.buf
	d.buf = nil
	ev, ok := d.decodeLine(line)
	if !ok {
		return nil
	}
	if ev.Done {
		d.done = true
	}
	return []Event{ev}
}

func (d *Decoder) decodeLine(line []byte) (Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Event{}, false
	}

	switch d.dialect {
	case DialectNDJSON:
		return d.decodeNDJSON(line)
	default:
		return d.decodeSSE(line)
	}
}

func (d *Decoder) decodeNDJSON(line []byte) (Event, bool) {
	if !gjson.ValidBytes(line) {
		d.logger.Debug("skipping unparseable stream line", "line", truncate(line))
		return Event{}, false
	}
	// The terminal frame may carry a final delta alongside done:true; both
	// ride on the same event.
	ev := Event{Done: gjson.GetBytes(line, "done").Bool()}
	if content := gjson.GetBytes(line, "message.content"); content.Exists() {
		ev.Delta = content.String()
		return ev, true
	}
	return ev, ev.Done
}

func (d *Decoder) decodeSSE(line []byte) (Event, bool) {
	payload := line
	if bytes.HasPrefix(line, []byte("data:")) {
		payload = bytes.TrimSpace(line[len("data:"):])
	}
	if string(payload) == "[DONE]" {
		return Event{Done: true}, true
	}
	if !gjson.ValidBytes(payload) {
		d.logger.Debug("skipping unparseable stream line", "line", truncate(line))
		return Event{}, false
	}
	if delta := extractDelta(payload); delta != "" {
		return Event{Delta: delta}, true
	}
	return Event{}, false
}

// extractDelta pulls the text delta out of an SSE payload. The field order
// is a compatibility shim over several server dialects; the first non-empty
// field wins.
func extractDelta(payload []byte) string {
	for _, path := range [...]string{"choices.0.delta.content", "content", "message.content"} {
		if v := gjson.GetBytes(payload, path); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

func truncate(line []byte) string {
	const max = 200
	s := strings.ToValidUTF8(string(line), "")
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
