package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Event types carried on the stream. Anything else is treated as an
// upsert by the collection.
const (
	EventInsert  = "insert"
	EventUpdate  = "update"
	EventDelete  = "delete"
	EventInitial = "initial"
	EventMessage = "message" // default when the frame has no event field
)

// Frame is one server-sent event: an optional id, an event type, and the
// joined data lines.
type Frame struct {
	ID    string
	Event string
	Data  string
}

// Record decodes the frame data as a JSON object. Records are keyed by
// their "id" field.
func (f Frame) Record() (map[string]any, error) {
	var rec map[string]any
	if err := json.Unmarshal([]byte(f.Data), &rec); err != nil {
		return nil, fmt.Errorf("undecodable frame data: %w", err)
	}
	if _, ok := rec["id"].(string); !ok {
		return nil, fmt.Errorf("frame record has no string id")
	}
	return rec, nil
}

// frameReader parses a text/event-stream body into frames. Frames are
// separated by a blank line; "data" lines are joined with newlines;
// comment lines (leading colon) are skipped.
type frameReader struct {
	scanner *bufio.Scanner
	lastID  string
}

func newFrameReader(r io.Reader) *frameReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), 1<<20)
	return &frameReader{scanner: s}
}

// LastID returns the id of the most recent frame that carried one, used
// as Last-Event-ID on reconnect.
func (fr *frameReader) LastID() string {
	return fr.lastID
}

// Next returns the next complete frame, or io.EOF when the stream ends.
// A frame with no data lines (e.g. a bare keepalive comment block) is
// skipped.
func (fr *frameReader) Next() (Frame, error) {
	frame := Frame{Event: EventMessage}
	var data []string
	sawField := false

	for fr.scanner.Scan() {
		line := fr.scanner.Text()

		if line == "" {
			if len(data) > 0 {
				frame.Data = strings.Join(data, "\n")
				if frame.ID != "" {
					fr.lastID = frame.ID
				}
				return frame, nil
			}
			// Dispatch boundary with nothing buffered: reset and keep reading.
			frame = Frame{Event: EventMessage}
			sawField = false
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			frame.ID = value
			sawField = true
		case "event":
			frame.Event = value
			sawField = true
		case "data":
			data = append(data, value)
			sawField = true
		default:
			// Unknown field names are ignored per the format.
		}
	}

	if err := fr.scanner.Err(); err != nil {
		return Frame{}, err
	}
	if sawField && len(data) > 0 {
		frame.Data = strings.Join(data, "\n")
		if frame.ID != "" {
			fr.lastID = frame.ID
		}
		return frame, nil
	}
	return Frame{}, io.EOF
}
