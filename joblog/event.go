// Package joblog captures the log output of a single invocation so it
// can be streamed to live subscribers and persisted as an artifact once
// the invocation finishes.
package joblog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"time"

	"github.com/parcelforge/conveyor/errors"
)

// Event is one captured log line. Artifacts are line-oriented JSON: one
// marshalled Event per line, in emission order.
type Event struct {
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// EncodeEvents renders events as line-oriented JSON. An empty slice
// encodes to an empty body.
func EncodeEvents(events []Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return nil, errors.Wrap(err, "failed to encode log event")
		}
	}
	return buf.Bytes(), nil
}

// DecodeEvents parses a line-oriented JSON artifact. Blank lines are
// ignored so hand-truncated artifacts still load.
func DecodeEvents(body []byte) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, errors.Wrap(err, "failed to decode log event line")
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read log artifact")
	}
	return events, nil
}
