package eventlog

import (
	"encoding/json"
	"time"

	"github.com/nicktill/tinygarden/pkg/timeutil"
)

// TimestampField is the field every event is expected to carry. The log never
// validates it on append; queries that filter on it silently skip records
// where it is missing or malformed.
const TimestampField = "timestamp"

// Event is a schema-flexible record. Domain meaning lives in the producing
// tool; the log treats events as opaque beyond the timestamp field.
type Event map[string]any

// Timestamp parses the event's timestamp field. The bool result is false when
// the field is absent, not a string, or unparsable.
func (e Event) Timestamp() (time.Time, bool) {
	raw, ok := e[TimestampField].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := timeutil.Parse(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Float extracts a numeric field. JSON numbers decode as float64, but events
// appended in-process may carry native int values.
func (e Event) Float(field string) (float64, bool) {
	switch v := e[field].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// String extracts a string field, returning "" when absent or not a string.
func (e Event) String(field string) string {
	s, _ := e[field].(string)
	return s
}
