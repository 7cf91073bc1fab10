// Package timeutil provides the timestamp parsing and bucket-key helpers
// shared by the event log and the aggregation pipeline.
package timeutil

import (
	"strings"
	"time"
)

// Epoch is the default watermark: everything is newer than this, so a source
// with an epoch watermark gets fully reprocessed.
const Epoch = "1970-01-01T00:00:00Z"

// Parse parses an ISO-8601 timestamp, accepting both "Z" and numeric offsets,
// with or without fractional seconds. The result is normalized to UTC.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// Timestamps written without a zone are treated as UTC
		t, err = time.Parse("2006-01-02T15:04:05", s)
		if err != nil {
			return time.Time{}, err
		}
		t = t.UTC()
	}
	return t.UTC(), nil
}

// Format renders a time as the ISO-8601 form used throughout the durable
// files: second precision, Z suffix.
func Format(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// DateOf returns the YYYY-MM-DD key for a timestamp, UTC.
func DateOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// HourBucket returns the hour-aligned key YYYY-MM-DDTHH:00:00Z for a
// timestamp, UTC.
func HourBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:00:00Z")
}

// After reports whether timestamp ts is strictly after the watermark wm, both
// ISO-8601 strings. Unparsable inputs compare as not-after, which keeps
// malformed records out of watermark-gated windows.
func After(ts, wm string) bool {
	t, err := Parse(ts)
	if err != nil {
		return false
	}
	w, err := Parse(wm)
	if err != nil {
		return false
	}
	return t.After(w)
}
