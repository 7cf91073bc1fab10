// Package cursor persists the pipeline's per-source watermarks and the
// denormalized display fields refreshed each run.
//
// The cursor is written exactly once per pipeline run, strictly last. A crash
// before that write leaves the previous watermarks in place, so the next run
// reprocesses the same window: at-least-once semantics, double-counting
// accepted (see pkg/aggregate).
package cursor

import (
	"context"
	"fmt"
	"time"

	"github.com/nicktill/tinygarden/pkg/statestore"
	"github.com/nicktill/tinygarden/pkg/timeutil"
)

// Key is the statestore key the cursor document lives under.
const Key = "cursor"

// Epoch is the default watermark for a source that has never been processed.
const Epoch = timeutil.Epoch

// Message is a denormalized copy of the most recent agent message, kept on
// the cursor for dashboards.
type Message struct {
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
}

// Watermarks holds the fully-processed-through markers, one per source.
type Watermarks struct {
	// SessionsLastModified gates session files by modification time.
	SessionsLastModified string `json:"sessions_last_modified"`

	// Sources maps sensor stream name to the latest record timestamp
	// committed for it.
	Sources map[string]string `json:"sources"`
}

// Cursor is the durable processing state plus display fields.
type Cursor struct {
	LastRun          string     `json:"last_run,omitempty"`
	PlantStatus      string     `json:"plant_status,omitempty"`
	LastAgentMessage *Message   `json:"last_agent_message,omitempty"`
	Watermarks       Watermarks `json:"watermarks"`
}

// Load reads the cursor, filling every missing watermark with the epoch.
// A missing cursor document means "never run" and is not an error; every
// expected source then starts from the epoch and gets fully reprocessed.
func Load(ctx context.Context, store statestore.Store, sources []string) (*Cursor, error) {
	var c Cursor
	if _, err := store.Get(ctx, Key, &c); err != nil {
		return nil, fmt.Errorf("failed to load cursor: %w", err)
	}

	if c.Watermarks.SessionsLastModified == "" {
		c.Watermarks.SessionsLastModified = Epoch
	}
	if c.Watermarks.Sources == nil {
		c.Watermarks.Sources = make(map[string]string)
	}
	for _, name := range sources {
		if c.Watermarks.Sources[name] == "" {
			c.Watermarks.Sources[name] = Epoch
		}
	}
	return &c, nil
}

// Save stamps last_run and writes the whole cursor in one put. Call this LAST
// in a pipeline run: it is the write that commits the run. A zero now means
// the current UTC time.
func Save(ctx context.Context, store statestore.Store, c *Cursor, now time.Time) error {
	if now.IsZero() {
		now = time.Now()
	}
	c.LastRun = timeutil.Format(now)

	if err := store.Put(ctx, Key, c); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}
