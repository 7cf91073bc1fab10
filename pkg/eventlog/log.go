// Package eventlog implements append-only JSONL event streams with a bounded
// in-memory cache and temporal querying.
//
// Durable storage keeps the full history forever, one self-contained JSON
// record per line. Only the cache is bounded: the newest MaxEntries records,
// evicted oldest-first. The log assumes a single writing process; concurrent
// readers of the durable file are safe because existing content is never
// rewritten.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxLineBytes bounds a single durable record during load.
const maxLineBytes = 1 << 20

// Log manages one named event stream: a JSONL file plus a bounded cache of
// the most recent entries, hydrated lazily on first access.
type Log struct {
	path       string
	maxEntries int
	logger     *zap.SugaredLogger

	mu      sync.Mutex
	entries []Event
	loaded  bool
}

// Open creates a handle for the stream stored at path. The file is not read
// until the first append or query. maxEntries bounds the cache, not the file.
func Open(path string, maxEntries int, logger *zap.SugaredLogger) *Log {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Log{
		path:       path,
		maxEntries: maxEntries,
		logger:     logger,
	}
}

// Path returns the durable location of the stream.
func (l *Log) Path() string {
	return l.path
}

// Append adds an event to the cache and appends one record to the durable
// file. The cache mutation always succeeds; a durable write failure is logged
// and returned, and must not be treated as fatal by callers with unrelated
// work in flight.
func (l *Log) Append(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ensureLoaded()

	l.entries = append(l.entries, event)
	l.prune()

	line, err := json.Marshal(event)
	if err != nil {
		l.logger.Warnw("failed to serialize event, durable write skipped",
			"path", l.path, "error", err)
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	if err := l.writeLine(line); err != nil {
		l.logger.Warnw("failed to append to event log",
			"path", l.path, "error", err)
		return fmt.Errorf("failed to append to %s: %w", l.path, err)
	}
	return nil
}

// writeLine appends a single record to the durable file, creating the parent
// directory and the file on first use.
func (l *Log) writeLine(line []byte) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// EnsureLoaded hydrates the cache from the durable file if it has not been
// loaded yet. Queries and appends call this implicitly; it is exported for
// callers that want to front-load the disk read.
func (l *Log) EnsureLoaded() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded()
}

func (l *Log) ensureLoaded() {
	if l.loaded {
		return
	}
	l.loaded = true
	l.load()
}

// load reads the entire durable file, parsing each line independently. A line
// that fails to parse is skipped with a warning so one corrupt record cannot
// lose the rest of the history. Only the newest maxEntries records stay in
// the cache.
func (l *Log) load() {
	f, err := os.Open(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warnw("failed to open event log", "path", l.path, "error", err)
		}
		l.entries = nil
		return
	}
	defer f.Close()

	var all []Event
	skipped := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			skipped++
			l.logger.Warnw("skipping malformed record", "path", l.path, "error", err)
			continue
		}
		all = append(all, ev)
	}
	if err := scanner.Err(); err != nil {
		// A truncated trailing record must not drop the lines before it
		l.logger.Warnw("event log read stopped early", "path", l.path, "error", err)
	}

	if len(all) > l.maxEntries {
		all = all[len(all)-l.maxEntries:]
	}
	l.entries = all

	if skipped > 0 {
		l.logger.Warnw("loaded event log with skipped records",
			"path", l.path, "loaded", len(l.entries), "skipped", skipped)
	} else {
		l.logger.Debugw("loaded event log", "path", l.path, "entries", len(l.entries))
	}
}

// All returns every entry currently cached, oldest first. The view never
// reaches past the cache bound even when the file holds more history.
func (l *Log) All() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded()

	out := make([]Event, len(l.entries))
	copy(out, l.entries)
	return out
}

// Recent returns the n most recent entries, skipping offset entries from the
// newest backward: offset=5, n=3 returns the 6th through 8th most recent.
// Results stay in chronological order.
func (l *Log) Recent(n, offset int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded()

	if n <= 0 || offset < 0 {
		return nil
	}
	total := len(l.entries)
	end := total - offset
	if end <= 0 {
		return nil
	}
	start := end - n
	if start < 0 {
		start = 0
	}

	out := make([]Event, end-start)
	copy(out, l.entries[start:end])
	return out
}

// ByTimeRange returns cached entries whose timestamp falls in [start, end],
// inclusive. Entries with missing or unparsable timestamps are excluded.
func (l *Log) ByTimeRange(start, end time.Time) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded()

	var out []Event
	for _, ev := range l.entries {
		ts, ok := ev.Timestamp()
		if !ok {
			continue
		}
		if ts.Before(start) || ts.After(end) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// ByTimeWindow returns cached entries from the last hours hours.
func (l *Log) ByTimeWindow(hours int) []Event {
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded()

	var out []Event
	for _, ev := range l.entries {
		ts, ok := ev.Timestamp()
		if !ok {
			continue
		}
		if ts.Before(cutoff) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Search returns cached entries containing keyword as a substring. With
// fields set, only those fields are searched; otherwise the full serialized
// record is. Matching is case-insensitive unless caseSensitive is set.
func (l *Log) Search(keyword string, fields []string, caseSensitive bool) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded()

	if !caseSensitive {
		keyword = strings.ToLower(keyword)
	}

	var out []Event
	for _, ev := range l.entries {
		var searchable string
		if len(fields) > 0 {
			parts := make([]string, 0, len(fields))
			for _, f := range fields {
				if v, ok := ev[f]; ok {
					parts = append(parts, fmt.Sprint(v))
				}
			}
			searchable = strings.Join(parts, " ")
		} else {
			raw, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			searchable = string(raw)
		}

		if !caseSensitive {
			searchable = strings.ToLower(searchable)
		}
		if strings.Contains(searchable, keyword) {
			out = append(out, ev)
		}
	}
	return out
}

// Clear resets the cache and the loaded state. The durable file is untouched;
// the next access reloads from disk. Intended for test isolation.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.loaded = false
}

// Len reports the number of cached entries without triggering a load, so it
// stays meaningful right after Clear.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// prune evicts oldest entries until the cache fits the bound. Caller holds mu.
func (l *Log) prune() {
	if over := len(l.entries) - l.maxEntries; over > 0 {
		l.entries = append([]Event(nil), l.entries[over:]...)
	}
}
