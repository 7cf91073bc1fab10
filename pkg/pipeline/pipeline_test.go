package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinygarden/pkg/aggregate"
	"github.com/nicktill/tinygarden/pkg/cursor"
	"github.com/nicktill/tinygarden/pkg/eventlog"
	"github.com/nicktill/tinygarden/pkg/sessions"
	"github.com/nicktill/tinygarden/pkg/statestore/memory"
)

func newTestPipeline(t *testing.T) (*Pipeline, *eventlog.Registry, *memory.Store) {
	t.Helper()
	registry := eventlog.NewRegistry(t.TempDir(), 1000, nil)
	store := memory.New()
	p := New(registry, store, Config{}, nil)
	p.now = func() time.Time {
		return time.Date(2026, 2, 25, 6, 0, 0, 0, time.UTC)
	}
	return p, registry, store
}

func appendEvents(t *testing.T, registry *eventlog.Registry, stream string, events ...eventlog.Event) {
	t.Helper()
	log, err := registry.Get(stream)
	require.NoError(t, err)
	for _, ev := range events {
		require.NoError(t, log.Append(ev))
	}
}

func TestRunAggregatesWaterEvents(t *testing.T) {
	p, registry, store := newTestPipeline(t)
	ctx := context.Background()

	appendEvents(t, registry, "water",
		eventlog.Event{"timestamp": "2026-02-24T08:00:00Z", "ml": 10.0},
		eventlog.Event{"timestamp": "2026-02-24T14:00:00Z", "ml": 15.0},
		eventlog.Event{"timestamp": "2026-02-24T20:00:00Z", "ml": 20.0},
	)

	require.NoError(t, p.Run(ctx))

	var daily aggregate.DailyStats
	found, err := store.Get(ctx, DailyKey, &daily)
	require.NoError(t, err)
	require.True(t, found)

	day := daily["2026-02-24"]
	require.NotNil(t, day)
	assert.Equal(t, 45.0, day.Water.TotalML)
	assert.Len(t, day.Water.Events, 3)

	var cur cursor.Cursor
	_, err = store.Get(ctx, cursor.Key, &cur)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-24T20:00:00Z", cur.Watermarks.Sources["water"])
	assert.Equal(t, "2026-02-25T06:00:00Z", cur.LastRun)
}

func TestRunSecondPassIsNoOp(t *testing.T) {
	p, registry, store := newTestPipeline(t)
	ctx := context.Background()

	appendEvents(t, registry, "water",
		eventlog.Event{"timestamp": "2026-02-24T08:00:00Z", "ml": 10.0},
	)

	require.NoError(t, p.Run(ctx))
	require.NoError(t, p.Run(ctx))

	var daily aggregate.DailyStats
	_, err := store.Get(ctx, DailyKey, &daily)
	require.NoError(t, err)

	// Committed records stay counted once across runs
	assert.Equal(t, 10.0, daily["2026-02-24"].Water.TotalML)
	assert.Len(t, daily["2026-02-24"].Water.Events, 1)
}

func TestRunMergesAcrossRuns(t *testing.T) {
	p, registry, store := newTestPipeline(t)
	ctx := context.Background()

	appendEvents(t, registry, "moisture",
		eventlog.Event{"timestamp": "2026-02-24T08:00:00Z", "value": 20.0},
	)
	require.NoError(t, p.Run(ctx))

	appendEvents(t, registry, "moisture",
		eventlog.Event{"timestamp": "2026-02-24T16:00:00Z", "value": 40.0},
	)
	require.NoError(t, p.Run(ctx))

	var daily aggregate.DailyStats
	_, err := store.Get(ctx, DailyKey, &daily)
	require.NoError(t, err)

	m := daily["2026-02-24"].Moisture
	assert.Equal(t, 2, m.Count)
	require.NotNil(t, m.Avg)
	assert.Equal(t, 30.0, *m.Avg)
}

func TestRunWritesHourlyAndDayDetail(t *testing.T) {
	p, registry, store := newTestPipeline(t)
	ctx := context.Background()

	appendEvents(t, registry, "moisture",
		eventlog.Event{"timestamp": "2026-02-24T08:10:00Z", "value": 30.0},
		eventlog.Event{"timestamp": "2026-02-24T08:40:00Z", "value": 50.0},
	)
	appendEvents(t, registry, "plant_status",
		eventlog.Event{"timestamp": "2026-02-24T09:00:00Z", "plant_state": "healthy"},
	)

	require.NoError(t, p.Run(ctx))

	var hourly aggregate.HourlyStats
	found, err := store.Get(ctx, HourlyKey, &hourly)
	require.NoError(t, err)
	require.True(t, found)

	h := hourly["2026-02-24T08:00:00Z"]
	require.NotNil(t, h)
	assert.Equal(t, 2, h.Moisture.Count)
	require.NotNil(t, h.Moisture.Avg)
	assert.Equal(t, 40.0, *h.Moisture.Avg)

	var detail DayDetail
	found, err = store.Get(ctx, DayDetailPref+"2026-02-24", &detail)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2026-02-24", detail.Date)
	assert.Equal(t, "healthy", detail.PlantStatus)
	assert.Equal(t, 2, detail.Moisture.Count)
}

func TestRunRefreshesDisplayFields(t *testing.T) {
	p, registry, store := newTestPipeline(t)
	ctx := context.Background()

	appendEvents(t, registry, "plant_status",
		eventlog.Event{"timestamp": "2026-02-23T12:00:00Z", "plant_state": "healthy"},
		eventlog.Event{"timestamp": "2026-02-24T12:00:00Z", "plant_state": "stressed"},
	)
	// Multi-byte content checks that truncation never splits a rune
	long := strings.Repeat("ñ", 300)
	appendEvents(t, registry, MessagesStream,
		eventlog.Event{"timestamp": "2026-02-24T18:00:00Z", "content": long},
	)

	require.NoError(t, p.Run(ctx))

	var cur cursor.Cursor
	_, err := store.Get(ctx, cursor.Key, &cur)
	require.NoError(t, err)

	// Most recent date wins the headline status
	assert.Equal(t, "stressed", cur.PlantStatus)
	require.NotNil(t, cur.LastAgentMessage)
	assert.Equal(t, "2026-02-24T18:00:00Z", cur.LastAgentMessage.Timestamp)
	assert.Equal(t, maxMessagePreview, utf8.RuneCountInString(cur.LastAgentMessage.Content))
	assert.True(t, utf8.ValidString(cur.LastAgentMessage.Content))
}

func TestRunRewritesHourlyEachRun(t *testing.T) {
	p, registry, store := newTestPipeline(t)
	ctx := context.Background()

	appendEvents(t, registry, "moisture",
		eventlog.Event{"timestamp": "2026-02-24T08:10:00Z", "value": 30.0},
	)
	require.NoError(t, p.Run(ctx))

	var hourly aggregate.HourlyStats
	found, err := store.Get(ctx, HourlyKey, &hourly)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, hourly, 1)

	// A run with no new records still rewrites the document, so nothing
	// stale survives past its retention window
	require.NoError(t, p.Run(ctx))

	hourly = nil
	found, err = store.Get(ctx, HourlyKey, &hourly)
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, hourly)
}

func TestRunRegrownSessionFileReplacesDayStats(t *testing.T) {
	sessionsDir := t.TempDir()
	registry := eventlog.NewRegistry(t.TempDir(), 1000, nil)
	store := memory.New()
	p := New(registry, store, Config{SessionsDir: sessionsDir}, nil)
	p.now = func() time.Time {
		return time.Date(2026, 2, 25, 6, 0, 0, 0, time.UTC)
	}
	ctx := context.Background()

	line := `{"message":{"model":"claude-sonnet-4","usage":{"input_tokens":100,"output_tokens":10},"content":[]}}`
	path := filepath.Join(sessionsDir, "s1.jsonl")

	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0o644))
	first := time.Date(2026, 2, 24, 8, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, first, first))
	require.NoError(t, p.Run(ctx))

	// The same file grows and its mtime advances past the watermark: the
	// re-parse already counts the earlier turns, so the day's entry is
	// replaced rather than added to
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"+line+"\n"), 0o644))
	second := time.Date(2026, 2, 24, 9, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, second, second))
	require.NoError(t, p.Run(ctx))

	stored := make(sessions.ByDate)
	found, err := store.Get(ctx, SessionsKey, &stored)
	require.NoError(t, err)
	require.True(t, found)

	day := stored["2026-02-24"]
	require.NotNil(t, day)
	assert.Equal(t, 1, day.Sessions)
	assert.Equal(t, 200, day.InputTokens)
	assert.Equal(t, 20, day.OutputTokens)
}

func TestRunEmptyStreamsStillCommits(t *testing.T) {
	p, _, store := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Run(ctx))

	var cur cursor.Cursor
	found, err := store.Get(ctx, cursor.Key, &cur)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2026-02-25T06:00:00Z", cur.LastRun)
	for _, src := range DefaultSources {
		assert.Equal(t, cursor.Epoch, cur.Watermarks.Sources[src.Name])
	}
}
