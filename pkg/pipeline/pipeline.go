// Package pipeline runs the periodic aggregation pass: it drains new records
// from every sensor stream, folds them into the daily and hourly rollup
// documents, accounts session costs, and commits the advanced watermarks.
//
// The run is a single linear path with no rollback. Derived documents are
// written before the cursor; a failure in between means the next run
// re-derives the same window from the old watermarks. That is deliberate:
// at-least-once with idempotent-enough outputs beats a transaction layer
// here.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tinygarden/pkg/aggregate"
	"github.com/nicktill/tinygarden/pkg/cursor"
	"github.com/nicktill/tinygarden/pkg/eventlog"
	"github.com/nicktill/tinygarden/pkg/sessions"
	"github.com/nicktill/tinygarden/pkg/statestore"
	"github.com/nicktill/tinygarden/pkg/timeutil"
)

// Statestore keys for the derived documents.
const (
	DailyKey      = "daily"
	HourlyKey     = "hourly"
	SessionsKey   = "sessions"
	DayDetailPref = "day/"
)

// MessagesStream is the event stream the display fields read the latest
// agent message from. It is not watermark-gated.
const MessagesStream = "messages"

// maxMessagePreview caps the denormalized message content on the cursor,
// measured in runes.
const maxMessagePreview = 200

// Source binds a sensor stream name to the reducer its records feed.
type Source struct {
	Name     string
	Category aggregate.Category
}

// DefaultSources is the standard stream-to-category wiring.
var DefaultSources = []Source{
	{Name: "moisture", Category: aggregate.CategoryMoisture},
	{Name: "light", Category: aggregate.CategoryLight},
	{Name: "water", Category: aggregate.CategoryWater},
	{Name: "plant_status", Category: aggregate.CategoryPlantStatus},
}

// DayDetail is the per-date document written under "day/YYYY-MM-DD".
type DayDetail struct {
	Date        string                  `json:"date"`
	PlantStatus string                  `json:"plant_status"`
	Moisture    aggregate.MoistureStats `json:"moisture"`
	LightEvents []aggregate.LightEvent  `json:"light_events"`
	WaterEvents []aggregate.WaterEvent  `json:"water_events"`
	Sessions    *sessions.DayStats      `json:"sessions,omitempty"`
}

// Config carries the pipeline's tunables.
type Config struct {
	// SessionsDir is scanned for session transcripts. Empty or missing is
	// fine; session accounting is then skipped.
	SessionsDir string

	Pricing sessions.Pricing

	// HourlyCutoffDays bounds the hourly rollup window. Zero means 7.
	HourlyCutoffDays int

	// Sources overrides DefaultSources when non-nil.
	Sources []Source
}

// Pipeline wires the event streams, the document store, and the session
// directory into one Run.
type Pipeline struct {
	registry *eventlog.Registry
	store    statestore.Store
	cfg      Config
	logger   *zap.SugaredLogger

	now func() time.Time
}

func New(registry *eventlog.Registry, store statestore.Store, cfg Config, logger *zap.SugaredLogger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Sources == nil {
		cfg.Sources = DefaultSources
	}
	if cfg.HourlyCutoffDays <= 0 {
		cfg.HourlyCutoffDays = 7
	}
	return &Pipeline{
		registry: registry,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one aggregation pass. The cursor is saved last; every
// watermark advance before that point lives only in memory.
func (p *Pipeline) Run(ctx context.Context) error {
	start := p.now()

	names := make([]string, len(p.cfg.Sources))
	for i, s := range p.cfg.Sources {
		names[i] = s.Name
	}

	cur, err := cursor.Load(ctx, p.store, names)
	if err != nil {
		return err
	}

	newSessions, sessionsWM, err := p.processSessions(ctx, cur.Watermarks.SessionsLastModified)
	if err != nil {
		return err
	}
	cur.Watermarks.SessionsLastModified = sessionsWM

	newRecords := make(aggregate.NewRecords)
	recordCount := 0
	for _, src := range p.cfg.Sources {
		log, err := p.registry.Get(src.Name)
		if err != nil {
			return fmt.Errorf("failed to open stream %s: %w", src.Name, err)
		}
		wm := cur.Watermarks.Sources[src.Name]
		byDate := aggregate.BucketRecordsByDay(log.All(), wm)
		if len(byDate) == 0 {
			continue
		}
		newRecords[src.Category] = byDate
		for _, recs := range byDate {
			recordCount += len(recs)
		}
		cur.Watermarks.Sources[src.Name] = latestTimestamp(byDate, wm)
	}

	var daily aggregate.DailyStats
	if _, err := p.store.Get(ctx, DailyKey, &daily); err != nil {
		return fmt.Errorf("failed to load daily stats: %w", err)
	}
	daily = aggregate.MergeDailyStats(daily, newRecords)
	if err := p.store.Put(ctx, DailyKey, daily); err != nil {
		return fmt.Errorf("failed to write daily stats: %w", err)
	}

	// Rewritten every run, even when empty, so hours past the retention
	// window do not linger from a previous run
	hourly := aggregate.BuildHourlyStats(newRecords, p.cfg.HourlyCutoffDays, start)
	if err := p.store.Put(ctx, HourlyKey, hourly); err != nil {
		return fmt.Errorf("failed to write hourly stats: %w", err)
	}

	sessionStats, err := p.mergeSessions(ctx, newSessions)
	if err != nil {
		return err
	}

	if err := p.writeDayDetails(ctx, daily, sessionStats, newRecords, newSessions); err != nil {
		return err
	}

	p.refreshDisplayFields(cur, daily)

	if err := cursor.Save(ctx, p.store, cur, start); err != nil {
		return err
	}

	p.logger.Infow("pipeline run complete",
		"records", recordCount,
		"session_days", len(newSessions),
		"duration", p.now().Sub(start).String(),
	)
	return nil
}

func (p *Pipeline) processSessions(_ context.Context, watermark string) (sessions.ByDate, string, error) {
	if p.cfg.SessionsDir == "" {
		return sessions.ByDate{}, watermark, nil
	}
	byDate, wm, err := sessions.Process(p.cfg.SessionsDir, watermark, p.cfg.Pricing)
	if err != nil {
		return nil, watermark, err
	}
	return byDate, wm, nil
}

// mergeSessions folds this run's per-date session stats into the stored
// document and returns the merged result. A date present in the fresh batch
// replaces the stored entry wholesale: Process re-parses a whole session file
// whenever its mtime advances, so the fresh figures already include the
// file's earlier turns and adding them on top would double-count.
func (p *Pipeline) mergeSessions(ctx context.Context, fresh sessions.ByDate) (sessions.ByDate, error) {
	stored := make(sessions.ByDate)
	if _, err := p.store.Get(ctx, SessionsKey, &stored); err != nil {
		return nil, fmt.Errorf("failed to load session stats: %w", err)
	}
	if len(fresh) == 0 {
		return stored, nil
	}

	for date, day := range fresh {
		stored[date] = day
	}

	if err := p.store.Put(ctx, SessionsKey, stored); err != nil {
		return nil, fmt.Errorf("failed to write session stats: %w", err)
	}
	return stored, nil
}

// writeDayDetails rewrites the detail document for every date touched by this
// run, snapshotting the merged daily bucket and session figures.
func (p *Pipeline) writeDayDetails(ctx context.Context, daily aggregate.DailyStats, sessionStats sessions.ByDate, newRecords aggregate.NewRecords, newSessions sessions.ByDate) error {
	touched := make(map[string]bool)
	for _, byDate := range newRecords {
		for date := range byDate {
			touched[date] = true
		}
	}
	for date := range newSessions {
		touched[date] = true
	}

	for date := range touched {
		detail := DayDetail{
			Date:        date,
			PlantStatus: "unknown",
			Sessions:    sessionStats[date],
		}
		if day, ok := daily[date]; ok {
			detail.PlantStatus = day.PlantStatus.Dominant
			detail.Moisture = day.Moisture
			detail.LightEvents = day.Light.Events
			detail.WaterEvents = day.Water.Events
		}
		if err := p.store.Put(ctx, DayDetailPref+date, detail); err != nil {
			return fmt.Errorf("failed to write day detail %s: %w", date, err)
		}
	}
	return nil
}

// refreshDisplayFields recomputes the denormalized dashboard fields: the
// dominant state of the most recent date, and a preview of the latest agent
// message.
func (p *Pipeline) refreshDisplayFields(cur *cursor.Cursor, daily aggregate.DailyStats) {
	if len(daily) > 0 {
		dates := make([]string, 0, len(daily))
		for date := range daily {
			dates = append(dates, date)
		}
		sort.Strings(dates)
		cur.PlantStatus = daily[dates[len(dates)-1]].PlantStatus.Dominant
	}

	log, err := p.registry.Get(MessagesStream)
	if err != nil {
		return
	}
	recent := log.Recent(1, 0)
	if len(recent) == 0 {
		return
	}
	msg := recent[0]
	content := msg.String("content")
	// Truncate in runes so a multi-byte character is never split
	if runes := []rune(content); len(runes) > maxMessagePreview {
		content = string(runes[:maxMessagePreview])
	}
	cur.LastAgentMessage = &cursor.Message{
		Timestamp: msg.String(eventlog.TimestampField),
		Content:   content,
	}
}

// latestTimestamp returns the newest parsable record timestamp in the
// buckets, or the current watermark when nothing beats it.
func latestTimestamp(byDate aggregate.RecordsByDate, current string) string {
	best := current
	for _, recs := range byDate {
		for _, rec := range recs {
			raw := rec.String(eventlog.TimestampField)
			if raw != "" && timeutil.After(raw, best) {
				best = raw
			}
		}
	}
	return best
}
