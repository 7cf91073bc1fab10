package aggregate

import (
	"math"
	"sort"

	"github.com/nicktill/tinygarden/pkg/eventlog"
	"github.com/nicktill/tinygarden/pkg/timeutil"
)

// BucketRecordsByDay groups records by UTC calendar date, keeping only those
// with a timestamp strictly greater than the watermark. This gate is the sole
// protection against reprocessing already-committed data within a run.
func BucketRecordsByDay(records []eventlog.Event, watermark string) RecordsByDate {
	buckets := make(RecordsByDate)
	for _, rec := range records {
		raw := rec.String(eventlog.TimestampField)
		if raw == "" || !timeutil.After(raw, watermark) {
			continue
		}
		ts, ok := rec.Timestamp()
		if !ok {
			continue
		}
		day := timeutil.DateOf(ts)
		buckets[day] = append(buckets[day], rec)
	}
	return buckets
}

// BucketRecordsByHour groups records by hour-aligned key with the same
// watermark gate as BucketRecordsByDay.
func BucketRecordsByHour(records []eventlog.Event, watermark string) RecordsByDate {
	buckets := make(RecordsByDate)
	for _, rec := range records {
		raw := rec.String(eventlog.TimestampField)
		if raw == "" || !timeutil.After(raw, watermark) {
			continue
		}
		ts, ok := rec.Timestamp()
		if !ok {
			continue
		}
		hk := timeutil.HourBucket(ts)
		buckets[hk] = append(buckets[hk], rec)
	}
	return buckets
}

// MergeDailyStats merges one run's new records into the existing daily
// rollup. Dates already present are merged, not replaced, so consecutive runs
// both contribute to the same calendar day.
//
// Merging disjoint batches is associative and order-independent; merging the
// SAME batch twice double-counts. The watermark gate upstream is what makes
// that safe in practice.
func MergeDailyStats(existing DailyStats, newByCategory NewRecords) DailyStats {
	result := make(DailyStats, len(existing))
	for date, bucket := range existing {
		result[date] = bucket
	}

	dateSet := make(map[string]bool)
	for _, byDate := range newByCategory {
		for date := range byDate {
			dateSet[date] = true
		}
	}
	dates := make([]string, 0, len(dateSet))
	for date := range dateSet {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	for _, date := range dates {
		day, ok := result[date]
		if !ok {
			day = newDayBucket()
		} else {
			// Copy-on-write so the caller's existing buckets stay intact
			clone := *day
			day = &clone
		}
		result[date] = day

		if recs, ok := newByCategory[CategoryMoisture][date]; ok {
			day.Moisture = mergeMoisture(day.Moisture, recs)
		}
		if recs, ok := newByCategory[CategoryLight][date]; ok {
			day.Light = mergeLight(day.Light, recs)
		}
		if recs, ok := newByCategory[CategoryWater][date]; ok {
			day.Water = mergeWater(day.Water, recs)
		}
		if recs, ok := newByCategory[CategoryPlantStatus][date]; ok {
			day.PlantStatus = mergePlantStatus(day.PlantStatus, recs)
		}
	}

	return result
}

// mergeMoisture recomputes min/max/avg from the union of retained readings
// and the new values. Keeping the raw readings is what makes repeated merges
// with disjoint batches land on the same figures as a single one.
func mergeMoisture(existing MoistureStats, recs []eventlog.Event) MoistureStats {
	all := append([]float64(nil), existing.Readings...)
	for _, rec := range recs {
		if v, ok := rec.Float("value"); ok {
			all = append(all, v)
		}
	}
	if len(all) == 0 {
		return existing
	}

	min, max, sum := all[0], all[0], 0.0
	for _, v := range all {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	avg := round2(sum / float64(len(all)))

	return MoistureStats{
		Min:      &min,
		Max:      &max,
		Avg:      &avg,
		Count:    len(all),
		Readings: all,
	}
}

func mergeLight(existing LightStats, recs []eventlog.Event) LightStats {
	merged := LightStats{
		MinutesOn: existing.MinutesOn,
		Events:    append([]LightEvent(nil), existing.Events...),
	}
	for _, rec := range recs {
		ts := rec.String(eventlog.TimestampField)
		eventType := rec.String("event_type")
		if eventType == "turn_on" {
			if d, ok := rec.Float("duration_minutes"); ok {
				merged.MinutesOn += d
			}
		}
		if ts != "" && eventType != "" {
			merged.Events = append(merged.Events, LightEvent{Timestamp: ts, EventType: eventType})
		}
	}
	return merged
}

func mergeWater(existing WaterStats, recs []eventlog.Event) WaterStats {
	merged := WaterStats{
		TotalML: existing.TotalML,
		Events:  append([]WaterEvent(nil), existing.Events...),
	}
	for _, rec := range recs {
		ml, _ := rec.Float("ml")
		merged.TotalML += ml
		if ts := rec.String(eventlog.TimestampField); ts != "" {
			merged.Events = append(merged.Events, WaterEvent{Timestamp: ts, ML: ml})
		}
	}
	return merged
}

func mergePlantStatus(existing PlantStatusStats, recs []eventlog.Event) PlantStatusStats {
	merged := existing
	for _, rec := range recs {
		switch rec.String("plant_state") {
		case "healthy":
			merged.Healthy++
		case "stressed":
			merged.Stressed++
		case "critical":
			merged.Critical++
		}
	}
	merged.Dominant = dominantState(merged)
	return merged
}

// dominantState returns the state with the highest count, the enumeration
// order breaking ties, or "unknown" when nothing was observed.
func dominantState(s PlantStatusStats) string {
	counts := map[string]int{
		"healthy":  s.Healthy,
		"stressed": s.Stressed,
		"critical": s.Critical,
	}
	best, bestCount := "unknown", 0
	for _, state := range plantStates {
		if counts[state] > bestCount {
			best = state
			bestCount = counts[state]
		}
	}
	return best
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
