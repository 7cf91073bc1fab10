package aggregate

import (
	"time"

	"github.com/nicktill/tinygarden/pkg/timeutil"
)

// BuildHourlyStats derives the hour-aligned rollup directly from the raw
// per-category records, independent of the daily structure. Records older
// than cutoffDays before now are never materialized, which bounds retention
// without an explicit delete: the document is rebuilt from the trailing
// window on every run.
func BuildHourlyStats(records NewRecords, cutoffDays int, now time.Time) HourlyStats {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	cutoff := now.Add(-time.Duration(cutoffDays) * 24 * time.Hour)

	hourly := make(HourlyStats)
	moistureValues := make(map[string][]float64)

	getOrInit := func(hk string) *HourBucket {
		h, ok := hourly[hk]
		if !ok {
			h = &HourBucket{}
			hourly[hk] = h
		}
		return h
	}

	for _, byDate := range records[CategoryMoisture] {
		for _, rec := range byDate {
			ts, ok := rec.Timestamp()
			if !ok || ts.Before(cutoff) {
				continue
			}
			hk := timeutil.HourBucket(ts)
			getOrInit(hk)
			v, _ := rec.Float("value")
			moistureValues[hk] = append(moistureValues[hk], v)
		}
	}

	// An hour is light_on if any turn_on event falls inside it
	for _, byDate := range records[CategoryLight] {
		for _, rec := range byDate {
			ts, ok := rec.Timestamp()
			if !ok || ts.Before(cutoff) {
				continue
			}
			if rec.String("event_type") == "turn_on" {
				getOrInit(timeutil.HourBucket(ts)).LightOn = true
			}
		}
	}

	for _, byDate := range records[CategoryWater] {
		for _, rec := range byDate {
			ts, ok := rec.Timestamp()
			if !ok || ts.Before(cutoff) {
				continue
			}
			ml, _ := rec.Float("ml")
			getOrInit(timeutil.HourBucket(ts)).WaterML += ml
		}
	}

	// Collapse accumulated moisture values into {avg, count}
	for hk, h := range hourly {
		vals := moistureValues[hk]
		h.Moisture.Count = len(vals)
		if len(vals) > 0 {
			sum := 0.0
			for _, v := range vals {
				sum += v
			}
			avg := round2(sum / float64(len(vals)))
			h.Moisture.Avg = &avg
		}
	}

	return hourly
}
