// Package aggregate derives the daily and hourly rollups from categorized
// event records.
//
// Events stay schema-flexible in the log; the typed views here are built at
// the aggregation boundary. Daily buckets are merged incrementally across
// runs and must stay associative for disjoint batches, which is why moisture
// retains its raw readings instead of just the running average.
package aggregate

import (
	"github.com/nicktill/tinygarden/pkg/eventlog"
)

// Category identifies which reducer a source's records feed.
type Category string

const (
	CategoryMoisture    Category = "moisture"
	CategoryLight       Category = "light"
	CategoryWater       Category = "water"
	CategoryPlantStatus Category = "plant_status"
)

// plantStates is the fixed enumeration order used when recomputing the
// dominant state; on tied counts the earlier state wins.
var plantStates = []string{"healthy", "stressed", "critical"}

// RecordsByDate groups events by YYYY-MM-DD key.
type RecordsByDate map[string][]eventlog.Event

// NewRecords is one run's watermark-gated input: category → date → records.
type NewRecords map[Category]RecordsByDate

// MoistureStats keeps the raw readings alongside the derived figures so a
// later merge can recompute min/max/avg from the union.
type MoistureStats struct {
	Min      *float64  `json:"min"`
	Max      *float64  `json:"max"`
	Avg      *float64  `json:"avg"`
	Count    int       `json:"count"`
	Readings []float64 `json:"readings"`
}

// LightEvent is the per-event detail retained in daily buckets.
type LightEvent struct {
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
}

// LightStats accumulates grow-light activity for one day.
type LightStats struct {
	MinutesOn float64      `json:"minutes_on"`
	Events    []LightEvent `json:"events"`
}

// WaterEvent is the per-event detail retained in daily buckets.
type WaterEvent struct {
	Timestamp string  `json:"timestamp"`
	ML        float64 `json:"ml"`
}

// WaterStats accumulates dispensed water for one day.
type WaterStats struct {
	TotalML float64      `json:"total_ml"`
	Events  []WaterEvent `json:"events"`
}

// PlantStatusStats counts observed states and carries the recomputed
// dominant state.
type PlantStatusStats struct {
	Healthy  int    `json:"healthy"`
	Stressed int    `json:"stressed"`
	Critical int    `json:"critical"`
	Dominant string `json:"dominant"`
}

// DayBucket holds one calendar date's statistics across all categories.
type DayBucket struct {
	Moisture    MoistureStats    `json:"moisture"`
	Light       LightStats       `json:"light"`
	Water       WaterStats       `json:"water"`
	PlantStatus PlantStatusStats `json:"plant_status"`
}

// DailyStats is the daily rollup document, keyed by YYYY-MM-DD.
type DailyStats map[string]*DayBucket

// newDayBucket seeds a zero-valued bucket for a date first seen this run.
func newDayBucket() *DayBucket {
	return &DayBucket{
		PlantStatus: PlantStatusStats{Dominant: "unknown"},
	}
}

// HourlyMoisture is the collapsed per-hour moisture figure.
type HourlyMoisture struct {
	Avg   *float64 `json:"avg"`
	Count int      `json:"count"`
}

// HourBucket holds one hour's summary.
type HourBucket struct {
	Moisture HourlyMoisture `json:"moisture"`
	LightOn  bool           `json:"light_on"`
	WaterML  float64        `json:"water_ml"`
}

// HourlyStats is the bounded hourly rollup, keyed by YYYY-MM-DDTHH:00:00Z.
type HourlyStats map[string]*HourBucket
