package aggregate

import (
	"reflect"
	"testing"

	"github.com/nicktill/tinygarden/pkg/eventlog"
)

func moistureRec(ts string, value float64) eventlog.Event {
	return eventlog.Event{"timestamp": ts, "value": value}
}

func waterRec(ts string, ml float64) eventlog.Event {
	return eventlog.Event{"timestamp": ts, "ml": ml}
}

func lightRec(ts, eventType string, minutes float64) eventlog.Event {
	return eventlog.Event{"timestamp": ts, "event_type": eventType, "duration_minutes": minutes}
}

func statusRec(ts, state string) eventlog.Event {
	return eventlog.Event{"timestamp": ts, "plant_state": state}
}

func TestBucketRecordsByDay_WatermarkGating(t *testing.T) {
	watermark := "2026-02-24T12:00:00Z"
	records := []eventlog.Event{
		moistureRec("2026-02-24T11:00:00Z", 40), // before watermark
		moistureRec("2026-02-24T12:00:00Z", 41), // exactly at watermark: excluded
		moistureRec("2026-02-24T12:00:01Z", 42), // strictly after: included
		moistureRec("2026-02-25T08:00:00Z", 43),
		{"value": 44},                   // no timestamp
		{"timestamp": "x", "value": 45}, // unparsable timestamp
	}

	buckets := BucketRecordsByDay(records, watermark)

	if len(buckets["2026-02-24"]) != 1 {
		t.Errorf("2026-02-24 has %d records, want 1", len(buckets["2026-02-24"]))
	}
	if len(buckets["2026-02-25"]) != 1 {
		t.Errorf("2026-02-25 has %d records, want 1", len(buckets["2026-02-25"]))
	}
	if v, _ := buckets["2026-02-24"][0].Float("value"); v != 42 {
		t.Errorf("Wrong record passed the gate: value=%v", v)
	}
}

func TestBucketRecordsByHour(t *testing.T) {
	records := []eventlog.Event{
		waterRec("2026-02-24T09:15:00Z", 25),
		waterRec("2026-02-24T09:45:00Z", 25),
		waterRec("2026-02-24T10:05:00Z", 30),
	}

	buckets := BucketRecordsByHour(records, "1970-01-01T00:00:00Z")
	if len(buckets["2026-02-24T09:00:00Z"]) != 2 {
		t.Errorf("09:00 bucket has %d records, want 2", len(buckets["2026-02-24T09:00:00Z"]))
	}
	if len(buckets["2026-02-24T10:00:00Z"]) != 1 {
		t.Errorf("10:00 bucket has %d records, want 1", len(buckets["2026-02-24T10:00:00Z"]))
	}
}

func TestMergeDailyStats_SeedsNewDates(t *testing.T) {
	newRecords := NewRecords{
		CategoryWater: {
			"2026-02-24": {waterRec("2026-02-24T09:00:00Z", 45)},
		},
	}

	merged := MergeDailyStats(DailyStats{}, newRecords)

	day := merged["2026-02-24"]
	if day == nil {
		t.Fatal("Expected a bucket for 2026-02-24")
	}
	if day.Water.TotalML != 45 {
		t.Errorf("TotalML = %v, want 45", day.Water.TotalML)
	}
	// Untouched categories keep their zero-valued seed
	if day.Moisture.Count != 0 || day.Moisture.Min != nil {
		t.Errorf("Moisture should be zero-valued: %+v", day.Moisture)
	}
	if day.PlantStatus.Dominant != "unknown" {
		t.Errorf("Dominant = %q, want unknown", day.PlantStatus.Dominant)
	}
}

func TestMergeDailyStats_MoistureUnionRecompute(t *testing.T) {
	first := MergeDailyStats(DailyStats{}, NewRecords{
		CategoryMoisture: {
			"2026-02-24": {
				moistureRec("2026-02-24T08:00:00Z", 30),
				moistureRec("2026-02-24T09:00:00Z", 50),
			},
		},
	})

	second := MergeDailyStats(first, NewRecords{
		CategoryMoisture: {
			"2026-02-24": {moistureRec("2026-02-24T10:00:00Z", 10)},
		},
	})

	m := second["2026-02-24"].Moisture
	if m.Count != 3 {
		t.Fatalf("Count = %d, want 3", m.Count)
	}
	if *m.Min != 10 || *m.Max != 50 {
		t.Errorf("Min/Max = %v/%v, want 10/50", *m.Min, *m.Max)
	}
	// Average over the union, not an average of averages
	if *m.Avg != 30 {
		t.Errorf("Avg = %v, want 30", *m.Avg)
	}
	if len(m.Readings) != 3 {
		t.Errorf("Readings not retained: %v", m.Readings)
	}
}

func TestMergeDailyStats_AssociativeAcrossRuns(t *testing.T) {
	batchA := NewRecords{
		CategoryMoisture: {"2026-02-24": {
			moistureRec("2026-02-24T08:00:00Z", 35),
			moistureRec("2026-02-24T09:00:00Z", 45),
		}},
		CategoryLight: {"2026-02-24": {
			lightRec("2026-02-24T07:00:00Z", "turn_on", 120),
		}},
		CategoryWater: {"2026-02-24": {
			waterRec("2026-02-24T08:30:00Z", 25),
		}},
		CategoryPlantStatus: {"2026-02-24": {
			statusRec("2026-02-24T08:00:00Z", "healthy"),
			statusRec("2026-02-24T12:00:00Z", "stressed"),
		}},
	}
	batchB := NewRecords{
		CategoryMoisture: {"2026-02-24": {
			moistureRec("2026-02-24T14:00:00Z", 25),
		}},
		CategoryLight: {"2026-02-24": {
			lightRec("2026-02-24T15:00:00Z", "turn_off", 0),
		}},
		CategoryWater: {"2026-02-24": {
			waterRec("2026-02-24T16:00:00Z", 20),
			waterRec("2026-02-24T17:00:00Z", 30),
		}},
		CategoryPlantStatus: {"2026-02-24": {
			statusRec("2026-02-24T16:00:00Z", "healthy"),
		}},
	}

	combined := NewRecords{}
	for _, batch := range []NewRecords{batchA, batchB} {
		for cat, byDate := range batch {
			if combined[cat] == nil {
				combined[cat] = RecordsByDate{}
			}
			for date, recs := range byDate {
				combined[cat][date] = append(combined[cat][date], recs...)
			}
		}
	}

	// A then B across two runs vs the concatenation in one pass
	sequential := MergeDailyStats(MergeDailyStats(DailyStats{}, batchA), batchB)
	onePass := MergeDailyStats(DailyStats{}, combined)

	seq, one := sequential["2026-02-24"], onePass["2026-02-24"]
	if !reflect.DeepEqual(seq.Moisture, one.Moisture) {
		t.Errorf("Moisture diverged:\nsequential %+v\none-pass   %+v", seq.Moisture, one.Moisture)
	}
	if seq.Light.MinutesOn != one.Light.MinutesOn || len(seq.Light.Events) != len(one.Light.Events) {
		t.Errorf("Light diverged: %+v vs %+v", seq.Light, one.Light)
	}
	if seq.Water.TotalML != one.Water.TotalML || len(seq.Water.Events) != len(one.Water.Events) {
		t.Errorf("Water diverged: %+v vs %+v", seq.Water, one.Water)
	}
	if !reflect.DeepEqual(seq.PlantStatus, one.PlantStatus) {
		t.Errorf("PlantStatus diverged: %+v vs %+v", seq.PlantStatus, one.PlantStatus)
	}
}

func TestMergeDailyStats_SameBatchTwiceDoubleCounts(t *testing.T) {
	// Reinvoking with the SAME batch is not idempotent. The watermark gate
	// upstream is the only protection; this pins the documented behavior.
	batch := NewRecords{
		CategoryWater: {"2026-02-24": {waterRec("2026-02-24T09:00:00Z", 25)}},
	}

	once := MergeDailyStats(DailyStats{}, batch)
	twice := MergeDailyStats(once, batch)

	if once["2026-02-24"].Water.TotalML != 25 {
		t.Errorf("Single merge TotalML = %v", once["2026-02-24"].Water.TotalML)
	}
	if twice["2026-02-24"].Water.TotalML != 50 {
		t.Errorf("Double merge TotalML = %v, expected the double-count of 50",
			twice["2026-02-24"].Water.TotalML)
	}
}

func TestMergeDailyStats_DoesNotMutateExisting(t *testing.T) {
	existing := MergeDailyStats(DailyStats{}, NewRecords{
		CategoryWater: {"2026-02-24": {waterRec("2026-02-24T09:00:00Z", 25)}},
	})

	MergeDailyStats(existing, NewRecords{
		CategoryWater: {"2026-02-24": {waterRec("2026-02-24T10:00:00Z", 30)}},
	})

	if existing["2026-02-24"].Water.TotalML != 25 {
		t.Errorf("Input stats mutated by merge: TotalML = %v",
			existing["2026-02-24"].Water.TotalML)
	}
}

func TestDominantState(t *testing.T) {
	recs := []eventlog.Event{
		statusRec("2026-02-24T08:00:00Z", "stressed"),
		statusRec("2026-02-24T09:00:00Z", "stressed"),
		statusRec("2026-02-24T10:00:00Z", "critical"),
	}
	stats := mergePlantStatus(PlantStatusStats{}, recs)
	if stats.Dominant != "stressed" {
		t.Errorf("Dominant = %q, want stressed", stats.Dominant)
	}
	if stats.Stressed != 2 || stats.Critical != 1 {
		t.Errorf("Counts = %+v", stats)
	}

	// Tie goes to the earlier state in enumeration order
	tied := mergePlantStatus(PlantStatusStats{}, []eventlog.Event{
		statusRec("2026-02-24T08:00:00Z", "healthy"),
		statusRec("2026-02-24T09:00:00Z", "critical"),
	})
	if tied.Dominant != "healthy" {
		t.Errorf("Tied dominant = %q, want healthy", tied.Dominant)
	}

	// Unrecognized states are ignored entirely
	none := mergePlantStatus(PlantStatusStats{}, []eventlog.Event{
		statusRec("2026-02-24T08:00:00Z", "thriving"),
	})
	if none.Dominant != "unknown" {
		t.Errorf("Dominant with no counted states = %q, want unknown", none.Dominant)
	}
}

func TestMergeLight_OnlyTurnOnAccruesMinutes(t *testing.T) {
	stats := mergeLight(LightStats{}, []eventlog.Event{
		lightRec("2026-02-24T07:00:00Z", "turn_on", 90),
		lightRec("2026-02-24T08:30:00Z", "turn_off", 45), // duration ignored
		lightRec("2026-02-24T10:00:00Z", "turn_on", 30),
	})

	if stats.MinutesOn != 120 {
		t.Errorf("MinutesOn = %v, want 120", stats.MinutesOn)
	}
	if len(stats.Events) != 3 {
		t.Errorf("Events = %d, want 3", len(stats.Events))
	}
}
