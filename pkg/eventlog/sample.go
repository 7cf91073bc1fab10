package eventlog

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nicktill/tinygarden/pkg/timeutil"
)

// Aggregation selects how a bucket's records collapse into its output.
type Aggregation string

// Sampling strategies emit one representative event per non-empty bucket;
// statistical strategies emit one summary record per non-empty bucket.
const (
	AggregationFirst  Aggregation = "first"
	AggregationLast   Aggregation = "last"
	AggregationMiddle Aggregation = "middle"
	AggregationCount  Aggregation = "count"
	AggregationSum    Aggregation = "sum"
	AggregationMean   Aggregation = "mean"
)

var (
	// ErrUnknownAggregation rejects strategies outside the set above.
	// Guessing a default would silently corrupt downstream statistics.
	ErrUnknownAggregation = errors.New("unknown aggregation strategy")

	// ErrMissingValueField rejects sum/mean requests without a value field.
	ErrMissingValueField = errors.New("sum and mean aggregation require a value field")
)

// SampleRequest parameterizes TimeBucketedSample.
type SampleRequest struct {
	// Hours is the width of the sampled window, ending at EndTime.
	Hours int

	// SamplesPerHour sets bucket density. Values below 1 are allowed:
	// 1.0/24 yields one bucket per day.
	SamplesPerHour float64

	Aggregation Aggregation

	// ValueField names the numeric field summed or averaged. Required for
	// sum and mean, ignored otherwise.
	ValueField string

	// EndTime defaults to now (UTC) when zero.
	EndTime time.Time
}

type timedEvent struct {
	ev Event
	ts time.Time
}

// TimeBucketedSample partitions [end-hours, end) into equal-width half-open
// buckets and collapses each non-empty bucket according to the requested
// strategy. Buckets with no records are omitted, never zero-filled. Records
// with missing or unparsable timestamps are excluded silently.
//
// Output is chronological: representative events for sampling strategies, or
// {bucket_start, bucket_end, value, count} records for statistical ones.
func (l *Log) TimeBucketedSample(req SampleRequest) ([]Event, error) {
	switch req.Aggregation {
	case AggregationFirst, AggregationLast, AggregationMiddle, AggregationCount:
	case AggregationSum, AggregationMean:
		if req.ValueField == "" {
			return nil, ErrMissingValueField
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAggregation, req.Aggregation)
	}
	if req.Hours <= 0 {
		return nil, fmt.Errorf("hours must be positive, got %d", req.Hours)
	}
	if req.SamplesPerHour <= 0 {
		return nil, fmt.Errorf("samples per hour must be positive, got %v", req.SamplesPerHour)
	}

	end := req.EndTime
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start := end.Add(-time.Duration(req.Hours) * time.Hour)

	// Cache order is append order, not necessarily chronological
	var records []timedEvent
	for _, ev := range l.ByTimeRange(start, end) {
		ts, ok := ev.Timestamp()
		if !ok {
			continue
		}
		records = append(records, timedEvent{ev: ev, ts: ts})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ts.Before(records[j].ts)
	})

	bucketCount := int(float64(req.Hours) * req.SamplesPerHour)
	if bucketCount < 1 {
		bucketCount = 1
	}
	width := end.Sub(start) / time.Duration(bucketCount)

	buckets := make(map[int][]timedEvent)
	for _, rec := range records {
		idx := int(rec.ts.Sub(start) / width)
		// A record at exactly end falls past the half-open partition;
		// fold it into the final bucket.
		if idx >= bucketCount {
			idx = bucketCount - 1
		}
		buckets[idx] = append(buckets[idx], rec)
	}

	var out []Event
	for i := 0; i < bucketCount; i++ {
		recs := buckets[i]
		if len(recs) == 0 {
			continue
		}
		bucketStart := start.Add(time.Duration(i) * width)
		bucketEnd := bucketStart.Add(width)

		switch req.Aggregation {
		case AggregationFirst:
			out = append(out, recs[0].ev)
		case AggregationLast:
			out = append(out, recs[len(recs)-1].ev)
		case AggregationMiddle:
			out = append(out, closestToMidpoint(recs, bucketStart.Add(width/2)).ev)
		case AggregationCount:
			out = append(out, bucketSummary(bucketStart, bucketEnd, float64(len(recs)), len(recs)))
		case AggregationSum, AggregationMean:
			sum := 0.0
			n := 0
			for _, rec := range recs {
				v, ok := rec.ev.Float(req.ValueField)
				if !ok {
					continue
				}
				sum += v
				n++
			}
			if n == 0 {
				// No record in the bucket carried the field
				continue
			}
			value := sum
			if req.Aggregation == AggregationMean {
				value = sum / float64(n)
			}
			out = append(out, bucketSummary(bucketStart, bucketEnd, value, n))
		}
	}
	return out, nil
}

// closestToMidpoint picks the record nearest the bucket midpoint. On an exact
// tie the earlier record wins because only a strictly smaller distance
// replaces the current pick.
func closestToMidpoint(recs []timedEvent, midpoint time.Time) timedEvent {
	best := recs[0]
	bestDist := absDuration(best.ts.Sub(midpoint))
	for _, rec := range recs[1:] {
		if d := absDuration(rec.ts.Sub(midpoint)); d < bestDist {
			best = rec
			bestDist = d
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func bucketSummary(start, end time.Time, value float64, count int) Event {
	return Event{
		"bucket_start": timeutil.Format(start),
		"bucket_end":   timeutil.Format(end),
		"value":        value,
		"count":        count,
	}
}
