package history

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Resolution is the width of an aggregation bucket.
type Resolution string

const (
	ResolutionMinute Resolution = "minute"
	ResolutionHour   Resolution = "hour"
	ResolutionDay    Resolution = "day"
)

// bucketPrecision is the number of decimal places kept on bucket means.
const bucketPrecision = 4

// timestampLayouts are the upstream timestamp shapes bucketing understands.
// Order matters: more specific layouts first.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"2006-01-02",
}

// ParseResolution validates a resolution name.
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(strings.ToLower(strings.TrimSpace(s))); r {
	case ResolutionMinute, ResolutionHour, ResolutionDay:
		return r, nil
	default:
		return "", fmt.Errorf("invalid resolution %q (must be minute, hour, or day)", s)
	}
}

// ParseTimestamp parses a timestamp in any recognized layout and returns it
// in UTC. Layouts without an offset are read as UTC wall clock; offset-bearing
// RFC 3339 values are converted, so mixed-zone points share one bucket grid.
func ParseTimestamp(ts string) (time.Time, bool) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// BucketFor truncates t to the start of its bucket on the wall clock of t's
// location. Timestamps from ParseTimestamp are always UTC.
func BucketFor(t time.Time, r Resolution) time.Time {
	switch r {
	case ResolutionMinute:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
	case ResolutionHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
}

// BucketKey returns the formatted bucket start for a timestamp, or false when
// the timestamp cannot be parsed.
// Example: BucketKey("2025-01-01 10:42:00", ResolutionHour) → "2025-01-01 10:00:00"
func BucketKey(ts string, r Resolution) (string, bool) {
	t, ok := ParseTimestamp(ts)
	if !ok {
		return "", false
	}
	start := BucketFor(t, r)
	if r == ResolutionDay {
		return start.Format("2006-01-02"), true
	}
	return start.Format("2006-01-02 15:04:05"), true
}

// AggregateBuckets groups a series into buckets and averages each parameter's
// numeric values. Points with unparseable timestamps are skipped. Parameters
// with no numeric value in a bucket are left out of that bucket. An empty
// params list aggregates every parameter present in the series.
func AggregateBuckets(series Series, r Resolution, params []string) []Bucket {
	if len(params) == 0 {
		params = seriesParameters(series)
	} else {
		params = dedupe(params)
	}

	type accumulator struct {
		sum   decimal.Decimal
		count int64
	}

	grouped := make(map[string]map[string]*accumulator)
	for _, tp := range series {
		key, ok := BucketKey(tp.Timestamp, r)
		if !ok {
			continue
		}
		acc, ok := grouped[key]
		if !ok {
			acc = make(map[string]*accumulator)
			grouped[key] = acc
		}
		for _, param := range params {
			raw, ok := tp.Values[param]
			if !ok {
				continue
			}
			f, ok := CoerceNumeric(raw)
			if !ok {
				continue
			}
			a, ok := acc[param]
			if !ok {
				a = &accumulator{sum: decimal.Zero}
				acc[param] = a
			}
			a.sum = a.sum.Add(decimal.NewFromFloat(f))
			a.count++
		}
	}

	keys := make([]string, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	buckets := make([]Bucket, 0, len(keys))
	for _, key := range keys {
		values := make(map[string]float64, len(grouped[key]))
		for param, a := range grouped[key] {
			mean := a.sum.DivRound(decimal.NewFromInt(a.count), bucketPrecision+4).Round(bucketPrecision)
			values[param] = mean.InexactFloat64()
		}
		buckets = append(buckets, Bucket{Timestamp: key, Values: values})
	}
	return buckets
}

func seriesParameters(series Series) []string {
	seen := make(map[string]struct{})
	var params []string
	for _, tp := range series {
		for param := range tp.Values {
			if _, ok := seen[param]; ok {
				continue
			}
			seen[param] = struct{}{}
			params = append(params, param)
		}
	}
	sort.Strings(params)
	return params
}

func dedupe(params []string) []string {
	seen := make(map[string]struct{}, len(params))
	out := make([]string, 0, len(params))
	for _, p := range params {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
