package history

import (
	"sort"

	"github.com/shopspring/decimal"
)

// BuildTimePoint turns one raw record into a parameter-keyed time point.
// Returns false when the record carries no timestamp. Parameters without a
// value at their position are left out of Values rather than zero-filled.
func BuildTimePoint(rec RawRecord, params []string, vehicleID, vehicleName string) (TimePoint, bool) {
	if rec.Timestamp == "" {
		return TimePoint{}, false
	}

	values := make(map[string]any, len(params))
	for i, param := range params {
		if i >= len(rec.Values) {
			break
		}
		raw := rec.Values[i]
		if raw == nil {
			continue
		}
		if f, ok := CoerceNumeric(raw); ok {
			values[param] = f
			continue
		}
		values[param] = raw
	}

	return TimePoint{
		Timestamp:   rec.Timestamp,
		VehicleID:   vehicleID,
		VehicleName: vehicleName,
		Stage:       rec.Stage,
		Duration:    rec.Duration,
		Caption:     rec.Caption,
		Values:      values,
	}, true
}

// AssembleSeries concatenates every device's time points and sorts them by
// timestamp. Timestamps compare as plain strings, which orders ISO-like
// layouts correctly; mixed layouts are not normalized.
func AssembleSeries(m Merged) Series {
	series := make(Series, 0, m.TotalRecords())
	for _, id := range m.DeviceIDs() {
		set := m.devices[id]
		for _, rec := range set.Records {
			tp, ok := BuildTimePoint(rec, set.Parameters, id, set.Name)
			if !ok {
				continue
			}
			series = append(series, tp)
		}
	}

	sort.SliceStable(series, func(i, j int) bool {
		return series[i].Timestamp < series[j].Timestamp
	})
	return series
}

// Summarize computes summary statistics over an assembled series.
// Only numeric values feed parameter statistics; a parameter with no numeric
// observation is omitted.
func Summarize(series Series, merge MergeStats) SummaryStats {
	summary := SummaryStats{
		TotalRecords:   len(series),
		ParameterStats: make(map[string]ParameterStats),
		VehicleStats:   make(map[string]VehicleStats),
		Merge:          merge,
	}
	if len(series) == 0 {
		return summary
	}

	summary.TimeRange = TimeRange{First: series[0].Timestamp, Last: series[0].Timestamp}

	states := make(map[string]statState)
	vehicleParams := make(map[string]map[string]struct{})

	for _, tp := range series {
		if tp.Timestamp < summary.TimeRange.First {
			summary.TimeRange.First = tp.Timestamp
		}
		if tp.Timestamp > summary.TimeRange.Last {
			summary.TimeRange.Last = tp.Timestamp
		}

		vs := summary.VehicleStats[tp.VehicleID]
		vs.Name = tp.VehicleName
		vs.RecordCount++
		summary.VehicleStats[tp.VehicleID] = vs

		seen, ok := vehicleParams[tp.VehicleID]
		if !ok {
			seen = make(map[string]struct{})
			vehicleParams[tp.VehicleID] = seen
		}

		for param, raw := range tp.Values {
			seen[param] = struct{}{}

			f, ok := CoerceNumeric(raw)
			if !ok {
				continue
			}
			state, ok := states[param]
			if !ok {
				state = make(statState, len(statOrder))
				states[param] = state
			}
			state.observe(decimal.NewFromFloat(f))
		}
	}

	for id, params := range vehicleParams {
		vs := summary.VehicleStats[id]
		vs.ParamCount = len(params)
		summary.VehicleStats[id] = vs
	}
	for param, state := range states {
		summary.ParameterStats[param] = state.result()
	}
	summary.VehicleCount = len(summary.VehicleStats)

	return summary
}
