package history

import "sort"

// Merged is the result of folding batch results together. It is never
// modified after construction; Merge returns a new value.
type Merged struct {
	devices        map[string]DeviceRecordSet
	stats          MergeStats
	lastMismatches []string
}

// recordKey identifies a record independently of its position in a batch.
// Occurrence disambiguates repeated (timestamp, stage, duration) tuples.
type recordKey struct {
	Timestamp  string
	Stage      Stage
	Duration   string
	Occurrence int
}

// MergeAll folds batches in order, starting from an empty Merged.
func MergeAll(batches []BatchResult) Merged {
	var acc Merged
	for _, batch := range batches {
		acc = Merge(acc, batch)
	}
	return acc
}

// Merge folds one batch into acc and returns the combined result. acc is left untouched.
//
// Parameters grow as a union in first-seen order. Incoming records are matched
// to accumulated ones by (timestamp, stage, duration, occurrence) and their
// values land at the union position of each batch parameter. Records without a
// match are appended rather than dropped. Feeding the same batch twice is not idempotent.
func Merge(acc Merged, batch BatchResult) Merged {
	next := Merged{
		devices: make(map[string]DeviceRecordSet, len(acc.devices)+len(batch)),
		stats:   acc.stats,
	}
	for id, set := range acc.devices {
		next.devices[id] = set
	}
	next.stats.BatchesMerged++

	ids := make([]string, 0, len(batch))
	for id := range batch {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		incoming := batch[id]
		existing, ok := next.devices[id]
		if !ok {
			next.devices[id] = adoptSet(incoming)
			continue
		}

		merged, mismatch, unmatched := mergeDevice(existing, incoming)
		if mismatch {
			next.stats.CountMismatches++
			next.lastMismatches = append(next.lastMismatches, id)
		}
		next.stats.UnmatchedRecords += unmatched
		next.devices[id] = merged
	}

	return next
}

// Device returns the merged record set of one device.
func (m Merged) Device(id string) (DeviceRecordSet, bool) {
	set, ok := m.devices[id]
	return set, ok
}

// DeviceIDs returns every merged device id in ascending order.
func (m Merged) DeviceIDs() []string {
	ids := make([]string, 0, len(m.devices))
	for id := range m.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns the merge bookkeeping accumulated so far.
func (m Merged) Stats() MergeStats {
	return m.stats
}

// LastMismatches lists devices whose record counts disagreed in the most recent Merge call.
func (m Merged) LastMismatches() []string {
	return m.lastMismatches
}

// TotalRecords counts raw records across every device.
func (m Merged) TotalRecords() int {
	total := 0
	for _, set := range m.devices {
		total += len(set.Records)
	}
	return total
}

// IsEmpty reports whether no device holds any record.
func (m Merged) IsEmpty() bool {
	return m.TotalRecords() == 0
}

// Parameters returns the union of every device's parameters, in device id order
// and first-seen order within a device.
func (m Merged) Parameters() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, id := range m.DeviceIDs() {
		for _, p := range m.devices[id].Parameters {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func adoptSet(incoming DeviceRecordSet) DeviceRecordSet {
	params := make([]string, len(incoming.Parameters))
	copy(params, incoming.Parameters)

	positions := make([]int, len(params))
	for i := range positions {
		positions[i] = i
	}

	records := make([]RawRecord, 0, len(incoming.Records))
	for _, rec := range incoming.Records {
		records = append(records, placeRecord(rec, positions))
	}

	return DeviceRecordSet{
		Name:       incoming.Name,
		Parameters: params,
		Records:    records,
	}
}

func mergeDevice(existing, incoming DeviceRecordSet) (DeviceRecordSet, bool, int) {
	params := make([]string, len(existing.Parameters), len(existing.Parameters)+len(incoming.Parameters))
	copy(params, existing.Parameters)

	index := make(map[string]int, cap(params))
	for i, p := range params {
		if _, ok := index[p]; !ok {
			index[p] = i
		}
	}

	positions := make([]int, len(incoming.Parameters))
	for j, p := range incoming.Parameters {
		pos, ok := index[p]
		if !ok {
			pos = len(params)
			index[p] = pos
			params = append(params, p)
		}
		positions[j] = pos
	}

	name := existing.Name
	if name == "" {
		name = incoming.Name
	}

	records := make([]RawRecord, len(existing.Records), len(existing.Records)+len(incoming.Records))
	for i, rec := range existing.Records {
		records[i] = cloneRecord(rec)
	}

	mismatch := len(existing.Records) > 0 &&
		len(incoming.Records) > 0 &&
		len(existing.Records) != len(incoming.Records)

	if len(records) == 0 {
		for _, rec := range incoming.Records {
			records = append(records, placeRecord(rec, positions))
		}
		return DeviceRecordSet{Name: name, Parameters: params, Records: records}, mismatch, 0
	}

	lookup := make(map[recordKey]int, len(records))
	occurrences := make(map[recordKey]int, len(records))
	for i, rec := range records {
		k := keyOf(rec, occurrences)
		lookup[k] = i
	}

	unmatched := 0
	incomingOccurrences := make(map[recordKey]int, len(incoming.Records))
	for _, rec := range incoming.Records {
		k := keyOf(rec, incomingOccurrences)
		if i, ok := lookup[k]; ok {
			records[i] = assignValues(records[i], rec.Values, positions)
			continue
		}
		records = append(records, placeRecord(rec, positions))
		unmatched++
	}

	return DeviceRecordSet{Name: name, Parameters: params, Records: records}, mismatch, unmatched
}

func keyOf(rec RawRecord, occurrences map[recordKey]int) recordKey {
	base := recordKey{Timestamp: rec.Timestamp, Stage: rec.Stage, Duration: rec.Duration}
	n := occurrences[base]
	occurrences[base] = n + 1
	base.Occurrence = n
	return base
}

func cloneRecord(rec RawRecord) RawRecord {
	values := make([]any, len(rec.Values))
	copy(values, rec.Values)
	rec.Values = values
	return rec
}

// placeRecord builds a fresh record whose values sit at the given union positions.
func placeRecord(rec RawRecord, positions []int) RawRecord {
	out := rec
	out.Values = nil
	return assignValues(out, rec.Values, positions)
}

// assignValues writes values[j] to position positions[j], padding with nil.
// Values beyond the batch's parameter list are ignored so len(Values) never
// exceeds the parameter count. A nil incoming value never clears an existing one.
func assignValues(rec RawRecord, values []any, positions []int) RawRecord {
	for j, v := range values {
		if j >= len(positions) {
			break
		}
		pos := positions[j]
		for len(rec.Values) <= pos {
			rec.Values = append(rec.Values, nil)
		}
		if v == nil && rec.Values[pos] != nil {
			continue
		}
		rec.Values[pos] = v
	}
	return rec
}
