package history

// SplitParameters cuts params into contiguous groups of at most size names.
// Input order is preserved and no name is dropped or repeated.
// size <= 0 falls back to DefaultBatchSize.
func SplitParameters(params []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if len(params) == 0 {
		return nil
	}

	batches := make([][]string, 0, (len(params)+size-1)/size)
	for start := 0; start < len(params); start += size {
		end := start + size
		if end > len(params) {
			end = len(params)
		}
		batch := make([]string, end-start)
		copy(batch, params[start:end])
		batches = append(batches, batch)
	}
	return batches
}
