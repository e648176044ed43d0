package history

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// CoerceNumeric converts an upstream scalar to float64.
// Integers and floats pass through. Strings are trimmed and may use a comma
// decimal separator ("12,5" → 12.5); an empty string is not numeric.
// Booleans, nil, NaN and infinities are not numeric.
func CoerceNumeric(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return finite(val)
	case float32:
		return finite(float64(val))
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case uint32:
		return float64(val), true
	case json.Number:
		return parseNumeric(string(val))
	case string:
		return parseNumeric(val)
	}
	return 0, false
}

func parseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return finite(f)
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
