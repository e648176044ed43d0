package history

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCoerceNumeric(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   float64
		wantOK bool
	}{
		{name: "float64", in: 12.5, want: 12.5, wantOK: true},
		{name: "int", in: 7, want: 7, wantOK: true},
		{name: "int64", in: int64(-3), want: -3, wantOK: true},
		{name: "json number", in: json.Number("4.25"), want: 4.25, wantOK: true},
		{name: "comma decimal", in: "12,5", want: 12.5, wantOK: true},
		{name: "padded string", in: "  8 ", want: 8, wantOK: true},
		{name: "empty string", in: "", wantOK: false},
		{name: "blank string", in: "   ", wantOK: false},
		{name: "text", in: "Moscow", wantOK: false},
		{name: "bool", in: true, wantOK: false},
		{name: "nil", in: nil, wantOK: false},
		{name: "NaN", in: math.NaN(), wantOK: false},
		{name: "infinity", in: math.Inf(1), wantOK: false},
		{name: "NaN string", in: "NaN", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CoerceNumeric(tt.in)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				require.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestParseStage(t *testing.T) {
	require.Equal(t, StageMotion, ParseStage("Motion"))
	require.Equal(t, StageMotion, ParseStage(" moving "))
	require.Equal(t, StageIdle, ParseStage("STOP"))
	require.Equal(t, StageParking, ParseStage("parked"))
	require.Equal(t, StageUnknown, ParseStage("towing"))
	require.Equal(t, StageUnknown, ParseStage(""))
}
