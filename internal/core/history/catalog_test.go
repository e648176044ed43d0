package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	cat := DefaultCatalog()

	extended := cat.ExtendedParameters()
	require.NotEmpty(t, extended)
	require.Equal(t, "DateTime First", extended[0])

	seen := make(map[string]struct{}, len(extended))
	for _, p := range extended {
		_, dup := seen[p]
		require.False(t, dup, "duplicate parameter %s", p)
		seen[p] = struct{}{}
	}

	fallback := cat.FallbackParameters()
	require.Len(t, fallback, 10)
	require.LessOrEqual(t, len(fallback), DefaultBatchSize)
	for _, p := range fallback {
		_, ok := cat.Lookup(p)
		require.True(t, ok, "fallback parameter %s missing from groups", p)
	}

	info, ok := cat.Lookup("MaxSpeed")
	require.True(t, ok)
	require.Equal(t, "km/h", info.Unit)
	require.Len(t, cat.Fingerprint, 64)
}

func TestCatalog_FallbackIsCopied(t *testing.T) {
	cat := DefaultCatalog()
	fb := cat.FallbackParameters()
	fb[0] = "mutated"
	require.Equal(t, "MaxSpeed", cat.FallbackParameters()[0])
}

func TestLoadCatalog_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
groups:
  - id: speed
    name: Speed
    parameters:
      - { api_name: Speed, display_name: Speed, unit: km/h }
      - { api_name: MaxSpeed, display_name: Max speed }
  - id: more
    name: More
    parameters:
      - { api_name: Speed, display_name: Speed again }
      - { api_name: Fuel, display_name: Fuel }
fallback: [MaxSpeed]
`), 0o644))

	cat, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Equal(t, []string{"Speed", "MaxSpeed", "Fuel"}, cat.ExtendedParameters())
	require.Equal(t, []string{"MaxSpeed"}, cat.FallbackParameters())

	info, _ := cat.Lookup("Speed")
	require.Equal(t, "km/h", info.Unit)
	require.Equal(t, "speed", info.Group)

	fuel, _ := cat.Lookup("Fuel")
	require.Equal(t, "more", fuel.Group)
}

func TestCatalog_Describe(t *testing.T) {
	cat, err := ParseCatalog([]byte(`
groups:
  - id: motion
    name: Motion
    parameters:
      - { api_name: Speed, display_name: Speed, unit: km/h }
fallback: [Odometer]
`))
	require.NoError(t, err)

	got := cat.Describe([]string{"Speed", "Odometer"})
	require.Equal(t, []ParameterInfo{
		{APIName: "Speed", DisplayName: "Speed", Unit: "km/h", Group: "motion"},
		{APIName: "Odometer", DisplayName: "Odometer"},
	}, got)
	require.Empty(t, cat.Describe(nil))
}

func TestLoadCatalog_EmptyPathUsesDefault(t *testing.T) {
	cat, err := LoadCatalog("")
	require.NoError(t, err)
	require.Equal(t, DefaultCatalog().Fingerprint, cat.Fingerprint)
}

func TestParseCatalog_Invalid(t *testing.T) {
	var tooMany strings.Builder
	tooMany.WriteString("groups: [{id: a, name: A, parameters: [{api_name: X}]}]\nfallback:\n")
	for i := 0; i <= DefaultBatchSize; i++ {
		fmt.Fprintf(&tooMany, "  - P%d\n", i)
	}

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{name: "malformed yaml", doc: "groups: [", wantErr: "parsing parameter catalog"},
		{name: "no groups", doc: "fallback: [X]", wantErr: "no parameter groups"},
		{name: "empty group id", doc: "groups: [{name: A, parameters: [{api_name: X}]}]\nfallback: [X]", wantErr: "id must not be empty"},
		{name: "duplicate group id", doc: "groups: [{id: a, parameters: [{api_name: X}]}, {id: a, parameters: [{api_name: Y}]}]\nfallback: [X]", wantErr: "duplicate id"},
		{name: "empty api name", doc: "groups: [{id: a, parameters: [{api_name: ''}]}]\nfallback: [X]", wantErr: "api_name must not be empty"},
		{name: "missing fallback", doc: "groups: [{id: a, parameters: [{api_name: X}]}]", wantErr: "fallback list must not be empty"},
		{name: "fallback too long", doc: tooMany.String(), wantErr: "at most 50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.doc))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
