package diagnostics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-utilities/internal/autosave"
	"campus-utilities/internal/services"
)

func TestHarness_SeedAndDescribe(t *testing.T) {
	h, err := New()
	require.NoError(t, err)
	defer h.Close()
	ctx := context.Background()

	require.NoError(t, h.Seed(ctx, "ptar", "2025-03-01", map[string]float64{"riego_1": 1, "riego_2": 2}))
	require.NoError(t, h.Seed(ctx, "ptar", "2025-03-02", map[string]float64{"riego_1": 4, "riego_2": 2}))
	assert.Error(t, h.Seed(ctx, "ptar", "2025-03-02", map[string]float64{"caldera": 1}))

	editor := h.NewEditor("diag", time.Hour)
	defer editor.Close()

	assert.Contains(t, Describe(editor.Snapshot()), "no period open")

	_, err = editor.Open(ctx, "ptar", "2025-03-02")
	require.NoError(t, err)

	out := Describe(editor.Snapshot())
	assert.Contains(t, out, "ptar 2025-03-02")
	assert.Contains(t, out, "status=saved completion=2/4")
	assert.Regexp(t, `riego_1\s+4\s+1\s+3`, out)
	assert.Regexp(t, `total_riego\*\s+6\s+3\s+3`, out)
	assert.Regexp(t, `riego_3\s+-\s+-\s+-`, out)

	values, err := h.MetricValues()
	require.NoError(t, err)
	assert.Equal(t, 6.0, values["diagnostics_readings_saved_total{catalog=ptar}"])
	assert.Equal(t, 1.0, values["diagnostics_active_editors"])
}

func TestDescribe_Error(t *testing.T) {
	snap := services.EditorSnapshot{
		Status: autosave.StatusError,
		Error:  "connection refused",
		View:   &services.ComparisonView{Catalog: "gas", Period: "2025-W05", Label: "Semana 5"},
	}
	assert.Contains(t, Describe(snap), `status=error completion=0/0 error="connection refused"`)
}
