package derive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-utilities/internal/models"
)

func ptr(v float64) *float64 { return &v }

func ptarCatalog() *models.Catalog {
	cat := &models.Catalog{
		ID:          "ptar",
		Granularity: models.GranularityDay,
		Points: []models.MeasurementPoint{
			{ID: "riego_1", Readable: true},
			{ID: "riego_2", Readable: true},
			{ID: "riego_3", Readable: true},
			{ID: "total_riego", Readable: true, DerivedFrom: []string{"riego_1", "riego_2", "riego_3"}},
		},
	}
	cat.Index()
	return cat
}

func TestTotals(t *testing.T) {
	tests := []struct {
		name        string
		values      map[string]float64
		wantTotal   *float64
		wantChanged []string
	}{
		{
			name:        "all siblings present",
			values:      map[string]float64{"riego_1": 1.5, "riego_2": 2.25, "riego_3": 3},
			wantTotal:   ptr(6.75),
			wantChanged: []string{"total_riego"},
		},
		{
			name:        "absent siblings count as zero",
			values:      map[string]float64{"riego_2": 4},
			wantTotal:   ptr(4),
			wantChanged: []string{"total_riego"},
		},
		{
			name:      "no siblings leaves total blank",
			values:    map[string]float64{},
			wantTotal: nil,
		},
		{
			name:        "stale total removed when siblings cleared",
			values:      map[string]float64{"total_riego": 99},
			wantTotal:   nil,
			wantChanged: []string{"total_riego"},
		},
		{
			name:        "manual total overwritten",
			values:      map[string]float64{"riego_1": 1, "total_riego": 50},
			wantTotal:   ptr(1),
			wantChanged: []string{"total_riego"},
		},
		{
			name:      "unchanged total not reported",
			values:    map[string]float64{"riego_1": 1, "total_riego": 1},
			wantTotal: ptr(1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := ptarCatalog()
			rs := models.NewReadingSet("2025-03-01")
			for k, v := range tt.values {
				require.NoError(t, rs.Set(k, v))
			}

			changed := Totals(cat, rs)

			assert.Equal(t, tt.wantChanged, changed)
			got := rs.Value("total_riego")
			if tt.wantTotal == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.wantTotal, *got, 1e-9)
		})
	}
}

func TestConsumption(t *testing.T) {
	unit := models.MeasurementPoint{ID: "pozo_11"}
	geared := models.MeasurementPoint{ID: "pozo_12", Gearing: 10}

	tests := []struct {
		name     string
		point    models.MeasurementPoint
		current  *float64
		previous *float64
		floor    bool
		want     *float64
	}{
		{name: "unit gearing", point: unit, current: ptr(150), previous: ptr(120), want: ptr(30)},
		{name: "gearing 10", point: geared, current: ptr(150), previous: ptr(120), want: ptr(300)},
		{name: "previous absent is unavailable", point: unit, current: ptr(120), previous: nil, want: nil},
		{name: "current absent is unavailable", point: unit, current: nil, previous: ptr(120), want: nil},
		{name: "negative kept without floor", point: unit, current: ptr(100), previous: ptr(120), want: ptr(-20)},
		{name: "negative floored", point: unit, current: ptr(100), previous: ptr(120), floor: true, want: ptr(0)},
		{name: "decimal noise trimmed", point: unit, current: ptr(0.3), previous: ptr(0.1), want: ptr(0.2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Consumption(tt.point, tt.current, tt.previous, tt.floor)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestConsumptionSet(t *testing.T) {
	cat := &models.Catalog{
		ID: "agua",
		Points: []models.MeasurementPoint{
			{ID: "pozo_11", Readable: true},
			{ID: "pozo_12", Readable: true, Gearing: 10},
			{ID: "pozo_8", Readable: false},
		},
	}

	current := models.NewReadingSet("2025-W06")
	require.NoError(t, current.Set("pozo_11", 150))
	require.NoError(t, current.Set("pozo_12", 150))

	records := ConsumptionSet(cat, current, nil)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Nil(t, r.Consumption, r.PointID)
	}

	previous := models.NewReadingSet("2025-W05")
	require.NoError(t, previous.Set("pozo_11", 120))
	require.NoError(t, previous.Set("pozo_12", 120))

	records = ConsumptionSet(cat, current, previous)
	require.Len(t, records, 2)
	assert.Equal(t, 30.0, *records[0].Consumption)
	assert.Equal(t, 300.0, *records[1].Consumption)
	assert.Equal(t, "2025-W06", records[0].PeriodKey)
}

func TestDelta(t *testing.T) {
	d, pct := Delta(ptr(150), ptr(120))
	require.NotNil(t, d)
	require.NotNil(t, pct)
	assert.Equal(t, 30.0, *d)
	assert.Equal(t, 25.0, *pct)

	d, pct = Delta(ptr(5), ptr(0))
	require.NotNil(t, d)
	assert.Equal(t, 5.0, *d)
	assert.Nil(t, pct)

	d, pct = Delta(ptr(5), nil)
	assert.Nil(t, d)
	assert.Nil(t, pct)
}
