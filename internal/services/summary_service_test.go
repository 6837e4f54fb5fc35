package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-utilities/internal/models"
)

func TestNewForecast(t *testing.T) {
	tests := []struct {
		name      string
		series    []float64
		wantNil   bool
		wantBasis []float64
		wantAvg   float64
		wantTrend float64
	}{
		{name: "empty", wantNil: true},
		{name: "single value", series: []float64{12}, wantBasis: []float64{12}, wantAvg: 12, wantTrend: 12},
		{name: "rising", series: []float64{10, 20}, wantBasis: []float64{10, 20}, wantAvg: 15, wantTrend: 30},
		{
			name:      "window keeps last four",
			series:    []float64{100, 10, 20, 30, 40},
			wantBasis: []float64{10, 20, 30, 40},
			wantAvg:   25,
			wantTrend: 50,
		},
		{name: "falling trend floored", series: []float64{90, 10}, wantBasis: []float64{90, 10}, wantAvg: 50, wantTrend: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewForecast(tt.series)
			if tt.wantNil {
				assert.Nil(t, f)
				return
			}
			require.NotNil(t, f)
			assert.Equal(t, tt.wantBasis, f.Basis)
			assert.InDelta(t, tt.wantAvg, f.MovingAverage, 1e-9)
			assert.InDelta(t, tt.wantTrend, f.Trend, 1e-9)
		})
	}
}

func TestSummaryService_Summarize(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seed(t, "agua", "2025-W05", map[string]float64{"pozo_11": 100})
	env.seed(t, "agua", "2025-W06", map[string]float64{"pozo_11": 110})
	env.seed(t, "agua", "2025-W07", map[string]float64{"pozo_11": 130, "pozo_12": 10})
	env.seed(t, "agua", "2025-W09", map[string]float64{"pozo_11": 200})
	env.seed(t, "agua", "2024-W52", map[string]float64{"pozo_11": 1})

	summary, err := env.summary.Summarize(ctx, "agua", 2025)
	require.NoError(t, err)

	require.Len(t, summary.Periods, 4)
	keys := []string{}
	for _, p := range summary.Periods {
		keys = append(keys, p.Period)
	}
	assert.Equal(t, []string{"2025-W05", "2025-W06", "2025-W07", "2025-W09"}, keys)

	assert.Nil(t, summary.Periods[0].Total, "previous week is outside the year")
	assert.Equal(t, ptr(10), summary.Periods[1].Total)
	assert.Nil(t, summary.Periods[1].DeltaPercent)
	assert.Equal(t, ptr(20), summary.Periods[2].Total)
	assert.Equal(t, ptr(100), summary.Periods[2].DeltaPercent)
	assert.Nil(t, summary.Periods[3].Total, "week 8 is missing")

	require.NotNil(t, summary.Average)
	assert.InDelta(t, 15, *summary.Average, 1e-9)
	require.NotNil(t, summary.Forecast)
	assert.InDelta(t, 30, summary.Forecast.Trend, 1e-9)

	points := map[string]PointTotal{}
	for _, p := range summary.Points {
		points[p.PointID] = p
	}
	assert.Equal(t, ptr(30), points["pozo_11"].Total)
	assert.Nil(t, points["pozo_12"].Total)
}

func TestSummaryService_EmptyYear(t *testing.T) {
	env := newTestEnv(t)

	summary, err := env.summary.Summarize(context.Background(), "gas", 2030)
	require.NoError(t, err)
	assert.Empty(t, summary.Periods)
	assert.Nil(t, summary.Average)
	assert.Nil(t, summary.Forecast)

	_, err = env.summary.Summarize(context.Background(), "luz", 2025)
	assert.True(t, models.IsNotFound(err))
}
