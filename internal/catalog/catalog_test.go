package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-utilities/internal/models"
)

func TestDefault(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []string{"agua", "diario", "gas", "ptar"}, r.IDs())

	agua, err := r.Get("agua")
	require.NoError(t, err)
	assert.Equal(t, models.GranularityWeek, agua.Granularity)

	p, ok := agua.Point("pozo_12")
	require.True(t, ok)
	assert.Equal(t, 10.0, p.GearingFactor())

	p, ok = agua.Point("pozo_11")
	require.True(t, ok)
	assert.Equal(t, 1.0, p.GearingFactor())

	ptar, err := r.Get("ptar")
	require.NoError(t, err)
	total, ok := ptar.Point("total_riego")
	require.True(t, ok)
	assert.Equal(t, []string{"riego_1", "riego_2", "riego_3"}, total.DerivedFrom)

	gas, err := r.Get("gas")
	require.NoError(t, err)
	assert.True(t, gas.FloorConsumption)

	_, err = r.Get("electricidad")
	assert.True(t, models.IsNotFound(err))
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "unknown granularity",
			data: `
[[catalogs]]
id = "x"
granularity = "month"
  [[catalogs.points]]
  id = "a"
`,
		},
		{
			name: "duplicate point",
			data: `
[[catalogs]]
id = "x"
granularity = "day"
  [[catalogs.points]]
  id = "a"
  [[catalogs.points]]
  id = "a"
`,
		},
		{
			name: "derived from unknown point",
			data: `
[[catalogs]]
id = "x"
granularity = "day"
  [[catalogs.points]]
  id = "total"
  derived_from = ["a"]
`,
		},
		{
			name: "negative gearing",
			data: `
[[catalogs]]
id = "x"
granularity = "week"
  [[catalogs.points]]
  id = "a"
  gearing = -1
`,
		},
		{name: "not toml", data: `[[catalogs`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestDataset(t *testing.T) {
	r := MustDefault()
	agua, _ := r.Get("agua")
	ptar, _ := r.Get("ptar")

	week, err := models.NewWeekPeriod(2025, 5)
	require.NoError(t, err)
	assert.Equal(t, "agua_2025", Dataset(agua, week))

	day, err := models.ParsePeriodKey(models.GranularityDay, "2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, "ptar", Dataset(ptar, day))
}
