package repository

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-utilities/internal/models"
	"campus-utilities/pkg/database"
	"campus-utilities/pkg/logging"
	"campus-utilities/pkg/metrics"
)

func newTestDB(t *testing.T) (*database.DB, *logging.StructuredLogger, *metrics.Collector) {
	t.Helper()
	logger := logging.NewNopLogger()
	collector := metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())
	db, err := database.OpenSQLiteMemory(logger, collector)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, logger, collector
}

func weekRecord(t *testing.T, week int) *models.PeriodRecord {
	t.Helper()
	p, err := models.NewWeekPeriod(2025, week)
	require.NoError(t, err)
	return models.NewPeriodRecord("agua_2025", "agua", p, "tester", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
}

func TestReadingRepository_CreateAndGetPeriod(t *testing.T) {
	db, logger, collector := newTestDB(t)
	repo := NewReadingRepository(db, logger, collector)
	ctx := context.Background()

	rec := weekRecord(t, 5)

	created, err := repo.CreatePeriod(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreatePeriod(ctx, rec)
	require.NoError(t, err)
	assert.False(t, created, "second create must report existing period")

	got, err := repo.GetPeriod(ctx, "agua_2025", "2025-W05")
	require.NoError(t, err)
	assert.Equal(t, "agua", got.Catalog)
	assert.Equal(t, 5, got.Week)
	assert.Equal(t, "2025-01-27", got.StartDate)
	assert.Equal(t, "2025-02-02", got.EndDate)
	assert.Equal(t, "tester", got.CreatedBy)

	_, err = repo.GetPeriod(ctx, "agua_2025", "2025-W06")
	assert.True(t, models.IsNotFound(err))
}

func TestReadingRepository_ListPeriods(t *testing.T) {
	db, logger, collector := newTestDB(t)
	repo := NewReadingRepository(db, logger, collector)
	ctx := context.Background()

	for _, w := range []int{3, 5, 4} {
		_, err := repo.CreatePeriod(ctx, weekRecord(t, w))
		require.NoError(t, err)
	}

	year := 2025
	tests := []struct {
		name     string
		filter   PeriodFilter
		wantKeys []string
	}{
		{
			name:     "all newest first",
			filter:   PeriodFilter{Catalog: "agua"},
			wantKeys: []string{"2025-W05", "2025-W04", "2025-W03"},
		},
		{
			name:     "year filter with limit",
			filter:   PeriodFilter{Catalog: "agua", Year: &year, Limit: 2},
			wantKeys: []string{"2025-W05", "2025-W04"},
		},
		{
			name:     "offset",
			filter:   PeriodFilter{Catalog: "agua", Limit: 2, Offset: 2},
			wantKeys: []string{"2025-W03"},
		},
		{
			name:   "other catalog",
			filter: PeriodFilter{Catalog: "gas"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			periods, err := repo.ListPeriods(ctx, tt.filter)
			require.NoError(t, err)

			var keys []string
			for _, p := range periods {
				keys = append(keys, p.PeriodKey)
			}
			assert.Equal(t, tt.wantKeys, keys)
		})
	}
}

func TestReadingRepository_SaveReadingsPartialUpdate(t *testing.T) {
	db, logger, collector := newTestDB(t)
	repo := NewReadingRepository(db, logger, collector)
	ctx := context.Background()
	rec := weekRecord(t, 5)

	_, err := repo.LoadReadings(ctx, rec.Dataset, rec.PeriodKey)
	assert.True(t, models.IsNotFound(err))

	first := models.NewReadingSet(rec.PeriodKey)
	require.NoError(t, first.Set("pozo_11", 120))
	require.NoError(t, first.Set("pozo_12", 80))

	result, err := repo.SaveReadings(ctx, rec, first, "tester")
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, 2, result.Written)

	// pozo_12 omitted: must be left untouched
	second := models.NewReadingSet(rec.PeriodKey)
	require.NoError(t, second.Set("pozo_11", 125.5))
	require.NoError(t, second.Set("pozo_1", 7))

	result, err = repo.SaveReadings(ctx, rec, second, "tester")
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, 2, result.Written)

	loaded, err := repo.LoadReadings(ctx, rec.Dataset, rec.PeriodKey)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"pozo_1": 7, "pozo_11": 125.5, "pozo_12": 80}, loaded.Values())
	assert.Equal(t, "2025-W05", loaded.PeriodKey)
}

func TestReadingRepository_LoadEmptyPeriod(t *testing.T) {
	db, logger, collector := newTestDB(t)
	repo := NewReadingRepository(db, logger, collector)
	ctx := context.Background()
	rec := weekRecord(t, 7)

	_, err := repo.CreatePeriod(ctx, rec)
	require.NoError(t, err)

	rs, err := repo.LoadReadings(ctx, rec.Dataset, rec.PeriodKey)
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Len())
}

func TestReadingRepository_ListReadings(t *testing.T) {
	db, logger, collector := newTestDB(t)
	repo := NewReadingRepository(db, logger, collector)
	ctx := context.Background()

	for week, v := range map[int]float64{5: 120, 6: 150} {
		rec := weekRecord(t, week)
		rs := models.NewReadingSet(rec.PeriodKey)
		require.NoError(t, rs.Set("pozo_11", v))
		_, err := repo.SaveReadings(ctx, rec, rs, "")
		require.NoError(t, err)
	}

	rows, err := repo.ListReadings(ctx, "agua", 2025)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2025-W05", rows[0].PeriodKey)
	assert.Equal(t, 120.0, rows[0].Value)
	assert.Equal(t, "2025-W06", rows[1].PeriodKey)
	assert.Equal(t, 150.0, rows[1].Value)

	rows, err = repo.ListReadings(ctx, "agua", 2024)
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, repo.HealthCheck(ctx))
}

func TestProfileRepository(t *testing.T) {
	db, logger, _ := newTestDB(t)
	repo := NewProfileRepository(db, logger)
	ctx := context.Background()

	_, err := repo.GetProfile(ctx, "u-1")
	assert.True(t, models.IsNotFound(err))

	created, err := repo.EnsureProfile(ctx, &models.UserProfile{UserID: "u-1", Role: models.RoleUser, CreatedAt: 1})
	require.NoError(t, err)
	assert.True(t, created)

	// an existing profile is never overwritten by a login
	created, err = repo.EnsureProfile(ctx, &models.UserProfile{UserID: "u-1", Role: models.RoleAdmin, CreatedAt: 2})
	require.NoError(t, err)
	assert.False(t, created)

	p, err := repo.GetProfile(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, p.Role)
	assert.Equal(t, int64(1), p.CreatedAt)

	profiles, err := repo.ListProfiles(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, profiles, 1)
}

func TestProfileRepository_ContactMessages(t *testing.T) {
	db, logger, _ := newTestDB(t)
	repo := NewProfileRepository(db, logger)
	ctx := context.Background()

	require.NoError(t, repo.CreateContactMessage(ctx, &models.ContactMessage{
		ID: "m-1", Name: "Ana", Email: "ana@example.com", Body: "Fuga en pozo 3", CreatedAt: 10,
	}))
	require.NoError(t, repo.CreateContactMessage(ctx, &models.ContactMessage{
		ID: "m-2", Name: "Luis", Email: "luis@example.com", Body: "Medidor sin lectura", CreatedAt: 20,
	}))

	messages, err := repo.ListContactMessages(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m-2", messages[0].ID)
	assert.Equal(t, "Fuga en pozo 3", messages[1].Body)

	err = repo.CreateContactMessage(ctx, &models.ContactMessage{ID: "m-1", Name: "x", Email: "x", Body: "x"})
	assert.Error(t, err, "duplicate id must fail")
}
