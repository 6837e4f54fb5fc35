package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"campus-utilities/internal/catalog"
	"campus-utilities/internal/models"
	"campus-utilities/internal/repository"
	"campus-utilities/pkg/database"
	"campus-utilities/pkg/logging"
	"campus-utilities/pkg/metrics"
)

type testEnv struct {
	db       *database.DB
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
	repo     repository.ReadingRepository
	profiles repository.ProfileRepository
	periods  *PeriodService
	readings *ReadingService
	imports  *ImportService
	summary  *SummaryService
	accounts *ProfileService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logging.NewNopLogger()
	collector := metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())
	db, err := database.OpenSQLiteMemory(logger, collector)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{db: db, logger: logger, metrics: collector}
	env.repo = repository.NewReadingRepository(db, logger, collector)
	env.profiles = repository.NewProfileRepository(db, logger)
	env.wire(env.repo)
	return env
}

// wire rebuilds the services on top of repo, used to inject fakes
func (env *testEnv) wire(repo repository.ReadingRepository) {
	env.periods = NewPeriodService(repo, catalog.MustDefault(), env.logger, env.metrics)
	env.readings = NewReadingService(repo, env.periods, env.logger, env.metrics)
	env.imports = NewImportService(env.readings, env.logger, env.metrics)
	env.summary = NewSummaryService(repo, env.periods, env.logger, env.metrics)
	env.accounts = NewProfileService(env.profiles, env.logger, env.metrics)
}

func (env *testEnv) seed(t *testing.T, catalogID, periodKey string, values map[string]float64) {
	t.Helper()
	rs := models.NewReadingSet(periodKey)
	for k, v := range values {
		require.NoError(t, rs.Set(k, v))
	}
	_, err := env.readings.Save(context.Background(), catalogID, periodKey, rs, "seed")
	require.NoError(t, err)
}

func (env *testEnv) newEditor(delay time.Duration) *Editor {
	return NewEditor(env.periods, env.readings, env.imports, "tester", delay, env.logger, env.metrics)
}

var errBackendDown = errors.New("connection refused")

// hookRepo wraps a repository; hooks run before delegating
type hookRepo struct {
	repository.ReadingRepository
	beforeLoad func(ctx context.Context, dataset, periodKey string) error
	beforeSave func(ctx context.Context) error
}

func (h *hookRepo) LoadReadings(ctx context.Context, dataset, periodKey string) (*models.ReadingSet, error) {
	if h.beforeLoad != nil {
		if err := h.beforeLoad(ctx, dataset, periodKey); err != nil {
			return nil, err
		}
	}
	return h.ReadingRepository.LoadReadings(ctx, dataset, periodKey)
}

func (h *hookRepo) SaveReadings(ctx context.Context, rec *models.PeriodRecord, rs *models.ReadingSet, updatedBy string) (*repository.SaveResult, error) {
	if h.beforeSave != nil {
		if err := h.beforeSave(ctx); err != nil {
			return nil, err
		}
	}
	return h.ReadingRepository.SaveReadings(ctx, rec, rs, updatedBy)
}

func ptr(v float64) *float64 { return &v }
