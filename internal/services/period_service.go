package services

import (
	"context"
	"time"

	"campus-utilities/internal/catalog"
	"campus-utilities/internal/models"
	"campus-utilities/internal/repository"
	"campus-utilities/pkg/logging"
	"campus-utilities/pkg/metrics"
)

// PeriodService resolves periods of a catalog to their stored reading sets
type PeriodService struct {
	repo     repository.ReadingRepository
	catalogs *catalog.Registry
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
	now      func() time.Time
}

// Resolution is the outcome of resolving a period: its current set, which is
// empty for a period not created yet, and the previous period's set, which is
// nil when there is no previous period or it was never created.
type Resolution struct {
	Catalog  *models.Catalog
	Period   models.Period
	Dataset  string
	Exists   bool
	Current  *models.ReadingSet
	Previous *models.ReadingSet
}

// NewPeriodService creates a new period service
func NewPeriodService(repo repository.ReadingRepository, catalogs *catalog.Registry, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *PeriodService {
	return &PeriodService{
		repo:     repo,
		catalogs: catalogs,
		logger:   logger,
		metrics:  metricsCollector,
		now:      time.Now,
	}
}

// Catalogs returns the catalog registry
func (s *PeriodService) Catalogs() *catalog.Registry {
	return s.catalogs
}

// ParsePeriod looks up the catalog and parses a period key in its granularity
func (s *PeriodService) ParsePeriod(catalogID, periodKey string) (*models.Catalog, models.Period, error) {
	cat, err := s.catalogs.Get(catalogID)
	if err != nil {
		return nil, models.Period{}, err
	}
	p, err := models.ParsePeriodKey(cat.Granularity, periodKey)
	if err != nil {
		return nil, models.Period{}, err
	}
	return cat, p, nil
}

// Resolve loads the current and previous reading sets of a period. Not-found
// is not an error; backend failures are returned as PersistenceError.
func (s *PeriodService) Resolve(ctx context.Context, catalogID, periodKey string) (*Resolution, error) {
	cat, period, err := s.ParsePeriod(catalogID, periodKey)
	if err != nil {
		return nil, err
	}

	res := &Resolution{
		Catalog: cat,
		Period:  period,
		Dataset: catalog.Dataset(cat, period),
	}

	current, err := s.load(ctx, res.Dataset, period.Key())
	if err != nil {
		return nil, err
	}
	res.Exists = current != nil
	if current == nil {
		current = models.NewReadingSet(period.Key())
	}
	res.Current = current

	if prev, ok := period.Previous(); ok {
		previous, err := s.load(ctx, catalog.Dataset(cat, prev), prev.Key())
		if err != nil {
			return nil, err
		}
		res.Previous = previous
	}

	s.logger.Debug(ctx, "[PERIOD_RESOLVED] Period resolved", logging.Fields{
		"catalog":      cat.ID,
		"period":       period.Key(),
		"exists":       res.Exists,
		"has_previous": res.Previous != nil,
	})

	return res, nil
}

// load returns nil, nil for a missing period
func (s *PeriodService) load(ctx context.Context, dataset, key string) (*models.ReadingSet, error) {
	rs, err := s.repo.LoadReadings(ctx, dataset, key)
	if models.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error(ctx, "[PERIOD_LOAD_ERROR] Failed to load period", logging.Fields{
			"dataset": dataset,
			"period":  key,
		}, err)
		s.metrics.RecordDBError("load_period")
		return nil, &models.PersistenceError{Op: "load period " + key, Err: err}
	}
	return rs, nil
}

// CreatePeriod creates an empty period. Creating an existing period is not an
// error; the bool reports whether this call created it.
func (s *PeriodService) CreatePeriod(ctx context.Context, catalogID, periodKey, createdBy string) (*models.PeriodRecord, bool, error) {
	cat, period, err := s.ParsePeriod(catalogID, periodKey)
	if err != nil {
		return nil, false, err
	}

	rec := models.NewPeriodRecord(catalog.Dataset(cat, period), cat.ID, period, createdBy, s.now().UTC())
	created, err := s.repo.CreatePeriod(ctx, rec)
	if err != nil {
		return nil, false, &models.PersistenceError{Op: "create period " + period.Key(), Err: err}
	}

	if !created {
		existing, err := s.repo.GetPeriod(ctx, rec.Dataset, rec.PeriodKey)
		if err != nil {
			return nil, false, &models.PersistenceError{Op: "get period " + period.Key(), Err: err}
		}
		rec = existing
	}

	s.logger.Info(ctx, "[PERIOD_CREATE] Period requested", logging.Fields{
		"catalog": cat.ID,
		"period":  period.Key(),
		"created": created,
	})

	return rec, created, nil
}

// ListPeriods lists created periods of a catalog, newest first
func (s *PeriodService) ListPeriods(ctx context.Context, catalogID string, year *int, limit, offset int) ([]*models.PeriodRecord, error) {
	if _, err := s.catalogs.Get(catalogID); err != nil {
		return nil, err
	}

	periods, err := s.repo.ListPeriods(ctx, repository.PeriodFilter{
		Catalog: catalogID,
		Year:    year,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return nil, &models.PersistenceError{Op: "list periods", Err: err}
	}
	if periods == nil {
		periods = []*models.PeriodRecord{}
	}
	return periods, nil
}

// Record builds the stored form of a period for saving
func (s *PeriodService) Record(cat *models.Catalog, period models.Period, createdBy string) *models.PeriodRecord {
	return models.NewPeriodRecord(catalog.Dataset(cat, period), cat.ID, period, createdBy, s.now().UTC())
}
