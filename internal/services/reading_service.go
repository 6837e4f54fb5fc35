package services

import (
	"context"
	"sort"
	"strings"

	"campus-utilities/internal/derive"
	"campus-utilities/internal/models"
	"campus-utilities/internal/repository"
	"campus-utilities/pkg/logging"
	"campus-utilities/pkg/metrics"
)

// ReadingService validates and persists reading sets
type ReadingService struct {
	repo    repository.ReadingRepository
	periods *PeriodService
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewReadingService creates a new reading service
func NewReadingService(repo repository.ReadingRepository, periods *PeriodService, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ReadingService {
	return &ReadingService{
		repo:    repo,
		periods: periods,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ApplyEdits parses raw user input into rs. A blank value clears the point
// from the working set. Unknown, placeholder and derived points are rejected.
// Derived totals are recomputed afterwards. On error rs is left unchanged.
// Returns the ids whose value changed, derived ones included.
func ApplyEdits(cat *models.Catalog, rs *models.ReadingSet, edits map[string]string) ([]string, error) {
	ids := make([]string, 0, len(edits))
	for id := range edits {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	type change struct {
		id    string
		value float64
		clear bool
	}
	changes := make([]change, 0, len(ids))

	for _, id := range ids {
		if err := checkEditable(cat, id); err != nil {
			return nil, err
		}
		value, blank, err := models.ParseValue(id, edits[id])
		if err != nil {
			return nil, err
		}
		changes = append(changes, change{id: id, value: value, clear: blank})
	}

	var changed []string
	for _, c := range changes {
		old, had := rs.Get(c.id)
		if c.clear {
			if had {
				rs.Delete(c.id)
				changed = append(changed, c.id)
			}
			continue
		}
		if !had || old != c.value {
			_ = rs.Set(c.id, c.value)
			changed = append(changed, c.id)
		}
	}

	return append(changed, derive.Totals(cat, rs)...), nil
}

func checkEditable(cat *models.Catalog, id string) error {
	p, ok := cat.Point(id)
	if !ok {
		return &models.ValidationError{Field: id, Message: "unknown measurement point"}
	}
	if !p.Readable {
		return &models.ValidationError{Field: id, Message: "point is not offered for entry"}
	}
	if p.IsDerived() {
		return &models.ValidationError{Field: id, Message: "derived total cannot be edited"}
	}
	return nil
}

// Normalize validates every value of rs against the catalog and recomputes
// derived totals on a copy, which is returned.
func Normalize(cat *models.Catalog, rs *models.ReadingSet) (*models.ReadingSet, error) {
	out := models.NewReadingSet(rs.PeriodKey)
	for _, id := range rs.PointIDs() {
		p, ok := cat.Point(id)
		if !ok {
			return nil, &models.ValidationError{Field: id, Message: "unknown measurement point"}
		}
		if p.IsDerived() || !p.Readable {
			continue
		}
		v, _ := rs.Get(id)
		if err := out.Set(id, v); err != nil {
			return nil, err
		}
	}
	derive.Totals(cat, out)
	return out, nil
}

// Save persists the non-blank values of rs for a period. Points absent from
// rs keep their stored values, and derived totals are recomputed over rs
// merged with those stored values so a total always matches its stored
// siblings. Storage failures are returned as PersistenceError.
func (s *ReadingService) Save(ctx context.Context, catalogID, periodKey string, rs *models.ReadingSet, userID string) (*repository.SaveResult, error) {
	cat, period, err := s.periods.ParsePeriod(catalogID, periodKey)
	if err != nil {
		return nil, err
	}
	if rs.PeriodKey != "" && rs.PeriodKey != period.Key() {
		return nil, &models.ValidationError{Field: "period", Value: rs.PeriodKey, Message: "reading set belongs to another period"}
	}

	rec := s.periods.Record(cat, period, userID)

	stored, err := s.periods.load(ctx, rec.Dataset, period.Key())
	if err != nil {
		s.metrics.RecordSaveError(cat.ID, "persistence")
		return nil, err
	}

	normalized, err := Normalize(cat, withStored(cat, rs, stored))
	if err != nil {
		s.metrics.RecordSaveError(cat.ID, "validation")
		return nil, err
	}
	normalized.PeriodKey = period.Key()

	// write what rs carries plus the recomputed totals
	for _, id := range normalized.PointIDs() {
		if p, _ := cat.Point(id); p.IsDerived() {
			continue
		}
		if _, ok := rs.Get(id); !ok {
			normalized.Delete(id)
		}
	}

	result, err := s.repo.SaveReadings(ctx, rec, normalized, userID)
	if err != nil {
		s.metrics.RecordSaveError(cat.ID, "persistence")
		s.logger.Error(ctx, "[SAVE_ERROR] Failed to save readings", logging.Fields{
			"catalog": cat.ID,
			"period":  period.Key(),
			"count":   normalized.Len(),
		}, err)
		return nil, &models.PersistenceError{Op: "save " + cat.ID + " " + period.Key(), Err: err}
	}

	s.metrics.RecordSave(cat.ID, result.Written)
	s.logger.Info(ctx, "[SAVE_SUCCESS] Readings saved", logging.Fields{
		"catalog": cat.ID,
		"period":  period.Key(),
		"written": result.Written,
		"created": result.Created,
	})

	return result, nil
}

// withStored returns rs with every stored catalog value it lacks filled in.
// rs itself is not modified.
func withStored(cat *models.Catalog, rs, stored *models.ReadingSet) *models.ReadingSet {
	if stored == nil || stored.Len() == 0 {
		return rs
	}
	merged := rs.Clone()
	for _, id := range stored.PointIDs() {
		if _, ok := merged.Get(id); ok {
			continue
		}
		if _, known := cat.Point(id); !known {
			continue
		}
		v, _ := stored.Get(id)
		_ = merged.Set(id, v)
	}
	return merged
}

// Update applies raw edits to the stored set of a period and saves it,
// returning the refreshed comparison view.
func (s *ReadingService) Update(ctx context.Context, catalogID, periodKey string, edits map[string]string, userID string) (*ComparisonView, *repository.SaveResult, error) {
	res, err := s.periods.Resolve(ctx, catalogID, periodKey)
	if err != nil {
		return nil, nil, err
	}

	// stored values are never cleared, so blanks are no-ops here
	nonBlank := make(map[string]string, len(edits))
	for id, raw := range edits {
		if strings.TrimSpace(raw) != "" {
			nonBlank[id] = raw
		}
	}

	if _, err := ApplyEdits(res.Catalog, res.Current, nonBlank); err != nil {
		return nil, nil, err
	}

	result, err := s.Save(ctx, res.Catalog.ID, res.Period.Key(), res.Current, userID)
	if err != nil {
		return nil, nil, err
	}

	return BuildComparison(res.Catalog, res.Period, true, res.Current, res.Previous), result, nil
}
