package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"campus-utilities/internal/models"
	"campus-utilities/pkg/database"
	"campus-utilities/pkg/logging"
	"campus-utilities/pkg/metrics"
)

// ReadingRepository provides data access for periods and their readings
type ReadingRepository interface {
	// Period operations
	CreatePeriod(ctx context.Context, rec *models.PeriodRecord) (bool, error)
	GetPeriod(ctx context.Context, dataset, periodKey string) (*models.PeriodRecord, error)
	ListPeriods(ctx context.Context, filter PeriodFilter) ([]*models.PeriodRecord, error)

	// Reading operations
	LoadReadings(ctx context.Context, dataset, periodKey string) (*models.ReadingSet, error)
	SaveReadings(ctx context.Context, rec *models.PeriodRecord, rs *models.ReadingSet, updatedBy string) (*SaveResult, error)
	ListReadings(ctx context.Context, catalog string, year int) ([]*ReadingRow, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// PeriodFilter defines filters for listing periods
type PeriodFilter struct {
	Catalog string
	Year    *int
	Limit   int
	Offset  int
}

// SaveResult reports what a save did
type SaveResult struct {
	Created bool `json:"created"`
	Written int  `json:"written"`
}

// ReadingRow is one stored point value joined with its period
type ReadingRow struct {
	PeriodKey string  `db:"period_key"`
	StartDate string  `db:"start_date"`
	PointID   string  `db:"point_id"`
	Value     float64 `db:"value"`
}

type readingRepository struct {
	db      *database.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewReadingRepository creates a new reading repository
func NewReadingRepository(db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) ReadingRepository {
	return &readingRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

const insertPeriodQuery = `
	INSERT INTO periods (dataset, period_key, catalog, kind, year, week, start_date, end_date, created_by, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (dataset, period_key) DO NOTHING
`

func periodArgs(rec *models.PeriodRecord) []interface{} {
	return []interface{}{
		rec.Dataset, rec.PeriodKey, rec.Catalog, rec.Kind, rec.Year, rec.Week,
		rec.StartDate, rec.EndDate, rec.CreatedBy, rec.CreatedAt,
	}
}

// CreatePeriod inserts the period row if absent. It reports whether the row
// was created by this call.
func (r *readingRepository) CreatePeriod(ctx context.Context, rec *models.PeriodRecord) (bool, error) {
	result, err := r.db.ExecContext(ctx, "insert_period", insertPeriodQuery, periodArgs(rec)...)
	if err != nil {
		return false, fmt.Errorf("failed to create period: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	created := affected > 0
	if created {
		r.metrics.PeriodsCreated.WithLabelValues(rec.Catalog).Inc()
	}

	r.logger.Debug(ctx, "[REPO_CREATE_PERIOD] Period stored", logging.Fields{
		"dataset": rec.Dataset,
		"period":  rec.PeriodKey,
		"created": created,
	})

	return created, nil
}

// GetPeriod retrieves a period row
func (r *readingRepository) GetPeriod(ctx context.Context, dataset, periodKey string) (*models.PeriodRecord, error) {
	query := `
		SELECT dataset, period_key, catalog, kind, year, week, start_date, end_date, created_by, created_at
		FROM periods
		WHERE dataset = ? AND period_key = ?
	`

	var rec models.PeriodRecord
	err := r.db.GetContext(ctx, "get_period", &rec, query, dataset, periodKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{
			Resource: "period",
			ID:       dataset + "/" + periodKey,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get period: %w", err)
	}

	return &rec, nil
}

// ListPeriods lists periods of a catalog, newest first
func (r *readingRepository) ListPeriods(ctx context.Context, filter PeriodFilter) ([]*models.PeriodRecord, error) {
	query := `
		SELECT dataset, period_key, catalog, kind, year, week, start_date, end_date, created_by, created_at
		FROM periods
		WHERE catalog = ?
	`
	args := []interface{}{filter.Catalog}

	if filter.Year != nil {
		query += " AND year = ?"
		args = append(args, *filter.Year)
	}

	query += " ORDER BY start_date DESC"

	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	var periods []*models.PeriodRecord
	if err := r.db.SelectContext(ctx, "list_periods", &periods, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list periods: %w", err)
	}

	return periods, nil
}

// LoadReadings returns the reading set of an existing period. A period
// without any stored values yields an empty set; a missing period yields
// NotFoundError.
func (r *readingRepository) LoadReadings(ctx context.Context, dataset, periodKey string) (*models.ReadingSet, error) {
	if _, err := r.GetPeriod(ctx, dataset, periodKey); err != nil {
		return nil, err
	}

	query := `
		SELECT point_id, value
		FROM readings
		WHERE dataset = ? AND period_key = ?
		ORDER BY point_id
	`

	var rows []struct {
		PointID string  `db:"point_id"`
		Value   float64 `db:"value"`
	}
	if err := r.db.SelectContext(ctx, "load_readings", &rows, query, dataset, periodKey); err != nil {
		return nil, fmt.Errorf("failed to load readings: %w", err)
	}

	rs := models.NewReadingSet(periodKey)
	for _, row := range rows {
		if err := rs.Set(row.PointID, row.Value); err != nil {
			r.logger.Warn(ctx, "[REPO_BAD_VALUE] Skipping invalid stored value", logging.Fields{
				"dataset":  dataset,
				"period":   periodKey,
				"point_id": row.PointID,
				"value":    row.Value,
			})
		}
	}

	return rs, nil
}

// SaveReadings upserts every value present in rs inside one transaction.
// Points absent from rs are left untouched. The period row is inserted when
// missing, which is what Created reports.
func (r *readingRepository) SaveReadings(ctx context.Context, rec *models.PeriodRecord, rs *models.ReadingSet, updatedBy string) (*SaveResult, error) {
	timer := r.metrics.NewTimer(r.metrics.SaveDuration.WithLabelValues(rec.Catalog))
	defer func() {
		duration := timer.ObserveDuration()
		r.logger.Debug(ctx, "[REPO_SAVE] Save transaction finished", logging.Fields{
			"dataset":     rec.Dataset,
			"period":      rec.PeriodKey,
			"count":       rs.Len(),
			"duration_ms": duration.Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(insertPeriodQuery), periodArgs(rec)...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert period: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO readings (dataset, period_key, point_id, value, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (dataset, period_key, point_id) DO UPDATE SET
			value = excluded.value,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at
	`))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().UnixMilli()
	written := 0
	for _, pointID := range rs.PointIDs() {
		value, _ := rs.Get(pointID)
		if _, err := stmt.ExecContext(ctx, rec.Dataset, rec.PeriodKey, pointID, value, updatedBy, now); err != nil {
			return nil, fmt.Errorf("failed to upsert reading %s: %w", pointID, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	created := affected > 0
	if created {
		r.metrics.PeriodsCreated.WithLabelValues(rec.Catalog).Inc()
	}

	return &SaveResult{Created: created, Written: written}, nil
}

// ListReadings returns every stored value of a catalog for one year, ordered
// by period start then point.
func (r *readingRepository) ListReadings(ctx context.Context, catalog string, year int) ([]*ReadingRow, error) {
	query := `
		SELECT p.period_key, p.start_date, r.point_id, r.value
		FROM periods p
		JOIN readings r ON r.dataset = p.dataset AND r.period_key = p.period_key
		WHERE p.catalog = ? AND p.year = ?
		ORDER BY p.start_date, r.point_id
	`

	var rows []*ReadingRow
	if err := r.db.SelectContext(ctx, "list_readings", &rows, query, catalog, year); err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}

	return rows, nil
}

// HealthCheck performs a repository health check
func (r *readingRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
