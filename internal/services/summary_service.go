package services

import (
	"context"
	"time"

	"campus-utilities/internal/derive"
	"campus-utilities/internal/models"
	"campus-utilities/internal/repository"
	"campus-utilities/pkg/logging"
	"campus-utilities/pkg/metrics"
)

// forecastWindow is the number of trailing period totals a forecast uses
const forecastWindow = 4

// SummaryService aggregates consumption over a year of periods
type SummaryService struct {
	repo    repository.ReadingRepository
	periods *PeriodService
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// PeriodTotal is the consumption of one period across all points
type PeriodTotal struct {
	Period       string   `json:"period"`
	Label        string   `json:"label"`
	StartDate    string   `json:"start_date"`
	Total        *float64 `json:"total"`
	DeltaPercent *float64 `json:"delta_percent"`
}

// PointTotal is the consumption of one point summed over the year
type PointTotal struct {
	PointID     string   `json:"point_id"`
	DisplayName string   `json:"name"`
	Total       *float64 `json:"total"`
}

// Forecast estimates the next period total from the trailing window
type Forecast struct {
	Basis         []float64 `json:"basis"`
	MovingAverage float64   `json:"moving_average"`
	Trend         float64   `json:"trend"`
}

// Summary is the yearly aggregation of a catalog
type Summary struct {
	Catalog  string        `json:"catalog"`
	Year     int           `json:"year"`
	Periods  []PeriodTotal `json:"periods"`
	Points   []PointTotal  `json:"points"`
	Average  *float64      `json:"average"`
	Forecast *Forecast     `json:"forecast"`
}

// NewSummaryService creates a new summary service
func NewSummaryService(repo repository.ReadingRepository, periods *PeriodService, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SummaryService {
	return &SummaryService{
		repo:    repo,
		periods: periods,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Summarize computes per-period consumption totals for a year, the average,
// period-over-period percentage change and a forecast. Consumption of a
// period is only available when the immediately preceding period was stored.
func (s *SummaryService) Summarize(ctx context.Context, catalogID string, year int) (*Summary, error) {
	startTime := time.Now()

	cat, err := s.periods.Catalogs().Get(catalogID)
	if err != nil {
		return nil, err
	}

	rows, err := s.repo.ListReadings(ctx, cat.ID, year)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list readings", Err: err}
	}

	var (
		order []string
		sets  = make(map[string]*models.ReadingSet)
	)
	for _, row := range rows {
		rs, ok := sets[row.PeriodKey]
		if !ok {
			rs = models.NewReadingSet(row.PeriodKey)
			sets[row.PeriodKey] = rs
			order = append(order, row.PeriodKey)
		}
		if err := rs.Set(row.PointID, row.Value); err != nil {
			continue
		}
	}

	summary := &Summary{
		Catalog: cat.ID,
		Year:    year,
		Periods: []PeriodTotal{},
	}

	pointSums := make(map[string]float64)
	pointSeen := make(map[string]bool)
	var totals []float64

	for _, key := range order {
		period, err := models.ParsePeriodKey(cat.Granularity, key)
		if err != nil {
			s.logger.Warn(ctx, "[SUMMARY_BAD_PERIOD] Skipping unparsable period", logging.Fields{
				"catalog": cat.ID,
				"period":  key,
			})
			continue
		}

		pt := PeriodTotal{
			Period:    key,
			Label:     period.Label(),
			StartDate: period.StartDate(),
		}

		var previous *models.ReadingSet
		if prev, ok := period.Previous(); ok {
			previous = sets[prev.Key()]
		}

		if previous != nil {
			var total float64
			have := false
			for _, rec := range derive.ConsumptionSet(cat, sets[key], previous) {
				p, _ := cat.Point(rec.PointID)
				if rec.Consumption == nil || p.IsDerived() {
					continue
				}
				total += *rec.Consumption
				have = true
				pointSums[rec.PointID] += *rec.Consumption
				pointSeen[rec.PointID] = true
			}
			if have {
				pt.Total = &total
			}
		}

		if n := len(summary.Periods); n > 0 {
			_, pt.DeltaPercent = derive.Delta(pt.Total, summary.Periods[n-1].Total)
		}
		if pt.Total != nil {
			totals = append(totals, *pt.Total)
		}
		summary.Periods = append(summary.Periods, pt)
	}

	for _, p := range cat.EntryPoints() {
		pt := PointTotal{PointID: p.ID, DisplayName: p.DisplayName}
		if pointSeen[p.ID] {
			v := pointSums[p.ID]
			pt.Total = &v
		}
		summary.Points = append(summary.Points, pt)
	}

	if len(totals) > 0 {
		avg := mean(totals)
		summary.Average = &avg
	}
	summary.Forecast = NewForecast(totals)

	s.logger.Info(ctx, "[SUMMARY_COMPLETE] Summary calculated", logging.Fields{
		"catalog":     cat.ID,
		"year":        year,
		"periods":     len(summary.Periods),
		"with_totals": len(totals),
		"duration_ms": time.Since(startTime).Milliseconds(),
	})

	return summary, nil
}

// NewForecast builds a forecast from the last four values of series. The
// moving average is their mean; the trend extrapolates the last value by the
// mean step between them, floored at zero. Returns nil for an empty series.
func NewForecast(series []float64) *Forecast {
	if len(series) == 0 {
		return nil
	}
	if len(series) > forecastWindow {
		series = series[len(series)-forecastWindow:]
	}
	basis := append([]float64(nil), series...)

	f := &Forecast{
		Basis:         basis,
		MovingAverage: mean(basis),
		Trend:         basis[len(basis)-1],
	}

	if len(basis) > 1 {
		step := (basis[len(basis)-1] - basis[0]) / float64(len(basis)-1)
		f.Trend = basis[len(basis)-1] + step
	}
	if f.Trend < 0 {
		f.Trend = 0
	}

	return f
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
