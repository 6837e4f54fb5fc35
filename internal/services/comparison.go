package services

import (
	"campus-utilities/internal/derive"
	"campus-utilities/internal/models"
)

// PointComparison is one row of the comparison view
type PointComparison struct {
	PointID      string   `json:"point_id"`
	DisplayName  string   `json:"name"`
	Category     string   `json:"category,omitempty"`
	Unit         string   `json:"unit,omitempty"`
	Derived      bool     `json:"derived,omitempty"`
	Current      *float64 `json:"current"`
	Previous     *float64 `json:"previous"`
	Delta        *float64 `json:"delta"`
	DeltaPercent *float64 `json:"delta_percent"`
	Consumption  *float64 `json:"consumption"`
	Completed    bool     `json:"completed"`
}

// ComparisonView is the progress and versus-previous projection of a period
type ComparisonView struct {
	Catalog          string            `json:"catalog"`
	Period           string            `json:"period"`
	Label            string            `json:"label"`
	StartDate        string            `json:"start_date"`
	EndDate          string            `json:"end_date"`
	PreviousPeriod   string            `json:"previous_period,omitempty"`
	Exists           bool              `json:"exists"`
	Completion       float64           `json:"completion"`
	CompletedCount   int               `json:"completed_count"`
	EntryCount       int               `json:"entry_count"`
	TotalConsumption *float64          `json:"total_consumption"`
	Points           []PointComparison `json:"points"`
}

// BuildComparison projects the current and previous sets of a period. It has
// no side effects; previous may be nil.
func BuildComparison(cat *models.Catalog, period models.Period, exists bool, current, previous *models.ReadingSet) *ComparisonView {
	view := &ComparisonView{
		Catalog:    cat.ID,
		Period:     period.Key(),
		Label:      period.Label(),
		StartDate:  period.StartDate(),
		EndDate:    period.EndDate(),
		Exists:     exists,
		Completion: current.CompletionRatio(cat),
		EntryCount: len(cat.EntryPoints()),
	}
	if previous != nil {
		view.PreviousPeriod = previous.PeriodKey
	}

	var total float64
	haveTotal := false

	for _, p := range cat.ReadablePoints() {
		row := PointComparison{
			PointID:     p.ID,
			DisplayName: p.DisplayName,
			Category:    p.Category,
			Unit:        p.Unit,
			Derived:     p.IsDerived(),
			Current:     current.Value(p.ID),
		}
		if previous != nil {
			row.Previous = previous.Value(p.ID)
		}
		row.Delta, row.DeltaPercent = derive.Delta(row.Current, row.Previous)
		row.Consumption = derive.Consumption(p, row.Current, row.Previous, cat.FloorConsumption)
		row.Completed = row.Current != nil

		if row.Completed && !p.IsDerived() {
			view.CompletedCount++
		}
		// totals already aggregate their siblings
		if row.Consumption != nil && !p.IsDerived() {
			total += *row.Consumption
			haveTotal = true
		}

		view.Points = append(view.Points, row)
	}

	if haveTotal {
		view.TotalConsumption = &total
	}

	return view
}
