// Package derive computes values that depend on other readings: sum-of-siblings
// totals within one period and geared consumption between two periods.
package derive

import (
	"math"

	"campus-utilities/internal/models"
)

// Totals recomputes every derived point of the catalog in place. Absent
// siblings count as zero; a total with no sibling values at all is removed so
// an untouched period stays blank. Returns the ids that changed.
func Totals(cat *models.Catalog, rs *models.ReadingSet) []string {
	var changed []string

	for _, p := range cat.DerivedPoints() {
		sum := 0.0
		present := 0
		for _, sibling := range p.DerivedFrom {
			if v, ok := rs.Get(sibling); ok {
				sum += v
				present++
			}
		}

		old, had := rs.Get(p.ID)
		if present == 0 {
			if had {
				rs.Delete(p.ID)
				changed = append(changed, p.ID)
			}
			continue
		}

		if !had || old != sum {
			// siblings are validated non-negative, so the sum is too
			_ = rs.Set(p.ID, sum)
			changed = append(changed, p.ID)
		}
	}

	return changed
}

// Consumption returns (current - previous) * gearing for one point, or nil
// when either reading is absent. Unavailable is never reported as zero.
func Consumption(point models.MeasurementPoint, current, previous *float64, floorAtZero bool) *float64 {
	if current == nil || previous == nil {
		return nil
	}
	c := (*current - *previous) * point.GearingFactor()
	if floorAtZero && c < 0 {
		c = 0
	}
	c = roundTo(c, 6)
	return &c
}

// ConsumptionRecord is the derived consumption of one point in one period
type ConsumptionRecord struct {
	PointID     string   `json:"point_id"`
	PeriodKey   string   `json:"period"`
	Consumption *float64 `json:"consumption"`
}

// ConsumptionSet computes consumption for every readable point. previous may
// be nil when the period has no predecessor.
func ConsumptionSet(cat *models.Catalog, current, previous *models.ReadingSet) []ConsumptionRecord {
	points := cat.ReadablePoints()
	out := make([]ConsumptionRecord, 0, len(points))
	for _, p := range points {
		var prev *float64
		if previous != nil {
			prev = previous.Value(p.ID)
		}
		out = append(out, ConsumptionRecord{
			PointID:     p.ID,
			PeriodKey:   current.PeriodKey,
			Consumption: Consumption(p, current.Value(p.ID), prev, cat.FloorConsumption),
		})
	}
	return out
}

// Delta returns current - previous and the percentage change. The
// percentage is nil when previous is absent or zero.
func Delta(current, previous *float64) (delta, percent *float64) {
	if current == nil || previous == nil {
		return nil, nil
	}
	d := roundTo(*current-*previous, 6)
	delta = &d
	if *previous == 0 {
		return delta, nil
	}
	pct := roundTo(d / *previous * 100, 4)
	return delta, &pct
}

// roundTo trims float noise such as 30.000000000004
func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
