package models

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ReadingSet maps point ids to entered values for exactly one period. Any
// subset of points may be absent.
type ReadingSet struct {
	PeriodKey string
	values    map[string]float64
}

// NewReadingSet returns an empty set for the period
func NewReadingSet(periodKey string) *ReadingSet {
	return &ReadingSet{
		PeriodKey: periodKey,
		values:    make(map[string]float64),
	}
}

// Get returns the value for a point and whether it is present
func (rs *ReadingSet) Get(pointID string) (float64, bool) {
	v, ok := rs.values[pointID]
	return v, ok
}

// Value returns a pointer to the value or nil when absent
func (rs *ReadingSet) Value(pointID string) *float64 {
	v, ok := rs.values[pointID]
	if !ok {
		return nil
	}
	return &v
}

// Set stores a value after validating it is finite and non-negative
func (rs *ReadingSet) Set(pointID string, value float64) error {
	if err := ValidateValue(pointID, value); err != nil {
		return err
	}
	rs.values[pointID] = value
	return nil
}

// Delete removes a point, making it blank again
func (rs *ReadingSet) Delete(pointID string) {
	delete(rs.values, pointID)
}

// Len returns the number of non-blank points
func (rs *ReadingSet) Len() int {
	return len(rs.values)
}

// PointIDs returns the ids with a value, sorted
func (rs *ReadingSet) PointIDs() []string {
	ids := make([]string, 0, len(rs.values))
	for id := range rs.values {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Values returns a copy of the point to value mapping
func (rs *ReadingSet) Values() map[string]float64 {
	out := make(map[string]float64, len(rs.values))
	for k, v := range rs.values {
		out[k] = v
	}
	return out
}

// Clone returns a deep copy
func (rs *ReadingSet) Clone() *ReadingSet {
	return &ReadingSet{PeriodKey: rs.PeriodKey, values: rs.Values()}
}

// CompletionRatio is the fraction of the catalog's entry points that hold a
// value. It is always within [0, 1]; a catalog without entry points is 0.
func (rs *ReadingSet) CompletionRatio(cat *Catalog) float64 {
	points := cat.EntryPoints()
	if len(points) == 0 {
		return 0
	}
	filled := 0
	for _, p := range points {
		if _, ok := rs.values[p.ID]; ok {
			filled++
		}
	}
	return float64(filled) / float64(len(points))
}

// MarshalJSON encodes the set as its value map
func (rs *ReadingSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Period string             `json:"period"`
		Values map[string]float64 `json:"values"`
	}{rs.PeriodKey, rs.values})
}

// ValidateValue rejects NaN, infinities and negative readings
func ValidateValue(pointID string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return &ValidationError{Field: pointID, Message: "value must be a finite number"}
	}
	if value < 0 {
		return &ValidationError{Field: pointID, Value: decimal.NewFromFloat(value).String(), Message: "value must not be negative"}
	}
	return nil
}

// ParseValue parses a reading typed by a user or read from a file. Blank
// input reports blank=true with no error. Both "." and "," are accepted as
// the decimal separator; spaces are ignored.
func ParseValue(pointID, raw string) (value float64, blank bool, err error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	if s == "" {
		return 0, true, nil
	}
	if strings.Contains(s, ",") {
		if strings.Contains(s, ".") {
			// "1.234,5" thousands separator style
			s = strings.ReplaceAll(s, ".", "")
		}
		s = strings.ReplaceAll(s, ",", ".")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false, &ValidationError{Field: pointID, Value: raw, Message: "value is not a number"}
	}
	value = d.InexactFloat64()
	if err := ValidateValue(pointID, value); err != nil {
		return 0, false, err
	}
	return value, false, nil
}

// FormatValue renders a value without float noise, e.g. 120.5 -> "120.5"
func FormatValue(value float64) string {
	return decimal.NewFromFloat(value).String()
}
