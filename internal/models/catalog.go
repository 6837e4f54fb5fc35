package models

// Granularity is the size of the period a catalog is read at
type Granularity string

const (
	GranularityDay  Granularity = "day"
	GranularityWeek Granularity = "week"
)

// MeasurementPoint is a meter or measurement location from the static catalog
type MeasurementPoint struct {
	ID          string   `json:"id" toml:"id"`
	DisplayName string   `json:"display_name" toml:"name"`
	Category    string   `json:"category" toml:"category"`
	Unit        string   `json:"unit" toml:"unit"`
	Readable    bool     `json:"readable" toml:"readable"`
	Gearing     float64  `json:"gearing_factor" toml:"gearing"`
	DerivedFrom []string `json:"derived_from,omitempty" toml:"derived_from"`
}

// GearingFactor returns the consumption multiplier, 1 when unset
func (p MeasurementPoint) GearingFactor() float64 {
	if p.Gearing <= 0 {
		return 1
	}
	return p.Gearing
}

// IsDerived reports whether the value is computed from sibling points
func (p MeasurementPoint) IsDerived() bool {
	return len(p.DerivedFrom) > 0
}

// Editable reports whether users may enter a value for the point
func (p MeasurementPoint) Editable() bool {
	return p.Readable && !p.IsDerived()
}

// Catalog groups the points read together on one entry form
type Catalog struct {
	ID               string             `json:"id" toml:"id"`
	Name             string             `json:"name" toml:"name"`
	Granularity      Granularity        `json:"granularity" toml:"granularity"`
	FloorConsumption bool               `json:"floor_consumption" toml:"floor_consumption"`
	Points           []MeasurementPoint `json:"points" toml:"points"`

	index map[string]int
}

// Point returns the point with the given id
func (c *Catalog) Point(id string) (MeasurementPoint, bool) {
	if c.index == nil {
		for _, p := range c.Points {
			if p.ID == id {
				return p, true
			}
		}
		return MeasurementPoint{}, false
	}
	i, ok := c.index[id]
	if !ok {
		return MeasurementPoint{}, false
	}
	return c.Points[i], true
}

// ReadablePoints returns the points offered for entry or display, in
// catalog order. Derived totals are included; they are readable but not
// editable.
func (c *Catalog) ReadablePoints() []MeasurementPoint {
	points := make([]MeasurementPoint, 0, len(c.Points))
	for _, p := range c.Points {
		if p.Readable {
			points = append(points, p)
		}
	}
	return points
}

// EntryPoints returns the points a user types a value for. Completion is
// measured over these.
func (c *Catalog) EntryPoints() []MeasurementPoint {
	points := make([]MeasurementPoint, 0, len(c.Points))
	for _, p := range c.Points {
		if p.Editable() {
			points = append(points, p)
		}
	}
	return points
}

// DerivedPoints returns every point computed from siblings
func (c *Catalog) DerivedPoints() []MeasurementPoint {
	var points []MeasurementPoint
	for _, p := range c.Points {
		if p.IsDerived() {
			points = append(points, p)
		}
	}
	return points
}

func (c *Catalog) buildIndex() {
	c.index = make(map[string]int, len(c.Points))
	for i, p := range c.Points {
		c.index[p.ID] = i
	}
}

// Index builds the id lookup. The catalog loader calls it once; catalogs are
// read-only afterwards.
func (c *Catalog) Index() {
	c.buildIndex()
}
