// Package catalog holds the static measurement point catalogs and resolves
// which dataset a period of a catalog is stored in.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"

	"campus-utilities/internal/models"
)

//go:embed catalogs.toml
var builtin []byte

type file struct {
	Catalogs []*models.Catalog `toml:"catalogs"`
}

// Registry is the read-only set of catalogs known to the service
type Registry struct {
	catalogs map[string]*models.Catalog
	order    []string
}

// Default loads the catalogs compiled into the binary
func Default() (*Registry, error) {
	return Load(builtin)
}

// MustDefault is Default for wiring code and tests
func MustDefault() *Registry {
	r, err := Default()
	if err != nil {
		panic(err)
	}
	return r
}

// Load parses and validates a catalog file
func Load(data []byte) (*Registry, error) {
	var f file
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("failed to decode catalogs: %w", err)
	}

	r := &Registry{catalogs: make(map[string]*models.Catalog, len(f.Catalogs))}
	for _, c := range f.Catalogs {
		if err := validate(c); err != nil {
			return nil, fmt.Errorf("catalog %q: %w", c.ID, err)
		}
		if _, dup := r.catalogs[c.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog id %q", c.ID)
		}
		c.Index()
		r.catalogs[c.ID] = c
		r.order = append(r.order, c.ID)
	}

	return r, nil
}

func validate(c *models.Catalog) error {
	if c.ID == "" {
		return fmt.Errorf("missing id")
	}
	if c.Granularity != models.GranularityDay && c.Granularity != models.GranularityWeek {
		return fmt.Errorf("unknown granularity %q", c.Granularity)
	}
	if len(c.Points) == 0 {
		return fmt.Errorf("no points")
	}

	seen := make(map[string]models.MeasurementPoint, len(c.Points))
	for _, p := range c.Points {
		if p.ID == "" {
			return fmt.Errorf("point without id")
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate point id %q", p.ID)
		}
		if p.Gearing < 0 {
			return fmt.Errorf("point %q: negative gearing factor", p.ID)
		}
		seen[p.ID] = p
	}

	for _, p := range c.Points {
		for _, sibling := range p.DerivedFrom {
			s, ok := seen[sibling]
			if !ok {
				return fmt.Errorf("point %q derives from unknown point %q", p.ID, sibling)
			}
			if s.IsDerived() {
				return fmt.Errorf("point %q derives from derived point %q", p.ID, sibling)
			}
		}
	}

	return nil
}

// Get returns a catalog by id
func (r *Registry) Get(id string) (*models.Catalog, error) {
	c, ok := r.catalogs[id]
	if !ok {
		return nil, &models.NotFoundError{Resource: "catalog", ID: id}
	}
	return c, nil
}

// List returns catalogs in file order
func (r *Registry) List() []*models.Catalog {
	out := make([]*models.Catalog, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.catalogs[id])
	}
	return out
}

// IDs returns the sorted catalog ids
func (r *Registry) IDs() []string {
	ids := append([]string(nil), r.order...)
	sort.Strings(ids)
	return ids
}

// Dataset names the storage partition for a period of a catalog. Weekly
// catalogs are partitioned per year ("agua_2025"); daily catalogs use one
// dataset.
func Dataset(c *models.Catalog, p models.Period) string {
	if c.Granularity == models.GranularityWeek {
		return fmt.Sprintf("%s_%d", c.ID, p.Year)
	}
	return c.ID
}
