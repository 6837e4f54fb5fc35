// Package diagnostics wires the services against an in-memory store so tests
// can seed periods and inspect editing sessions without a server.
package diagnostics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"campus-utilities/internal/catalog"
	"campus-utilities/internal/models"
	"campus-utilities/internal/repository"
	"campus-utilities/internal/services"
	"campus-utilities/pkg/database"
	"campus-utilities/pkg/logging"
	"campus-utilities/pkg/metrics"
)

// Harness holds a fully wired service graph
type Harness struct {
	DB       *database.DB
	Logger   *logging.StructuredLogger
	Metrics  *metrics.Collector
	Registry *prometheus.Registry

	Readings repository.ReadingRepository
	Profiles repository.ProfileRepository

	Periods  *services.PeriodService
	Entry    *services.ReadingService
	Imports  *services.ImportService
	Summary  *services.SummaryService
	Accounts *services.ProfileService
}

// New opens a migrated in-memory SQLite database and wires every service on
// top of it. Metrics go to a private registry.
func New() (*Harness, error) {
	logger := logging.NewNopLogger()
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegistry("diagnostics", registry)

	db, err := database.OpenSQLiteMemory(logger, collector)
	if err != nil {
		return nil, fmt.Errorf("failed to open diagnostics store: %w", err)
	}

	h := &Harness{
		DB:       db,
		Logger:   logger,
		Metrics:  collector,
		Registry: registry,
		Readings: repository.NewReadingRepository(db, logger, collector),
		Profiles: repository.NewProfileRepository(db, logger),
	}
	h.Periods = services.NewPeriodService(h.Readings, catalog.MustDefault(), logger, collector)
	h.Entry = services.NewReadingService(h.Readings, h.Periods, logger, collector)
	h.Imports = services.NewImportService(h.Entry, logger, collector)
	h.Summary = services.NewSummaryService(h.Readings, h.Periods, logger, collector)
	h.Accounts = services.NewProfileService(h.Profiles, logger, collector)

	return h, nil
}

// Seed stores values for a period, creating it if needed
func (h *Harness) Seed(ctx context.Context, catalogID, periodKey string, values map[string]float64) error {
	rs := models.NewReadingSet(periodKey)
	for id, v := range values {
		if err := rs.Set(id, v); err != nil {
			return err
		}
	}
	if _, err := h.Entry.Save(ctx, catalogID, periodKey, rs, "diagnostics"); err != nil {
		return fmt.Errorf("failed to seed %s %s: %w", catalogID, periodKey, err)
	}
	return nil
}

// NewEditor starts an editing session for userID
func (h *Harness) NewEditor(userID string, delay time.Duration) *services.Editor {
	return services.NewEditor(h.Periods, h.Entry, h.Imports, userID, delay, h.Logger, h.Metrics)
}

// Describe renders an editor snapshot as a plain text table
func Describe(snap services.EditorSnapshot) string {
	var b strings.Builder
	if snap.View == nil {
		fmt.Fprintf(&b, "no period open (status %s)\n", snap.Status)
		return b.String()
	}

	v := snap.View
	fmt.Fprintf(&b, "%s %s [%s] status=%s completion=%d/%d",
		v.Catalog, v.Period, v.Label, snap.Status, v.CompletedCount, v.EntryCount)
	if snap.Error != "" {
		fmt.Fprintf(&b, " error=%q", snap.Error)
	}
	b.WriteString("\n")

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "point\tcurrent\tprevious\tconsumption")
	for _, p := range v.Points {
		name := p.PointID
		if p.Derived {
			name += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, show(p.Current), show(p.Previous), show(p.Consumption))
	}
	tw.Flush()

	return b.String()
}

// MetricValues returns the counters and gauges of the harness registry keyed by
// name, labels folded into the key.
func (h *Harness) MetricValues() (map[string]float64, error) {
	families, err := h.Registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			if labels := m.GetLabel(); len(labels) > 0 {
				parts := make([]string, 0, len(labels))
				for _, l := range labels {
					parts = append(parts, l.GetName()+"="+l.GetValue())
				}
				sort.Strings(parts)
				key += "{" + strings.Join(parts, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}

// Close releases the store
func (h *Harness) Close() error {
	return h.DB.Close()
}

func show(v *float64) string {
	if v == nil {
		return "-"
	}
	return models.FormatValue(*v)
}
