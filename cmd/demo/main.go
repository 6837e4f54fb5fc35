package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"campus-utilities/internal/diagnostics"
	"campus-utilities/internal/models"
	"campus-utilities/internal/services"
	"campus-utilities/pkg/logging"
)

const banner = "════════════════════════════════════════════════════════════════"

// demo walks the entry workflow against an in-memory store: open a period,
// type or import readings, let autosave persist them, then summarize the year.
func main() {
	catalogID := flag.String("catalog", "agua", "Catalog to work on")
	dataDir := flag.String("data-dir", "", "Optional directory of files named after their period, e.g. 2025-W05.csv")
	delay := flag.Duration("delay", 50*time.Millisecond, "Autosave delay")
	flag.Parse()

	fmt.Println(banner)
	fmt.Println("CAMPUS UTILITIES - READINGS ENTRY DEMONSTRATION")
	fmt.Println(banner)
	fmt.Println()

	h, err := diagnostics.New()
	if err != nil {
		fmt.Printf("Error starting in-memory store: %v\n", err)
		os.Exit(1)
	}
	defer h.Close()

	ctx := logging.WithUserID(context.Background(), "demo")
	editor := h.NewEditor("demo", *delay)
	defer editor.Close()

	if *dataDir != "" {
		err = importDir(ctx, editor, *catalogID, *dataDir)
	} else {
		err = typeReadings(ctx, h, editor, *catalogID)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if err := summarize(ctx, h, *catalogID); err != nil {
		fmt.Printf("Error summarizing: %v\n", err)
		os.Exit(1)
	}

	values, err := h.MetricValues()
	if err == nil {
		fmt.Println(banner)
		fmt.Println("METRICS")
		fmt.Println(banner)
		names := make([]string, 0, len(values))
		for name := range values {
			if strings.Contains(name, "autosave") || strings.Contains(name, "readings_saved") || strings.Contains(name, "import_rows") {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%-70s %g\n", name, values[name])
		}
	}
}

// typeReadings enters two consecutive periods by hand on the first two
// entry points of the catalog
func typeReadings(ctx context.Context, h *diagnostics.Harness, editor *services.Editor, catalogID string) error {
	cat, err := h.Periods.Catalogs().Get(catalogID)
	if err != nil {
		return err
	}
	points := cat.EntryPoints()
	if len(points) < 2 {
		return fmt.Errorf("catalog %s has fewer than two entry points", catalogID)
	}

	periods := []string{"2025-W05", "2025-W06"}
	if cat.Granularity == models.GranularityDay {
		periods = []string{"2025-03-01", "2025-03-02"}
	}
	values := [][2]string{{"120", "120"}, {"150", "420"}}

	for i, period := range periods {
		if _, err := editor.Open(ctx, catalogID, period); err != nil {
			return err
		}
		for j, p := range points[:2] {
			if _, err := editor.Edit(map[string]string{p.ID: values[i][j]}); err != nil {
				return err
			}
		}
		if err := editor.Flush(); err != nil {
			return err
		}
		printSnapshot(editor.Snapshot())
	}
	return nil
}

func importDir(ctx context.Context, editor *services.Editor, catalogID, dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.*"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	fmt.Printf("Found %d files\n\n", len(files))

	for _, path := range files {
		period := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if _, err := editor.Open(ctx, catalogID, period); err != nil {
			fmt.Printf("  skipping %s: %v\n", filepath.Base(path), err)
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		result, err := editor.Import(ctx, filepath.Base(path), data)
		if err != nil {
			fmt.Printf("  %s: %v\n", filepath.Base(path), err)
			continue
		}
		if err := editor.Flush(); err != nil {
			return err
		}
		fmt.Printf("  %s: matched=%d unmatched=%d invalid=%d\n",
			filepath.Base(path), result.Matched, len(result.UnmatchedNames), len(result.InvalidRows))
		printSnapshot(editor.Snapshot())
	}
	return nil
}

func printSnapshot(snap services.EditorSnapshot) {
	fmt.Println(strings.Repeat("─", len([]rune(banner))))
	fmt.Print(diagnostics.Describe(snap))
	fmt.Println()
}

func summarize(ctx context.Context, h *diagnostics.Harness, catalogID string) error {
	year := 2025
	summary, err := h.Summary.Summarize(ctx, catalogID, year)
	if err != nil {
		return err
	}

	fmt.Println(banner)
	fmt.Printf("SUMMARY %s %d\n", strings.ToUpper(catalogID), year)
	fmt.Println(banner)
	for _, p := range summary.Periods {
		total := "-"
		if p.Total != nil {
			total = fmt.Sprintf("%.2f", *p.Total)
		}
		fmt.Printf("%-12s %-24s %10s\n", p.Period, p.Label, total)
	}
	if summary.Average != nil {
		fmt.Printf("Average consumption:    %.2f\n", *summary.Average)
	}
	if summary.Forecast != nil {
		fmt.Printf("Next period (average):  %.2f\n", summary.Forecast.MovingAverage)
		fmt.Printf("Next period (trend):    %.2f\n", summary.Forecast.Trend)
	}
	fmt.Println()
	return nil
}
