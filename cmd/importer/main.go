package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"campus-utilities/internal/catalog"
	"campus-utilities/internal/config"
	"campus-utilities/internal/repository"
	"campus-utilities/internal/services"
	"campus-utilities/pkg/database"
	"campus-utilities/pkg/logging"
	"campus-utilities/pkg/metrics"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", os.Getenv("UTILITIES_CONFIG"), "Path to the TOML configuration file")
	catalogID := flag.String("catalog", "", "Catalog to import into, e.g. agua")
	period := flag.String("period", "", "Period key of a single file, e.g. 2025-W05")
	file := flag.String("file", "", "xlsx or csv file to import into -period")
	dataDir := flag.String("data-dir", "", "Directory of files named after their period, e.g. 2025-W05.xlsx")
	user := flag.String("user", "importer", "User recorded as author of the readings")
	flag.Parse()

	if *catalogID == "" || (*dataDir == "" && (*file == "" || *period == "")) {
		fmt.Fprintln(os.Stderr, "usage: importer -catalog agua (-file lecturas.xlsx -period 2025-W05 | -data-dir ./lecturas)")
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("utilities-importer", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := logging.WithUserID(context.Background(), *user)
	logger.Info(ctx, "[IMPORTER_START] Starting readings import", logging.Fields{
		"version":  "1.0.0",
		"catalog":  *catalogID,
		"file":     *file,
		"data_dir": *dataDir,
	})

	metricsCollector := metrics.NewCollector("utilities_importer")

	db, err := database.Open(cfg.Database.DB(), logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[IMPORTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	readingRepo := repository.NewReadingRepository(db, logger, metricsCollector)
	periodService := services.NewPeriodService(readingRepo, catalog.MustDefault(), logger, metricsCollector)
	readingService := services.NewReadingService(readingRepo, periodService, logger, metricsCollector)
	importService := services.NewImportService(readingService, logger, metricsCollector)

	var (
		reports []*services.ImportReport
		errs    []string
	)
	if *dataDir != "" {
		reports, errs, err = importService.ImportDirectory(ctx, *catalogID, *dataDir, *user)
		if err != nil {
			logger.Fatal(ctx, "[IMPORTER_ERROR] Import failed", logging.Fields{}, err)
		}
	} else {
		report, err := importService.ImportFile(ctx, *catalogID, *period, *file, *user)
		if err != nil {
			logger.Fatal(ctx, "[IMPORTER_ERROR] Import failed", logging.Fields{"file": *file}, err)
		}
		reports = append(reports, report)
	}

	// Print results
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("IMPORT COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	for _, r := range reports {
		fmt.Printf("%-12s %-40s matched=%d unmatched=%d invalid=%d written=%d (%v)\n",
			r.Period, r.File, r.Result.Matched, len(r.Result.UnmatchedNames), len(r.Result.InvalidRows), r.Save.Written, r.Duration)
		for i, name := range r.Result.UnmatchedNames {
			if i == 5 {
				fmt.Printf("    ... and %d more\n", len(r.Result.UnmatchedNames)-5)
				break
			}
			fmt.Printf("    unmatched: %s\n", name)
		}
	}

	if len(errs) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(errs))
		for i, errMsg := range errs {
			if i < 10 {
				fmt.Printf("  - %s\n", errMsg)
			}
		}
		if len(errs) > 10 {
			fmt.Printf("  ... and %d more errors\n", len(errs)-10)
		}
	}

	logger.Info(ctx, "[IMPORTER_COMPLETE] Import finished", logging.Fields{
		"imported": len(reports),
		"failed":   len(errs),
	})

	if len(errs) > 0 {
		os.Exit(1)
	}
}
