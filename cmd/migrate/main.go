package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"campus-utilities/internal/config"
	"campus-utilities/pkg/database"
)

func main() {
	configPath := flag.String("config", os.Getenv("UTILITIES_CONFIG"), "Path to the TOML configuration file")
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if cfg.Database.Driver != database.DriverPostgres {
		fmt.Fprintf(os.Stderr, "Migrations are applied on open for driver %q; nothing to do\n", cfg.Database.Driver)
		os.Exit(0)
	}

	script, err := database.MigrationSQL(*direction)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read migrations: %v\n", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.DB().DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to ping database: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Connected to database successfully")
	fmt.Printf("Running migrations: %s\n", *direction)

	if _, err := db.Exec(script); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Migration completed successfully")
}
