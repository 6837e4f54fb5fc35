package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/NotCoffee418/dbmigrator"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	upMarker   = "-- +up"
	downMarker = "-- +down"
)

func migrateSQLite(db *sql.DB) {
	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(
		db,
		migrationFS,
		"migrations",
	)
}

// MigrationSQL returns the concatenated up or down sections of the embedded
// migrations in apply order. Down sections are returned newest first.
func MigrationSQL(direction string) (string, error) {
	if direction != "up" && direction != "down" {
		return "", fmt.Errorf("unknown migration direction %q", direction)
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return "", fmt.Errorf("failed to list migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if direction == "down" {
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	}

	var sb strings.Builder
	for _, name := range names {
		content, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return "", fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		up, down, err := splitMigration(string(content))
		if err != nil {
			return "", fmt.Errorf("migration %s: %w", name, err)
		}
		if direction == "up" {
			sb.WriteString(up)
		} else {
			sb.WriteString(down)
		}
		sb.WriteString("\n")
	}

	return sb.String(), nil
}

func splitMigration(content string) (up, down string, err error) {
	upIdx := strings.Index(content, upMarker)
	downIdx := strings.Index(content, downMarker)
	if upIdx < 0 || downIdx < 0 || downIdx < upIdx {
		return "", "", fmt.Errorf("expected %q followed by %q", upMarker, downMarker)
	}
	up = strings.TrimSpace(content[upIdx+len(upMarker) : downIdx])
	down = strings.TrimSpace(content[downIdx+len(downMarker):])
	return up, down, nil
}
