package catalog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/JaytirthJOSHI/HealthPulse-sub000/internal/platform/storage/sqlitemigrate"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteStore reads and seeds group catalog rows in a SQLite database.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLite opens the catalog database and ensures its schema exists.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrationFS, "migrations"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate catalog schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// ListGroups returns every catalog group ordered by id.
func (s *SQLiteStore) ListGroups(ctx context.Context) ([]Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("catalog store is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, name, topic, description FROM groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var group Group
		if err := rows.Scan(&group.ID, &group.Name, &group.Topic, &group.Description); err != nil {
			return nil, fmt.Errorf("scan group row: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group rows: %w", err)
	}
	return groups, nil
}

// PutGroup upserts one catalog group. Used by seeding tooling and tests.
func (s *SQLiteStore) PutGroup(ctx context.Context, group Group) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("catalog store is not configured")
	}
	groupID := strings.TrimSpace(group.ID)
	if groupID == "" {
		return fmt.Errorf("group id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO groups (id, name, topic, description)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   topic = excluded.topic,
		   description = excluded.description`,
		groupID,
		group.Name,
		group.Topic,
		group.Description,
	)
	if err != nil {
		return fmt.Errorf("put group: %w", err)
	}
	return nil
}
