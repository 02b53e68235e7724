package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents one schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the schema for the given driver. The auth graph tables
// are owned by this tool; route_log mirrors the shape written by the request
// logging middleware, which lives outside this repository.
func Migrations(driver string) []Migration {
	blob := "BYTEA"
	serial := "BIGSERIAL PRIMARY KEY"
	if driver == DriverSQLite {
		blob = "BLOB"
		serial = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	return []Migration{
		{
			Version:     1,
			Description: "Create rbac_rules table",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS rbac_rules (
					name TEXT PRIMARY KEY,
					data %s,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
			`, blob),
		},
		{
			Version:     2,
			Description: "Create auth_items table",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS auth_items (
					name TEXT PRIMARY KEY,
					kind TEXT NOT NULL CHECK (kind IN ('role', 'permission')),
					description TEXT,
					rule_name TEXT REFERENCES rbac_rules(name),
					data %s,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_auth_items_kind ON auth_items(kind);
			`, blob),
		},
		{
			Version:     3,
			Description: "Create auth_item_children table",
			SQL: `
				CREATE TABLE IF NOT EXISTS auth_item_children (
					parent TEXT NOT NULL,
					child TEXT NOT NULL,
					UNIQUE(parent, child)
				);

				CREATE INDEX IF NOT EXISTS idx_auth_item_children_child ON auth_item_children(child);
			`,
		},
		{
			Version:     4,
			Description: "Create route_log table",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS route_log (
					id %s,
					user_id BIGINT,
					role TEXT,
					route TEXT,
					method TEXT,
					params TEXT,
					error_code INTEGER,
					created_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_route_log_user_id ON route_log(user_id);
				CREATE INDEX IF NOT EXISTS idx_route_log_role ON route_log(role);
				CREATE INDEX IF NOT EXISTS idx_route_log_created_at ON route_log(created_at);
			`, serial),
		},
	}
}

// Migrate applies all pending migrations in version order
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for _, migration := range Migrations(driver) {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`,
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
