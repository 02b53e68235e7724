package rbac

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/authtrail/authtrail/pkg/database"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// The pool must not open a second connection: every in-memory sqlite
	// connection is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.Migrate(context.Background(), db, database.DriverSQLite))
	return db
}

func insertItem(t *testing.T, db *sql.DB, name string, kind ItemKind) {
	t.Helper()
	now := time.Now().UTC()
	_, err := db.Exec(
		`INSERT INTO auth_items (name, kind, description, rule_name, data, created_at, updated_at)
		 VALUES ($1, $2, NULL, NULL, NULL, $3, $4)`,
		name, kind, now, now,
	)
	require.NoError(t, err)
}

func insertEdge(t *testing.T, db *sql.DB, parent, child string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO auth_item_children (parent, child) VALUES ($1, $2)`, parent, child)
	require.NoError(t, err)
}

func insertRule(t *testing.T, db *sql.DB, name string, data []byte) {
	t.Helper()
	now := time.Now().UTC()
	_, err := db.Exec(
		`INSERT INTO rbac_rules (name, data, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		name, data, now, now,
	)
	require.NoError(t, err)
}
