package routelog

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authtrail/authtrail/pkg/database"
	"github.com/authtrail/authtrail/pkg/rbac"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// seedAuthGraph writes a small hierarchy into the migrated test database:
// admin -> editor -> {posts/view, posts/*}.
func seedAuthGraph(t *testing.T, db *sql.DB) {
	t.Helper()
	now := time.Now().UTC()
	for _, item := range []struct {
		name string
		kind rbac.ItemKind
	}{
		{"admin", rbac.KindRole},
		{"editor", rbac.KindRole},
		{"posts/view", rbac.KindPermission},
		{"posts/*", rbac.KindPermission},
	} {
		_, err := db.Exec(
			`INSERT INTO auth_items (name, kind, description, rule_name, data, created_at, updated_at)
			 VALUES ($1, $2, NULL, NULL, NULL, $3, $4)`,
			item.name, item.kind, now, now,
		)
		require.NoError(t, err)
	}
	for _, edge := range []rbac.Edge{
		{Parent: "admin", Child: "editor"},
		{Parent: "editor", Child: "posts/view"},
		{Parent: "editor", Child: "posts/*"},
	} {
		_, err := db.Exec(`INSERT INTO auth_item_children (parent, child) VALUES ($1, $2)`, edge.Parent, edge.Child)
		require.NoError(t, err)
	}
}

func newTestAggregator(t *testing.T) (*Aggregator, *Store, *sql.DB) {
	t.Helper()
	db := setupTestDB(t)
	seedAuthGraph(t, db)

	rbacStore := rbac.NewStore(db)
	graph, err := rbacStore.LoadGraph(context.Background())
	require.NoError(t, err)

	store := NewStore(db, database.DriverSQLite)
	agg := NewAggregator(store, rbac.NewResolver(graph), rbacStore, quietLogger())
	return agg, store, db
}

func TestAggregator_ExportRequiresRole(t *testing.T) {
	agg, _, _ := newTestAggregator(t)

	_, err := agg.Export(context.Background(), ExportOptions{})
	assert.ErrorIs(t, err, ErrRoleRequired)
}

func TestAggregator_ExportClassifiesRoutes(t *testing.T) {
	agg, store, _ := newTestAggregator(t)
	ctx := context.Background()
	at := day("2026-03-01 10:00:00")

	seedEntry(t, store, "editor", strPtr("posts/view"), nil, at)
	seedEntry(t, store, "editor", strPtr("posts/edit"), intPtr(403), at)
	seedEntry(t, store, "editor", strPtr("users/delete"), intPtr(403), at)

	report, err := agg.Export(ctx, ExportOptions{Role: "editor"})
	require.NoError(t, err)
	require.Equal(t, 3, report.Total())

	byRoute := make(map[string]RouteUsage, report.Total())
	for _, usage := range report.Routes {
		byRoute[usage.Route] = usage
	}

	// Exact permission.
	view := byRoute["posts/view"]
	assert.True(t, view.Access.HasAccess)
	assert.False(t, view.IsNew)
	assert.Empty(t, view.ErrorCodes)

	// Covered by posts/* but has no permission item of its own.
	edit := byRoute["posts/edit"]
	assert.True(t, edit.Access.HasAccess)
	assert.Equal(t, "posts/*", edit.Access.Wildcard)
	assert.True(t, edit.IsNew)
	assert.Equal(t, []int{403}, edit.ErrorCodes)

	// No grant at all.
	del := byRoute["users/delete"]
	assert.False(t, del.Access.HasAccess)
	assert.True(t, del.IsNew)

	assert.Equal(t, []string{"users/delete"}, report.Unauthorized)
	assert.ElementsMatch(t, []string{"posts/edit", "users/delete"}, report.NewRoutes)
}

func TestAggregator_ExportInheritanceAttribution(t *testing.T) {
	agg, store, _ := newTestAggregator(t)
	at := day("2026-03-01 10:00:00")

	seedEntry(t, store, "admin", strPtr("posts/view"), nil, at)

	report, err := agg.Export(context.Background(), ExportOptions{Role: "admin"})
	require.NoError(t, err)
	require.Equal(t, 1, report.Total())
	assert.Equal(t, "editor", report.Routes[0].Access.InheritedFrom)
	assert.Equal(t, []string{"posts/view"}, report.Routes[0].Access.PermissionChain)
}

func TestAggregator_ExportMissingRoleFindsNothingAuthorized(t *testing.T) {
	agg, store, _ := newTestAggregator(t)
	at := day("2026-03-01 10:00:00")

	seedEntry(t, store, "ghost", strPtr("posts/view"), nil, at)

	report, err := agg.Export(context.Background(), ExportOptions{Role: "ghost"})
	require.NoError(t, err)
	require.Equal(t, 1, report.Total())
	assert.False(t, report.Routes[0].Access.HasAccess)
	assert.Equal(t, []string{"posts/view"}, report.Unauthorized)
}

func TestAggregator_ExportIgnoreRoleFilterStillResolvesAgainstRole(t *testing.T) {
	agg, store, _ := newTestAggregator(t)
	at := day("2026-03-01 10:00:00")

	seedEntry(t, store, "viewer", strPtr("posts/view"), nil, at)
	seedEntry(t, store, "viewer", strPtr("users/delete"), nil, at)

	// Default export sees nothing logged for editor.
	report, err := agg.Export(context.Background(), ExportOptions{Role: "editor"})
	require.NoError(t, err)
	assert.Zero(t, report.Total())

	// With the role filter ignored, other roles' routes are audited
	// against editor's permissions.
	report, err = agg.Export(context.Background(), ExportOptions{Role: "editor", IgnoreRoleFilter: true})
	require.NoError(t, err)
	require.Equal(t, 2, report.Total())
	assert.Equal(t, []string{"users/delete"}, report.Unauthorized)
}

func TestAggregator_ExportInvalidDate(t *testing.T) {
	agg, _, _ := newTestAggregator(t)

	_, err := agg.Export(context.Background(), ExportOptions{Role: "editor", From: "03/01/2026"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid from date")
}

func TestAggregator_CreatePermissions(t *testing.T) {
	agg, store, db := newTestAggregator(t)
	ctx := context.Background()
	at := day("2026-03-01 10:00:00")

	seedEntry(t, store, "editor", strPtr("posts/edit"), nil, at)

	report, err := agg.Export(ctx, ExportOptions{Role: "editor"})
	require.NoError(t, err)
	require.Equal(t, []string{"posts/edit"}, report.NewRoutes)

	require.NoError(t, agg.CreatePermissions(ctx, report.NewRoutes))

	var description string
	err = db.QueryRow(
		`SELECT description FROM auth_items WHERE name = $1 AND kind = $2`,
		"posts/edit", rbac.KindPermission,
	).Scan(&description)
	require.NoError(t, err)
	assert.Equal(t, "Route: posts/edit", description)

	// Created bare: no hierarchy edge was added.
	var edges int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM auth_item_children WHERE child = 'posts/edit'`).Scan(&edges))
	assert.Zero(t, edges)
}

func TestAggregator_Stats(t *testing.T) {
	agg, store, _ := newTestAggregator(t)
	at := day("2026-03-01 10:00:00")

	seedEntry(t, store, "r1", strPtr("A"), nil, at)
	seedEntry(t, store, "r1", strPtr("A"), intPtr(404), at)
	seedEntry(t, store, "r2", strPtr("B"), nil, at)

	report, err := agg.Stats(context.Background(), StatsOptions{})
	require.NoError(t, err)
	require.Len(t, report.Rows, 2)
	assert.Equal(t, StatsRow{Route: "A", Role: "r1", Count: 2, ErrorCount: 1}, report.Rows[0])
	assert.Equal(t, StatsRow{Route: "B", Role: "r2", Count: 1, ErrorCount: 0}, report.Rows[1])
	assert.Equal(t, int64(3), report.TotalCount)
	assert.Equal(t, int64(1), report.TotalErrors)
	assert.Equal(t, 33.33, report.ErrorRate)
}

func TestAggregator_StatsEmptyLog(t *testing.T) {
	agg, _, _ := newTestAggregator(t)

	report, err := agg.Stats(context.Background(), StatsOptions{})
	require.NoError(t, err)
	assert.Empty(t, report.Rows)
	assert.Zero(t, report.TotalCount)
	assert.Zero(t, report.ErrorRate)
}

func TestAggregator_Clear(t *testing.T) {
	agg, store, _ := newTestAggregator(t)
	at := day("2026-03-01 10:00:00")

	seedEntry(t, store, "editor", strPtr("posts/view"), nil, at)
	seedEntry(t, store, "editor", strPtr("posts/view"), nil, at)

	deleted, err := agg.Clear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}
