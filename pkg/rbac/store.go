package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// ErrSnapshotNotFound indicates that no snapshot artifact exists yet
var ErrSnapshotNotFound = errors.New("rbac: snapshot not found, run an export first")

// Store handles auth graph persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new auth graph store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// LoadGraph reads the full item and edge sets and builds the in-memory
// adjacency used by the resolver. Ordering is fixed so that traversal
// tie-breaks are reproducible across invocations.
func (s *Store) LoadGraph(ctx context.Context) (*Graph, error) {
	items, err := s.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	edges, err := s.ListEdges(ctx)
	if err != nil {
		return nil, err
	}
	return NewGraph(items, edges), nil
}

// ListRules returns all rules ordered by name
func (s *Store) ListRules(ctx context.Context) ([]Rule, error) {
	query := `
		SELECT name, data, created_at, updated_at
		FROM rbac_rules
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(&rule.Name, &rule.Data, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ListItems returns all auth items ordered by kind then name
func (s *Store) ListItems(ctx context.Context) ([]Item, error) {
	query := `
		SELECT name, kind, description, rule_name, data, created_at, updated_at
		FROM auth_items
		ORDER BY kind, name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list auth items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListEdges returns all hierarchy edges ordered by parent then child
func (s *Store) ListEdges(ctx context.Context) ([]Edge, error) {
	query := `
		SELECT parent, child
		FROM auth_item_children
		ORDER BY parent, child
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list hierarchy edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var edge Edge
		if err := rows.Scan(&edge.Parent, &edge.Child); err != nil {
			return nil, fmt.Errorf("failed to scan hierarchy edge: %w", err)
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

// CreatePermission inserts a bare permission item. No hierarchy edge is
// created: the permission exists unassigned until an operator attaches it to
// a role.
func (s *Store) CreatePermission(ctx context.Context, name, description string) (*Item, error) {
	query := `
		INSERT INTO auth_items (name, kind, description, rule_name, data, created_at, updated_at)
		VALUES ($1, $2, $3, NULL, NULL, $4, $5)
	`

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, query, name, KindPermission, description, now, now); err != nil {
		return nil, fmt.Errorf("failed to create permission %q: %w", name, err)
	}

	return &Item{
		Name:        name,
		Kind:        KindPermission,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (Item, error) {
	var item Item
	var description, ruleName sql.NullString
	if err := row.Scan(&item.Name, &item.Kind, &description, &ruleName, &item.Data, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Item{}, fmt.Errorf("failed to scan auth item: %w", err)
	}
	item.Description = description.String
	item.RuleName = ruleName.String
	return item, nil
}

// isUniqueViolation reports whether err is a duplicate-key failure from
// either supported driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
