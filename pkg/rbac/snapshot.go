package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Exporter assembles portable snapshots of the auth graph
type Exporter struct {
	store *Store
}

// NewExporter creates an exporter backed by the given store
func NewExporter(store *Store) *Exporter {
	return &Exporter{store: store}
}

// Export reads the full graph in a fixed order and stamps the snapshot with
// a fresh ID and export time.
func (e *Exporter) Export(ctx context.Context) (*Snapshot, error) {
	rules, err := e.store.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	items, err := e.store.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	edges, err := e.store.ListEdges(ctx)
	if err != nil {
		return nil, err
	}

	if rules == nil {
		rules = []Rule{}
	}
	if items == nil {
		items = []Item{}
	}
	if edges == nil {
		edges = []Edge{}
	}

	return &Snapshot{
		ID:         uuid.New().String(),
		ExportedAt: time.Now().UTC(),
		Rules:      rules,
		Items:      items,
		Edges:      edges,
	}, nil
}

// WriteSnapshot serializes a snapshot to path, creating the destination
// directory if needed and overwriting any previous artifact. The format is
// chosen by extension: .yaml/.yml for YAML, JSON otherwise.
func WriteSnapshot(snap *Snapshot, path string) error {
	return WriteSnapshotAs(snap, path, "")
}

// WriteSnapshotAs is WriteSnapshot with an explicit format ("json" or
// "yaml"); an empty format falls back to the path extension. ReadSnapshot
// decodes by extension, so the format should normally match it.
func WriteSnapshotAs(snap *Snapshot, path, format string) error {
	var asYAML bool
	switch format {
	case "":
		asYAML = isYAMLPath(path)
	case "json":
	case "yaml", "yml":
		asYAML = true
	default:
		return fmt.Errorf("unsupported snapshot format: %q", format)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}

	var data []byte
	var err error
	if asYAML {
		data, err = yaml.Marshal(snap)
	} else {
		data, err = json.MarshalIndent(snap, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot loads a snapshot artifact from path. A missing file yields
// ErrSnapshotNotFound.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w (%s)", ErrSnapshotNotFound, path)
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if isYAMLPath(path) {
		err = yaml.Unmarshal(data, &snap)
	} else {
		err = json.Unmarshal(data, &snap)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

func isYAMLPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Importer restores a snapshot into the store with merge-replace semantics:
// edges, rules and permissions are replaced wholesale, existing roles are
// preserved.
type Importer struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewImporter creates an importer over the given database handle
func NewImporter(db *sql.DB, logger *logrus.Logger) *Importer {
	return &Importer{db: db, logger: logger}
}

// Import applies the snapshot inside one transaction. Order matters: deletes
// run in reverse dependency order (edges, rules, permissions), then rules are
// inserted before items and items before edges. A duplicate-key failure on a
// role insert is the one tolerated error: the role already exists and is
// skipped with a warning. Any other storage error aborts the import.
func (im *Importer) Import(ctx context.Context, snap *Snapshot) (*ImportSummary, error) {
	tx, err := im.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin import transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range []string{
		`DELETE FROM auth_item_children`,
		`DELETE FROM rbac_rules`,
		`DELETE FROM auth_items WHERE kind = 'permission'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to clear existing data: %w", err)
		}
	}

	summary := &ImportSummary{}

	for _, rule := range snap.Rules {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rbac_rules (name, data, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
			rule.Name, rule.Data, rule.CreatedAt, rule.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert rule %q: %w", rule.Name, err)
		}
		summary.Rules++
	}

	for _, item := range snap.Items {
		if err := im.insertItem(ctx, tx, item, summary); err != nil {
			return nil, err
		}
	}

	for _, edge := range snap.Edges {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO auth_item_children (parent, child) VALUES ($1, $2)`,
			edge.Parent, edge.Child,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert edge %s -> %s: %w", edge.Parent, edge.Child, err)
		}
		summary.Edges++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit import: %w", err)
	}
	return summary, nil
}

// insertItem inserts one item. Role inserts run under a savepoint so a
// tolerated duplicate does not poison the surrounding transaction.
func (im *Importer) insertItem(ctx context.Context, tx *sql.Tx, item Item, summary *ImportSummary) error {
	const insert = `
		INSERT INTO auth_items (name, kind, description, rule_name, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	description := sql.NullString{String: item.Description, Valid: item.Description != ""}
	ruleName := sql.NullString{String: item.RuleName, Valid: item.RuleName != ""}

	if !item.IsRole() {
		if _, err := tx.ExecContext(ctx, insert,
			item.Name, item.Kind, description, ruleName, item.Data, item.CreatedAt, item.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert permission %q: %w", item.Name, err)
		}
		summary.Items++
		return nil
	}

	if _, err := tx.ExecContext(ctx, `SAVEPOINT import_item`); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	_, err := tx.ExecContext(ctx, insert,
		item.Name, item.Kind, description, ruleName, item.Data, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT import_item`); rbErr != nil {
				return fmt.Errorf("failed to roll back savepoint: %w", rbErr)
			}
			im.logger.WithField("role", item.Name).Warn("role already exists, keeping current definition")
			summary.SkippedRoles++
			return nil
		}
		return fmt.Errorf("failed to insert role %q: %w", item.Name, err)
	}
	if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT import_item`); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	summary.Items++
	return nil
}
