package routelog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/authtrail/authtrail/pkg/database"
)

// Store handles route log persistence
type Store struct {
	db     *sql.DB
	driver string
}

// NewStore creates a route log store. The driver name selects the identity
// reset strategy used by Clear.
func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// DistinctRoutes returns the distinct non-null routes matching the filter,
// each with the distinct non-null error codes observed on it, sorted by
// route.
func (s *Store) DistinctRoutes(ctx context.Context, filter Filter) ([]RouteErrors, error) {
	query := `
		SELECT DISTINCT route, error_code
		FROM route_log
		WHERE route IS NOT NULL
	`
	query, args := applyFilter(query, filter, 1)
	query += " ORDER BY route, error_code"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct routes: %w", err)
	}
	defer rows.Close()

	var out []RouteErrors
	for rows.Next() {
		var route string
		var errorCode sql.NullInt64
		if err := rows.Scan(&route, &errorCode); err != nil {
			return nil, fmt.Errorf("failed to scan route row: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].Route != route {
			out = append(out, RouteErrors{Route: route})
		}
		if errorCode.Valid {
			last := &out[len(out)-1]
			last.ErrorCodes = append(last.ErrorCodes, int(errorCode.Int64))
		}
	}
	return out, rows.Err()
}

// Stats groups log rows by (route, role) with request and error counts,
// ordered by count descending.
func (s *Store) Stats(ctx context.Context, filter Filter) ([]StatsRow, error) {
	query := `
		SELECT route, role, COUNT(*) AS cnt,
		       SUM(CASE WHEN error_code IS NOT NULL THEN 1 ELSE 0 END) AS errs
		FROM route_log
		WHERE route IS NOT NULL
	`
	query, args := applyFilter(query, filter, 1)
	query += " GROUP BY route, role ORDER BY cnt DESC, route, role"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query route stats: %w", err)
	}
	defer rows.Close()

	var out []StatsRow
	for rows.Next() {
		var row StatsRow
		if err := rows.Scan(&row.Route, &row.Role, &row.Count, &row.ErrorCount); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Count returns the total number of log rows
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM route_log`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count route log: %w", err)
	}
	return count, nil
}

// Clear deletes every log row and resets the identity counter, returning
// the pre-deletion row count. Irreversible.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	count, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}

	if s.driver == database.DriverPostgres {
		if _, err := s.db.ExecContext(ctx, `TRUNCATE route_log RESTART IDENTITY`); err != nil {
			return 0, fmt.Errorf("failed to truncate route log: %w", err)
		}
		return count, nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM route_log`); err != nil {
		return 0, fmt.Errorf("failed to clear route log: %w", err)
	}
	// sqlite_sequence only exists once an autoincrement insert happened.
	if count > 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name = 'route_log'`); err != nil {
			return 0, fmt.Errorf("failed to reset route log counter: %w", err)
		}
	}
	return count, nil
}

// Insert appends one log entry. Production rows come from the request
// logging middleware; this is used by seeding and tests.
func (s *Store) Insert(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO route_log (user_id, role, route, method, params, error_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.UserID, entry.Role, entry.Route, entry.Method, entry.Params, entry.ErrorCode, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert route log entry: %w", err)
	}
	return nil
}

// applyFilter appends the optional WHERE conditions shared by all queries
func applyFilter(query string, filter Filter, argCount int) (string, []interface{}) {
	args := []interface{}{}

	if filter.Role != "" && !filter.IgnoreRole {
		query += fmt.Sprintf(" AND role = $%d", argCount)
		args = append(args, filter.Role)
		argCount++
	}

	if filter.From != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filter.From)
		argCount++
	}

	if filter.To != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filter.To)
		argCount++
	}

	if filter.MaxID != nil {
		query += fmt.Sprintf(" AND id <= $%d", argCount)
		args = append(args, *filter.MaxID)
		argCount++
	}

	return query, args
}
