package routelog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/authtrail/authtrail/pkg/rbac"
)

// ErrRoleRequired indicates that a usage export was requested without a role
var ErrRoleRequired = errors.New("routelog: role is required")

// AccessResolver answers route access questions against the auth graph
type AccessResolver interface {
	Resolve(role, route string) rbac.AccessInfo
	HasPermission(name string) bool
}

// PermissionCreator creates permission items in the auth graph store
type PermissionCreator interface {
	CreatePermission(ctx context.Context, name, description string) (*rbac.Item, error)
}

// Aggregator drives route log analysis: usage exports cross-referenced
// against the auth graph, (route, role) statistics, and log clearing.
// Interactive confirmation is the front-end's job; every operation here
// assumes it already happened.
type Aggregator struct {
	store    *Store
	resolver AccessResolver
	perms    PermissionCreator
	logger   *logrus.Logger
}

// NewAggregator wires an aggregator to its collaborators
func NewAggregator(store *Store, resolver AccessResolver, perms PermissionCreator, logger *logrus.Logger) *Aggregator {
	return &Aggregator{store: store, resolver: resolver, perms: perms, logger: logger}
}

// ExportOptions control a usage export. From and To are YYYY-MM-DD dates,
// expanded to [from 00:00:00, to 23:59:59]. MaxID of zero means unbounded.
type ExportOptions struct {
	Role             string
	From             string
	To               string
	MaxID            int64
	IgnoreRoleFilter bool
}

// StatsOptions control a stats query; all fields optional
type StatsOptions struct {
	Role  string
	From  string
	To    string
	MaxID int64
}

// Export audits every distinct logged route against the given role. Each
// route is resolved fresh; routes without a permission item are reported as
// new so the operator can decide whether to create them.
func (a *Aggregator) Export(ctx context.Context, opts ExportOptions) (*UsageReport, error) {
	if opts.Role == "" {
		return nil, ErrRoleRequired
	}

	filter, err := buildFilter(opts.Role, opts.From, opts.To, opts.MaxID, opts.IgnoreRoleFilter)
	if err != nil {
		return nil, err
	}

	routes, err := a.store.DistinctRoutes(ctx, filter)
	if err != nil {
		return nil, err
	}

	report := &UsageReport{Role: opts.Role, Routes: []RouteUsage{}}
	for _, re := range routes {
		access := a.resolver.Resolve(opts.Role, re.Route)
		usage := RouteUsage{
			Route:      re.Route,
			Access:     access,
			ErrorCodes: re.ErrorCodes,
			IsNew:      !a.resolver.HasPermission(re.Route),
		}
		report.Routes = append(report.Routes, usage)
		if !access.HasAccess {
			report.Unauthorized = append(report.Unauthorized, re.Route)
		}
		if usage.IsNew {
			report.NewRoutes = append(report.NewRoutes, re.Route)
		}
	}
	return report, nil
}

// CreatePermissions creates one bare permission item per route. The new
// permissions are not attached to any role; an operator wires them into the
// hierarchy separately.
func (a *Aggregator) CreatePermissions(ctx context.Context, routes []string) error {
	for _, route := range routes {
		if _, err := a.perms.CreatePermission(ctx, route, "Route: "+route); err != nil {
			return err
		}
		a.logger.WithField("route", route).Info("created permission")
	}
	return nil
}

// Stats aggregates log rows by (route, role) and computes grand totals
func (a *Aggregator) Stats(ctx context.Context, opts StatsOptions) (*StatsReport, error) {
	filter, err := buildFilter(opts.Role, opts.From, opts.To, opts.MaxID, false)
	if err != nil {
		return nil, err
	}

	rows, err := a.store.Stats(ctx, filter)
	if err != nil {
		return nil, err
	}

	report := &StatsReport{Rows: rows}
	for _, row := range rows {
		report.TotalCount += row.Count
		report.TotalErrors += row.ErrorCount
	}
	if report.TotalCount > 0 {
		rate := float64(report.TotalErrors) / float64(report.TotalCount) * 100
		report.ErrorRate = math.Round(rate*100) / 100
	}
	return report, nil
}

// Clear empties the log and returns the pre-deletion row count
func (a *Aggregator) Clear(ctx context.Context) (int64, error) {
	return a.store.Clear(ctx)
}

func buildFilter(role, from, to string, maxID int64, ignoreRole bool) (Filter, error) {
	filter := Filter{Role: role, IgnoreRole: ignoreRole}

	if from != "" {
		day, err := parseDay(from)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid from date %q: %w", from, err)
		}
		filter.From = &day
	}

	if to != "" {
		day, err := parseDay(to)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid to date %q: %w", to, err)
		}
		end := day.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
		filter.To = &end
	}

	if maxID > 0 {
		filter.MaxID = &maxID
	}

	return filter, nil
}

func parseDay(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}
