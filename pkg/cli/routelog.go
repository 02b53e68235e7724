package cli

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/authtrail/authtrail/pkg/rbac"
	"github.com/authtrail/authtrail/pkg/routelog"
)

func newRouteLogCommand(app *App) *Command {
	cmd := &Command{
		Name:        "route-log",
		Description: "Analyze and manage the route access log",
		Subcommands: make(map[string]*Command),
	}
	cmd.Subcommands["export"] = newRouteLogExportCommand(app)
	cmd.Subcommands["stats"] = newRouteLogStatsCommand(app)
	cmd.Subcommands["clear"] = newRouteLogClearCommand(app)
	return cmd
}

// newAggregator wires the aggregator and its resolver for one invocation.
// The graph is loaded once here; every route resolution reuses it.
func newAggregator(app *App) (*routelog.Aggregator, func(), error) {
	db, err := app.connect()
	if err != nil {
		return nil, nil, err
	}

	ctx := commandContext()
	rbacStore := rbac.NewStore(db)
	graph, err := rbacStore.LoadGraph(ctx)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	logStore := routelog.NewStore(db, app.Config.Database.Driver)
	agg := routelog.NewAggregator(logStore, rbac.NewResolver(graph), rbacStore, app.Logger)
	return agg, func() { db.Close() }, nil
}

func newRouteLogExportCommand(app *App) *Command {
	cmd := &Command{
		Name:        "export",
		Description: "Audit logged routes against a role's permissions",
		Flags:       flag.NewFlagSet("route-log export", flag.ExitOnError),
	}
	role := cmd.Flags.String("role", "", "Role to audit (required)")
	from := cmd.Flags.String("from", "", "Include entries from this date (YYYY-MM-DD)")
	to := cmd.Flags.String("to", "", "Include entries up to this date (YYYY-MM-DD)")
	maxID := cmd.Flags.Int64("maxId", 0, "Include only entries with id <= maxId")
	create := cmd.Flags.Bool("create", false, "Create permission items for routes that have none")
	ignoreRole := cmd.Flags.Bool("ignoreRoleFilter", false, "Audit routes logged for any role")
	force := cmd.Flags.Bool("force", false, "Skip confirmation prompts")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		agg, closeDB, err := newAggregator(app)
		if err != nil {
			return err
		}
		defer closeDB()

		ctx := commandContext()
		report, err := agg.Export(ctx, routelog.ExportOptions{
			Role:             *role,
			From:             *from,
			To:               *to,
			MaxID:            *maxID,
			IgnoreRoleFilter: *ignoreRole,
		})
		if err != nil {
			return err
		}

		printUsageReport(app, report)

		if *create && len(report.NewRoutes) > 0 {
			question := fmt.Sprintf("create %d new permissions?", len(report.NewRoutes))
			if !*force && !confirm(app.Stdin, app.Stdout, question) {
				fmt.Fprintln(app.Stdout, "permission creation skipped")
				return nil
			}
			if err := agg.CreatePermissions(ctx, report.NewRoutes); err != nil {
				return err
			}
			fmt.Fprintf(app.Stdout, "created %d permissions\n", len(report.NewRoutes))
		}
		return nil
	}

	return cmd
}

func printUsageReport(app *App, report *routelog.UsageReport) {
	if report.Total() == 0 {
		fmt.Fprintln(app.Stdout, "no logged routes found")
		return
	}

	w := tabwriter.NewWriter(app.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROUTE\tACCESS\tVIA\tWILDCARD\tCHAIN\tERRORS\tNEW")
	for _, usage := range report.Routes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			usage.Route,
			accessLabel(usage.Access.HasAccess),
			usage.Access.InheritedFrom,
			usage.Access.Wildcard,
			strings.Join(usage.Access.PermissionChain, " < "),
			joinInts(usage.ErrorCodes),
			newLabel(usage.IsNew),
		)
	}
	w.Flush()

	fmt.Fprintf(app.Stdout, "\n%d routes audited for role %q\n", report.Total(), report.Role)
	if len(report.Unauthorized) > 0 {
		fmt.Fprintf(app.Stdout, "%d unauthorized: %s\n", len(report.Unauthorized), strings.Join(report.Unauthorized, ", "))
	}
	if len(report.NewRoutes) > 0 {
		fmt.Fprintf(app.Stdout, "%d routes without a permission item\n", len(report.NewRoutes))
	}
}

func newRouteLogStatsCommand(app *App) *Command {
	cmd := &Command{
		Name:        "stats",
		Description: "Show request and error counts per route and role",
		Flags:       flag.NewFlagSet("route-log stats", flag.ExitOnError),
	}
	role := cmd.Flags.String("role", "", "Restrict to entries logged for this role")
	from := cmd.Flags.String("from", "", "Include entries from this date (YYYY-MM-DD)")
	to := cmd.Flags.String("to", "", "Include entries up to this date (YYYY-MM-DD)")
	maxID := cmd.Flags.Int64("maxId", 0, "Include only entries with id <= maxId")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		agg, closeDB, err := newAggregator(app)
		if err != nil {
			return err
		}
		defer closeDB()

		report, err := agg.Stats(commandContext(), routelog.StatsOptions{
			Role:  *role,
			From:  *from,
			To:    *to,
			MaxID: *maxID,
		})
		if err != nil {
			return err
		}

		if len(report.Rows) == 0 {
			fmt.Fprintln(app.Stdout, "no log entries found")
			return nil
		}

		w := tabwriter.NewWriter(app.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ROUTE\tROLE\tCOUNT\tERRORS")
		for _, row := range report.Rows {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", row.Route, row.Role, row.Count, row.ErrorCount)
		}
		w.Flush()

		fmt.Fprintf(app.Stdout, "\n%d requests, %d errors, %.2f%% error rate\n",
			report.TotalCount, report.TotalErrors, report.ErrorRate)
		return nil
	}

	return cmd
}

func newRouteLogClearCommand(app *App) *Command {
	cmd := &Command{
		Name:        "clear",
		Description: "Delete all route log entries and reset the id counter",
		Flags:       flag.NewFlagSet("route-log clear", flag.ExitOnError),
	}
	force := cmd.Flags.Bool("force", false, "Skip the confirmation prompt")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		if !*force && !confirm(app.Stdin, app.Stdout, "delete all route log entries?") {
			fmt.Fprintln(app.Stdout, "clear cancelled")
			return nil
		}

		agg, closeDB, err := newAggregator(app)
		if err != nil {
			return err
		}
		defer closeDB()

		deleted, err := agg.Clear(commandContext())
		if err != nil {
			return err
		}
		fmt.Fprintf(app.Stdout, "deleted %d route log entries\n", deleted)
		return nil
	}

	return cmd
}

func accessLabel(hasAccess bool) string {
	if hasAccess {
		return "allowed"
	}
	return "DENIED"
}

func newLabel(isNew bool) string {
	if isNew {
		return "yes"
	}
	return ""
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
