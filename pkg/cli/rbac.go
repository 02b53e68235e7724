package cli

import (
	"errors"
	"flag"
	"fmt"

	"github.com/authtrail/authtrail/pkg/rbac"
)

func newRBACCommand(app *App) *Command {
	cmd := &Command{
		Name:        "rbac",
		Description: "Export or import the authorization graph",
		Subcommands: make(map[string]*Command),
	}
	cmd.Subcommands["export"] = newRBACExportCommand(app)
	cmd.Subcommands["import"] = newRBACImportCommand(app)
	return cmd
}

func newRBACExportCommand(app *App) *Command {
	cmd := &Command{
		Name:        "export",
		Description: "Write a snapshot of rules, items and hierarchy edges",
		Flags:       flag.NewFlagSet("rbac export", flag.ExitOnError),
	}
	out := cmd.Flags.String("out", "", "Snapshot path (defaults to AUTHTRAIL_SNAPSHOT_PATH)")
	format := cmd.Flags.String("format", "", "Snapshot format: json or yaml (default: by file extension)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		path := *out
		if path == "" {
			path = app.Config.SnapshotPath
		}

		db, err := app.connect()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := commandContext()
		snap, err := rbac.NewExporter(rbac.NewStore(db)).Export(ctx)
		if err != nil {
			return err
		}
		if err := rbac.WriteSnapshotAs(snap, path, *format); err != nil {
			return err
		}

		fmt.Fprintf(app.Stdout, "exported %d rules, %d items, %d edges to %s\n",
			len(snap.Rules), len(snap.Items), len(snap.Edges), path)
		return nil
	}

	return cmd
}

func newRBACImportCommand(app *App) *Command {
	cmd := &Command{
		Name:        "import",
		Description: "Restore the authorization graph from a snapshot",
		Flags:       flag.NewFlagSet("rbac import", flag.ExitOnError),
	}
	in := cmd.Flags.String("in", "", "Snapshot path (defaults to AUTHTRAIL_SNAPSHOT_PATH)")
	force := cmd.Flags.Bool("force", false, "Skip the confirmation prompt")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		path := *in
		if path == "" {
			path = app.Config.SnapshotPath
		}

		snap, err := rbac.ReadSnapshot(path)
		if err != nil {
			if errors.Is(err, rbac.ErrSnapshotNotFound) {
				return fmt.Errorf("%w; run 'authtrail rbac export' on the source environment first", err)
			}
			return err
		}

		fmt.Fprintf(app.Stdout, "snapshot %s from %s: %d rules, %d items, %d edges\n",
			snap.ID, snap.ExportedAt.Format("2006-01-02 15:04:05"),
			len(snap.Rules), len(snap.Items), len(snap.Edges))
		fmt.Fprintln(app.Stdout, "importing replaces all rules, permissions and hierarchy edges; existing roles are kept")

		if !*force && !confirm(app.Stdin, app.Stdout, "continue with import?") {
			fmt.Fprintln(app.Stdout, "import cancelled")
			return nil
		}

		db, err := app.connect()
		if err != nil {
			return err
		}
		defer db.Close()

		summary, err := rbac.NewImporter(db, app.Logger).Import(commandContext(), snap)
		if err != nil {
			return err
		}

		fmt.Fprintf(app.Stdout, "imported %d rules, %d items, %d edges", summary.Rules, summary.Items, summary.Edges)
		if summary.SkippedRoles > 0 {
			fmt.Fprintf(app.Stdout, " (%d existing roles kept)", summary.SkippedRoles)
		}
		fmt.Fprintln(app.Stdout)
		return nil
	}

	return cmd
}
