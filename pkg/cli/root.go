package cli

import (
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/authtrail/authtrail/pkg/config"
	"github.com/authtrail/authtrail/pkg/database"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// App carries the shared runtime handed to every command
type App struct {
	Config *config.Config
	Logger *logrus.Logger
	Stdout io.Writer
	Stdin  io.Reader
}

// NewApp builds the default runtime around a loaded configuration
func NewApp(cfg *config.Config, logger *logrus.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger,
		Stdout: os.Stdout,
		Stdin:  os.Stdin,
	}
}

func (a *App) connect() (*sql.DB, error) {
	return database.Connect(a.Config.Database)
}

// NewRootCommand creates the root command
func NewRootCommand(app *App) *Command {
	root := &Command{
		Name:        "authtrail",
		Description: "authtrail - RBAC snapshot and route log audit tools",
		Subcommands: make(map[string]*Command),
	}

	root.Subcommands["rbac"] = newRBACCommand(app)
	root.Subcommands["route-log"] = newRouteLogCommand(app)
	root.Subcommands["migrate"] = newMigrateCommand(app)

	return root
}

// Execute dispatches args through the command tree
func (c *Command) Execute(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		return c.usage()
	}

	if sub, ok := c.Subcommands[args[0]]; ok {
		if sub.Run != nil {
			return sub.Run(args[1:])
		}
		return sub.Execute(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Printf("Usage: %s <command> [args]\n\n", c.Name)
	fmt.Printf("Commands:\n")
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

func newMigrateCommand(app *App) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply pending database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ExitOnError),
	}

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		db, err := app.connect()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := database.Migrate(commandContext(), db, app.Config.Database.Driver); err != nil {
			return err
		}
		fmt.Fprintln(app.Stdout, "migrations applied")
		return nil
	}

	return cmd
}
