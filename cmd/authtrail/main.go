package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/authtrail/authtrail/pkg/cli"
	"github.com/authtrail/authtrail/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(cfg.LogLevel)

	app := cli.NewApp(cfg, logger)
	rootCmd := cli.NewRootCommand(app)

	if err := rootCmd.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
