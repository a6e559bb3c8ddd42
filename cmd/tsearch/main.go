// Command tsearch manages a full-text index stored in PostgreSQL.
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig  = "config"
	flagDSN     = "dsn"
	flagMetrics = "metrics-addr"
)

var version = "dev"

var app = &cli.App{
	Name:        "tsearch",
	Usage:       "tsearch [command]",
	Description: "Full-text secondary index on PostgreSQL.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "index config file path",
			EnvVars: []string{"TSEARCH_CONFIG"},
		},
		&cli.StringFlag{
			Name:    flagDSN,
			Usage:   "postgres connection string",
			EnvVars: []string{"TSEARCH_DSN", "DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:  flagMetrics,
			Usage: "serve prometheus metrics on this address",
		},
	},
	Commands: []*cli.Command{
		schemaCommand(),
		workerCommand(),
		reindexCommand(),
		backfillCommand(),
		queryCommand(),
		versionCommand(),
	},
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:        "version",
		Usage:       "print the version",
		Description: "Prints out build version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "tsearch %s\n", version)
			if info, ok := debug.ReadBuildInfo(); ok {
				fmt.Fprintf(c.App.Writer, "go %s\n", info.GoVersion)
			}
			return nil
		},
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "tsearch: %s\n", err)
		os.Exit(1)
	}
}
