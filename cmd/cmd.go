// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand writes a config file when missing and prepares storage and the history database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create config, dump root and history database",
		Action: r.Setup,
	}
}

// serveCommand runs the HTTP service with the job manager and scheduler.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the job API, event stream and dump files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host (overrides server.host)",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port (overrides server.port)",
			},
			&cli.BoolFlag{
				Name:  "no-schedule",
				Usage: "Do not start the recurring dump schedule",
			},
		},
		Action: r.Serve,
	}
}

// dumpCommand captures a page tree in-process.
func dumpCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "dump",
		Usage: "Capture a page and its descendants to the dump root",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "page"},
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the manifest as JSON when done",
			},
		},
		Action: r.Dump,
	}
}

// dumpDatabaseCommand captures a database and its entries in-process.
func dumpDatabaseCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "dump-db",
		Aliases: []string{"dump-database"},
		Usage:   "Capture a database, its entries and their content",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "database"},
		},
		Action: r.DumpDatabase,
	}
}

// migrateCommand materializes a capture under a target page in-process.
func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Rebuild a capture under another page",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "dump",
				Aliases:  []string{"d"},
				Usage:    "Capture directory name under the dump root",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "target",
				Aliases:  []string{"t"},
				Usage:    "Target page id or URL",
				Required: true,
			},
		},
		Action: r.Migrate,
	}
}

// dumpsCommand manages capture directories.
func dumpsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "dumps",
		Usage: "List and delete captures",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List captures under the dump root",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.DumpsList,
			},
			{
				Name:  "show",
				Usage: "Print the manifest of a capture",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "name"},
				},
				Action: r.DumpsShow,
			},
			{
				Name:  "delete",
				Usage: "Delete a capture",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "name"},
				},
				Action: r.DumpsDelete,
			},
		},
	}
}

// jobsCommand queries the persisted job history.
func jobsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Job history and statistics",
		Commands: []*cli.Command{
			{
				Name:  "history",
				Usage: "Show job history by day",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "days",
						Usage: "Number of days to include",
						Value: 7,
					},
					&cli.StringFlag{
						Name:  "date",
						Usage: "Show a single day (YYYY-MM-DD)",
					},
					&cli.StringFlag{
						Name:  "start",
						Usage: "Range start (YYYY-MM-DD), requires --end",
					},
					&cli.StringFlag{
						Name:  "end",
						Usage: "Range end (YYYY-MM-DD), requires --start",
					},
					&cli.StringFlag{
						Name:  "type",
						Usage: "Filter by job type (dump, dump_database, migrate)",
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by status (queued, running, done, error, canceled)",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: text, csv, markdown, json",
						Value:   "text",
					},
				},
				Action: r.JobsHistory,
			},
			{
				Name:  "stats",
				Usage: "Summarize jobs of the last days",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "days",
						Usage: "Number of days to include",
						Value: 30,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.JobsStats,
			},
			{
				Name:   "dates",
				Usage:  "List days that have job history",
				Action: r.JobsDates,
			},
			{
				Name:  "cleanup",
				Usage: "Delete history older than the given number of days",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "keep-days",
						Usage: "Days of history to keep",
						Value: 90,
					},
				},
				Action: r.JobsCleanup,
			},
		},
	}
}

// tuiCommand returns the top-level TUI command for monitoring jobs.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"ui"},
		Usage:   "Launch the interactive job monitor",
		Action:  r.TUI,
	}
}
