// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "Output raw JSON"}
}

func outputFlag() cli.Flag {
	return &cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write the listing to a file instead of stdout"}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "Output format: text, csv or json", Value: "text"}
}

// rootFlags are shared by every command.
func rootFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "Enable debug logging",
		},
	}
}

// setupCommand handles setup operations for configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Write a config.toml populated with defaults",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Path of the config file to create",
						Value:   "config.toml",
					},
				},
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recent migration",
				Action: r.SetupRollback,
			},
		},
	}
}

// accountCommand handles account administration.
func accountCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "account",
		Aliases: []string{"accounts", "acc"},
		Usage:   "Manage platform accounts",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Add an account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Usage: "Account username", Required: true},
					&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "Account password", Required: true},
					&cli.StringFlag{Name: "email", Usage: "Recovery email address"},
					&cli.StringFlag{Name: "email-password", Usage: "Recovery email password"},
					&cli.StringFlag{Name: "proxy", Usage: "Proxy ID to route the account through"},
					&cli.BoolFlag{Name: "verify", Usage: "Log in immediately to check the credentials"},
				},
				Action: r.AccountAdd,
			},
			{
				Name:  "import",
				Usage: "Import username:password lines from a file (- for stdin)",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Flags:  []cli.Flag{jsonFlag(), formatFlag()},
				Action: r.AccountImport,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List accounts",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "active", Usage: "Only active accounts"},
					jsonFlag(),
					formatFlag(),
					outputFlag(),
				},
				Action: r.AccountList,
			},
			{
				Name:    "delete",
				Aliases: []string{"rm"},
				Usage:   "Delete an account, its tasks and its stored session",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "account"},
				},
				Action: r.AccountDelete,
			},
			{
				Name:  "delete-all",
				Usage: "Delete every account",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Confirm deleting every account"},
				},
				Action: r.AccountDeleteAll,
			},
			{
				Name:   "check",
				Usage:  "Log every account in and report which credentials still work",
				Flags:  []cli.Flag{jsonFlag(), formatFlag(), outputFlag()},
				Action: r.AccountCheck,
			},
			{
				Name:  "verify",
				Usage: "Submit the verification code for a suspended account",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "account"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "code", Usage: "Verification code, prompted for when omitted"},
				},
				Action: r.AccountVerify,
			},
			{
				Name:  "proxy",
				Usage: "Link an account to a proxy",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "account"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "proxy", Usage: "Proxy ID"},
					&cli.BoolFlag{Name: "clear", Usage: "Remove the account's proxy"},
				},
				Action: r.AccountProxy,
			},
		},
	}
}

// proxyCommand handles proxy administration.
func proxyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "proxy",
		Aliases: []string{"proxies"},
		Usage:   "Manage proxies",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Add a proxy from scheme://[user:pass@]host:port",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "url"},
				},
				Action: r.ProxyAdd,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List proxies",
				Flags:   []cli.Flag{jsonFlag(), formatFlag(), outputFlag()},
				Action:  r.ProxyList,
			},
			{
				Name:    "delete",
				Aliases: []string{"rm"},
				Usage:   "Delete a proxy and unlink its accounts",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.ProxyDelete,
			},
			{
				Name:  "enable",
				Usage: "Route linked accounts through the proxy again",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.ProxyEnable,
			},
			{
				Name:  "disable",
				Usage: "Connect linked accounts directly without unlinking them",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.ProxyDisable,
			},
		},
	}
}

// taskCommand handles publish tasks.
func taskCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "task",
		Aliases: []string{"tasks"},
		Usage:   "Manage publish tasks",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a publish task",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "account", Aliases: []string{"a"}, Usage: "Account ID or username", Required: true},
					&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "photo, video or carousel", Value: "photo"},
					&cli.StringSliceFlag{Name: "media", Aliases: []string{"m"}, Usage: "Media file, repeat for carousels", Required: true},
					&cli.StringFlag{Name: "caption", Usage: "Caption text"},
					&cli.StringFlag{Name: "at", Usage: "Schedule: RFC 3339, \"2006-01-02 15:04\" local time or +duration"},
				},
				Action: r.TaskCreate,

				// media file names may contain commas
				DisableSliceFlagSeparator: true,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List tasks",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "pending, processing, completed or failed"},
					&cli.StringFlag{Name: "account", Aliases: []string{"a"}, Usage: "Account ID or username"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of tasks"},
					jsonFlag(),
					formatFlag(),
					outputFlag(),
				},
				Action: r.TaskList,
			},
			{
				Name:  "run",
				Usage: "Advance a pending task now",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.TaskRun,
			},
			{
				Name:  "reset",
				Usage: "Move a failed task back to pending",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.TaskReset,
			},
			{
				Name:  "reschedule",
				Usage: "Change when a pending task becomes due",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "at", Usage: "New schedule; omit to make the task due now"},
				},
				Action: r.TaskReschedule,
			},
			{
				Name:    "delete",
				Aliases: []string{"rm"},
				Usage:   "Delete a task that is not being processed",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.TaskDelete,
			},
			{
				Name:   "stats",
				Usage:  "Count accounts, proxies and tasks by status",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.TaskStats,
			},
		},
	}
}

// workerCommand runs the background poller.
func workerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run due tasks in the background until interrupted",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "interval", Usage: "Poll interval (overrides worker.poll_interval)"},
			&cli.IntFlag{Name: "concurrency", Usage: "Parallel tasks (overrides worker.concurrency)"},
			&cli.BoolFlag{Name: "once", Usage: "Scan once and exit"},
		},
		Action: r.Worker,
	}
}

// serveCommand runs the admin JSON API.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the admin JSON API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (overrides server.host/port)"},
			&cli.BoolFlag{Name: "worker", Usage: "Also run the background poller"},
		},
		Action: r.Serve,
	}
}

// tuiCommand returns the top-level TUI command for the interactive dashboard.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch the interactive dashboard",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "refresh", Usage: "Reload interval, 0 to disable", Value: 5 * time.Second},
		},
		Action: r.TUI,
	}
}
