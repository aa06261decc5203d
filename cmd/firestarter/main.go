package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := buildRoot(os.Stdin, os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands
func buildRoot(in io.Reader, out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	fireCommand := command{global: globalFlags, in: in, out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)

	root.AddCommand(
		createServeCommand(fireCommand),
		createIntentCommand(fireCommand),
		createExecCommand(fireCommand),
		createStatusCommand(fireCommand),
		createMenuCommand(fireCommand),
		createMigrationsCommand(fireCommand),
		createIntentsCommand(fireCommand),
		createRefreshCommand(fireCommand),
		createNotificationsCommand(fireCommand),
		createVersionCommand(fireCommand),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "firestarter",
		Short: "Build, release, run and migrate node-on-fire projects",
		Long: `Firestarter drives the build, release and run tasks of a node-on-fire
project and applies its pending schema migrations.

Examples:
  firestarter serve                       # Start the daemon in the project directory
  firestarter intent build --wait         # Build through the daemon
  firestarter intent migrate:api:3        # Apply migration 3 of app "api" (asks first)
  firestarter exec release                # Release without a daemon
  firestarter status --api-url=http://127.0.0.1:8735`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (default ./firestarter.toml if present)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (default derived from [server] in the config)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

// signalContext is canceled on SIGINT or SIGTERM
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// createServeCommand creates the serve subcommand
func createServeCommand(fireCommand command) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the firestarter daemon",
		Long: `Start the daemon for the project configured in firestarter.toml.
The daemon serves the HTTP API, watches .env and the migrations directory,
and keeps the menu of intents current.

Examples:
  firestarter serve
  firestarter serve --listen=:8735 --base-path=/fire
  firestarter serve --config=/srv/app/firestarter.toml --metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fireCommand.Serve(*serveFlags)
		},
	}
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "override [server].listen")
	cmd.Flags().StringVar(&serveFlags.BasePath, "base-path", "", "override [server].base_path")
	cmd.Flags().BoolVar(&serveFlags.NoWatch, "no-watch", false, "do not watch .env and migrations")
	cmd.Flags().BoolVar(&serveFlags.Metrics, "metrics", false, "serve Prometheus metrics on [metrics].listen")
	return cmd
}

// createIntentCommand creates the intent subcommand
func createIntentCommand(fireCommand command) *cobra.Command {
	intentFlags := &IntentFlags{}
	cmd := &cobra.Command{
		Use:   "intent <name>",
		Short: "Dispatch an intent through the daemon",
		Long: `Dispatch a named intent: build, release, run, stop, restart,
build-and-restart or migrate:<app>:<version>. Migrations ask for
confirmation unless --yes is given.

Examples:
  firestarter intent build --wait
  firestarter intent restart
  firestarter intent migrate:api:3 --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fireCommand.Intent(args[0], *intentFlags)
		},
	}
	cmd.Flags().BoolVar(&intentFlags.Wait, "wait", false, "wait until the intent settled")
	cmd.Flags().BoolVarP(&intentFlags.Yes, "yes", "y", false, "confirm migrations without asking")
	addAPIFlags(cmd, &intentFlags.APIFlags)
	return cmd
}

// createExecCommand creates the exec subcommand
func createExecCommand(fireCommand command) *cobra.Command {
	execFlags := &ExecFlags{}
	cmd := &cobra.Command{
		Use:   "exec <name>",
		Short: "Run an intent without a daemon",
		Long: `Run one intent in this process. After 'run' the command stays in the
foreground until the application exits or it is interrupted.

Examples:
  firestarter exec build
  firestarter exec run
  firestarter exec migrate:default:2 --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			return fireCommand.Exec(ctx, args[0], *execFlags)
		},
	}
	cmd.Flags().BoolVarP(&execFlags.Yes, "yes", "y", false, "confirm migrations without asking")
	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(fireCommand command) *cobra.Command {
	apiFlags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the task state and the run process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fireCommand.Status(*apiFlags)
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

// createMenuCommand creates the menu subcommand
func createMenuCommand(fireCommand command) *cobra.Command {
	apiFlags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "menu",
		Short: "Show the current menu",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fireCommand.Menu(*apiFlags)
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

// createMigrationsCommand creates the migrations subcommand
func createMigrationsCommand(fireCommand command) *cobra.Command {
	apiFlags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "migrations",
		Short: "List pending migrations per application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fireCommand.Migrations(*apiFlags)
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

// createIntentsCommand creates the intents subcommand
func createIntentsCommand(fireCommand command) *cobra.Command {
	apiFlags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "intents",
		Short: "List registered intents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fireCommand.Intents(*apiFlags)
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

// createRefreshCommand creates the refresh subcommand
func createRefreshCommand(fireCommand command) *cobra.Command {
	apiFlags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-read .env and migrations and rebuild the menu",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fireCommand.Refresh(*apiFlags)
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

// createNotificationsCommand creates the notifications subcommand
func createNotificationsCommand(fireCommand command) *cobra.Command {
	notificationsFlags := &NotificationsFlags{}
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Show task notifications",
		Long: `Show the notifications raised by builds, releases, runs and migrations.

Examples:
  firestarter notifications
  firestarter notifications --since=12
  firestarter notifications --follow`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			return fireCommand.Notifications(ctx, *notificationsFlags)
		},
	}
	cmd.Flags().Uint64Var(&notificationsFlags.Since, "since", 0, "only notifications after this sequence number")
	cmd.Flags().BoolVarP(&notificationsFlags.Follow, "follow", "f", false, "keep polling for new notifications")
	cmd.Flags().DurationVar(&notificationsFlags.Interval, "interval", time.Second, "poll interval with --follow")
	addAPIFlags(cmd, &notificationsFlags.APIFlags)
	return cmd
}

// createVersionCommand creates the version subcommand
func createVersionCommand(fireCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(fireCommand.out, "firestarter", version)
		},
	}
}
