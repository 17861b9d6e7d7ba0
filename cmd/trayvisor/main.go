package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every subcommand
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot creates the root command with all subcommands attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	apiFlags := &APIFlags{}
	statusFlags := &StatusFlags{}
	waitFlags := &WaitFlags{}
	historyFlags := &HistoryFlags{}

	tc := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags, runFlags),
		createStatusCommand(tc, apiFlags, statusFlags),
		createStartCommand(tc, apiFlags, waitFlags),
		createStopCommand(tc, apiFlags, waitFlags),
		createOpenCommand(tc, apiFlags),
		createHistoryCommand(tc, apiFlags, historyFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "trayvisor",
		Short: "Supervise the smart-proxy background service",
		Long: `Trayvisor keeps one background service alive for a tray or menu-bar UI.
It starts the service, restarts it after crashes, appends its output to
output.log and opens the service's web GUI in the default browser.

Examples:
  trayvisor run                      # Supervise in the foreground
  trayvisor status                   # Ask the running supervisor
  trayvisor open                     # Open http://127.0.0.1:10086
  trayvisor stop --wait=5s`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

// createRunCommand creates the run subcommand
func createRunCommand(globalFlags *GlobalFlags, runFlags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor in the foreground",
		Long: `Acquire the instance lock, start the service (unless auto_start is off)
and supervise it until SIGINT or SIGTERM.

Examples:
  trayvisor run
  trayvisor run --config=./trayvisor.toml --no-auto-start`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runFlags.ConfigPath = globalFlags.ConfigPath
			return runService(cmd.Context(), *runFlags, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&runFlags.NoAutoStart, "no-auto-start", false, "do not start the service on launch")
	cmd.Flags().StringVar(&runFlags.Executable, "executable", "", "override service.executable")
	cmd.Flags().StringVar(&runFlags.LogLevel, "log-level", "", "override log.level")
	return cmd
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "control API URL (default from config, e.g. http://127.0.0.1:10087/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

// createStatusCommand creates the status subcommand
func createStatusCommand(tc command, apiFlags *APIFlags, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		Long: `Show the supervised service's state as reported by the running supervisor.

Examples:
  trayvisor status
  trayvisor status --json
  trayvisor status --watch --interval=1s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			statusFlags.APIFlags = *apiFlags
			return tc.Status(cmd.Context(), cmd.OutOrStdout(), *statusFlags)
		},
	}
	addAPIFlags(cmd, apiFlags)
	cmd.Flags().BoolVar(&statusFlags.JSON, "json", false, "print raw JSON")
	cmd.Flags().BoolVar(&statusFlags.Watch, "watch", false, "keep printing status until interrupted")
	cmd.Flags().DurationVar(&statusFlags.Interval, "interval", 2*time.Second, "watch interval")
	return cmd
}

// createStartCommand creates the start subcommand
func createStartCommand(tc command, apiFlags *APIFlags, waitFlags *WaitFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the service",
		Long: `Ask the running supervisor to start the service.

Examples:
  trayvisor start
  trayvisor start --wait=5s          # Wait until running`,
		RunE: func(cmd *cobra.Command, args []string) error {
			waitFlags.APIFlags = *apiFlags
			return tc.Start(cmd.Context(), cmd.OutOrStdout(), *waitFlags)
		},
	}
	addAPIFlags(cmd, apiFlags)
	cmd.Flags().DurationVar(&waitFlags.Wait, "wait", 0, "wait up to this long for the running state")
	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand(tc command, apiFlags *APIFlags, waitFlags *WaitFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the service",
		Long: `Ask the running supervisor to stop the service.

Examples:
  trayvisor stop
  trayvisor stop --wait=5s           # Wait until stopped`,
		RunE: func(cmd *cobra.Command, args []string) error {
			waitFlags.APIFlags = *apiFlags
			return tc.Stop(cmd.Context(), cmd.OutOrStdout(), *waitFlags)
		},
	}
	addAPIFlags(cmd, apiFlags)
	cmd.Flags().DurationVar(&waitFlags.Wait, "wait", 0, "wait up to this long for the stopped state")
	return cmd
}

// createOpenCommand creates the open subcommand
func createOpenCommand(tc command, apiFlags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open the service GUI in the default browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			return tc.Open(cmd.Context(), cmd.OutOrStdout(), *apiFlags)
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}

// createHistoryCommand creates the history subcommand
func createHistoryCommand(tc command, apiFlags *APIFlags, historyFlags *HistoryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent service state changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			historyFlags.APIFlags = *apiFlags
			return tc.History(cmd.Context(), cmd.OutOrStdout(), *historyFlags)
		},
	}
	addAPIFlags(cmd, apiFlags)
	cmd.Flags().IntVar(&historyFlags.Limit, "limit", 20, "maximum number of events")
	cmd.Flags().BoolVar(&historyFlags.JSON, "json", false, "print raw JSON")
	return cmd
}
