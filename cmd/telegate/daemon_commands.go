package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"telegate/internal/daemonctl"
	"telegate/internal/daemonrun"
	"telegate/internal/ipc"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var development bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the telegate daemon in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.logLevel(),
				Development: development,
			})
		},
	}
	cmd.Flags().BoolVar(&development, "development", false, "Use development logging (source locations, verbose console)")
	return cmd
}

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the telegate daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, daemonLaunchOptions(ctx), 10*time.Second)
			if err != nil {
				return err
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the telegate daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			result, err := daemonctl.StopAndTerminate(cfg, 15*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
				return nil
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the telegate daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.Restart(cfg, exe, daemonLaunchOptions(ctx), 15*time.Second, 10*time.Second)
			if err != nil {
				return err
			}
			if result.WasRunning {
				if result.Stop.ForcedKill {
					fmt.Fprintf(stdout, "Killed pid %d\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			fmt.Fprintf(stdout, "Daemon restarted (pid %d)\n", result.Start.PID)
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, FTP server and storage status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			snapshot, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, snapshot.Status)
			}
			renderStatus(cmd, snapshot)
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw status payload as JSON")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func renderStatus(cmd *cobra.Command, snapshot *daemonctl.StatusSnapshot) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)
	status := snapshot.Status

	for _, line := range renderSectionHeader("System Status", colorize) {
		fmt.Fprintln(stdout, line)
	}
	for _, line := range snapshot.Checks {
		fmt.Fprintln(stdout, renderStatusLine(line.Label, statusKindFromSeverity(line.Severity), line.Detail, colorize))
	}
	if !status.Running {
		return
	}

	fmt.Fprintln(stdout)
	for _, line := range renderSectionHeader("Ingestion", colorize) {
		fmt.Fprintln(stdout, line)
	}
	rows := [][]string{
		{"Stored", strconv.Itoa(status.Counters.Stored)},
		{"Unclassified", strconv.Itoa(status.Counters.Unclassified)},
		{"Failed", strconv.Itoa(status.Counters.Failed)},
		{"Open failures", strconv.Itoa(status.OpenFailures)},
		{"Connected clients", strconv.Itoa(status.Server.Clients)},
	}
	fmt.Fprintln(stdout, renderTable([]string{"Counter", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))

	if len(status.Sessions) == 0 {
		return
	}
	fmt.Fprintln(stdout)
	for _, line := range renderSectionHeader("Sessions", colorize) {
		fmt.Fprintln(stdout, line)
	}
	sessionRows := make([][]string, 0, len(status.Sessions))
	for _, s := range status.Sessions {
		sessionRows = append(sessionRows, []string{
			s.ID, s.RemoteAddr, s.Username, s.ConnectedAt, strconv.Itoa(s.Uploads),
		})
	}
	fmt.Fprintln(stdout, renderTable(
		[]string{"Session", "Remote", "User", "Connected", "Uploads"},
		sessionRows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		ConfigPath: ctx.configPath(),
		LogLevel:   ctx.logLevel(),
	}
}

func newServerCommand(ctx *commandContext) *cobra.Command {
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Control the FTP listener inside the running daemon",
	}

	serverCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Bind the FTP listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.StartServer()
				if err != nil {
					return fmt.Errorf("start ftp server: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return nil
			})
		},
	})
	serverCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Close the FTP listener and disconnect clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.StopServer()
				if err != nil {
					return fmt.Errorf("stop ftp server: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return nil
			})
		},
	})
	return serverCmd
}
