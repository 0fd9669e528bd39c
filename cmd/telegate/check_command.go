package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"telegate/internal/daemonctl"
	"telegate/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify directories, free space, ports and ntfy reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			// A running daemon holds the FTP ports; probing them would only
			// report it as a conflict.
			running, _, _ := daemonctl.ProcessInfo(ctx.socketPath())

			results := preflight.RunAll(cmd.Context(), cfg, preflight.Options{SkipPorts: running})
			colorize := shouldColorize(cmd.OutOrStdout())
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				state := paint("ok", ansiGreen, colorize)
				if !r.Passed {
					state = paint("fail", ansiRed, colorize)
				}
				rows = append(rows, []string{r.Name, state, r.Detail})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Check", "Result", "Detail"}, rows, nil))
			if running {
				fmt.Fprintln(out, "Port checks skipped: the daemon is running")
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}
}
