package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"telegate/internal/api"
	"telegate/internal/ipc"
)

func newActivityCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the operator activity view (uploads, device changes, failures)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				resp, err := client.Activity(0, 0)
				if err != nil {
					return err
				}
				initial := resp.Lines
				if lines > 0 && len(initial) > lines {
					initial = initial[len(initial)-lines:]
				}
				printActivity(out, initial, colorize)
				if !follow {
					if len(initial) == 0 {
						fmt.Fprintln(out, "No activity yet")
					}
					return nil
				}

				since := resp.Next
				ticker := time.NewTicker(500 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-cmd.Context().Done():
						return nil
					case <-ticker.C:
					}
					resp, err := client.Activity(since, 0)
					if err != nil {
						return err
					}
					printActivity(out, resp.Lines, colorize)
					since = resp.Next
				}
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new activity")
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of recent lines to show (0 for all retained)")
	return cmd
}

func printActivity(out io.Writer, lines []api.ActivityLine, colorize bool) {
	for _, line := range lines {
		fmt.Fprintln(out, formatActivityLine(line, colorize))
	}
}

func formatActivityLine(line api.ActivityLine, colorize bool) string {
	stamp := line.Timestamp
	if t, err := api.ParseTime(line.Timestamp); err == nil && !t.IsZero() {
		stamp = t.Local().Format("15:04:05")
	}
	text := fmt.Sprintf("%s %s", stamp, line.Text)
	switch strings.ToLower(line.Level) {
	case "warn", "warning":
		return paint(text, ansiYellow, colorize)
	case "error":
		return paint(text, ansiRed, colorize)
	default:
		return text
	}
}
