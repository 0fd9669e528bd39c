package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"telegate/internal/api"
	"telegate/internal/ipc"
	"telegate/internal/logs"
	"telegate/internal/logstream"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int
	var component string
	var device string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display daemon logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			apiClient, err := logs.NewStreamClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
			if err != nil {
				return fmt.Errorf("log api client: %w", err)
			}

			var fallback logstream.TailClient
			client, dialErr := ctx.dialClient()
			if dialErr == nil {
				defer client.Close()
				fallback = client
			}

			out := cmd.OutOrStdout()
			opts := logstream.Options{
				Lines:   lines,
				Follow:  follow,
				Filters: logstream.Filters{Component: component, Device: device},
			}
			printed, err := logstream.Stream(cmd.Context(), apiClient, fallback, opts,
				func(evt api.LogEvent) { fmt.Fprintln(out, formatLogEvent(evt)) },
				func(line string) { fmt.Fprintln(out, line) },
			)
			if err != nil {
				if errors.Is(err, logs.ErrAPIUnavailable) && dialErr != nil {
					return dialErr
				}
				return err
			}
			if !printed && !follow {
				fmt.Fprintln(out, "No log entries available")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 10, "Number of lines to show (0 for all)")
	cmd.Flags().StringVar(&component, "component", "", "Only show records from this component (requires the HTTP API)")
	cmd.Flags().StringVar(&device, "device", "", "Only show records about this device (requires the HTTP API)")
	return cmd
}

var _ logstream.TailClient = (*ipc.Client)(nil)

func formatLogEvent(evt api.LogEvent) string {
	var b strings.Builder
	stamp := evt.Timestamp
	if t, err := api.ParseTime(evt.Timestamp); err == nil && !t.IsZero() {
		stamp = t.Local().Format("2006-01-02 15:04:05")
	}
	b.WriteString(stamp)
	b.WriteByte(' ')
	b.WriteString(fmt.Sprintf("%-5s", strings.ToUpper(evt.Level)))
	if evt.Component != "" {
		b.WriteString(" [" + evt.Component + "]")
	}
	b.WriteByte(' ')
	b.WriteString(evt.Message)

	if evt.Device != "" {
		b.WriteString(" device=" + quoteIfNeeded(evt.Device))
	}
	if evt.Channel != "" {
		b.WriteString(" channel=" + quoteIfNeeded(evt.Channel))
	}
	keys := make([]string, 0, len(evt.Fields))
	for k := range evt.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" " + k + "=" + quoteIfNeeded(evt.Fields[k]))
	}
	return b.String()
}

func quoteIfNeeded(v string) string {
	if strings.ContainsAny(v, " \t\"=") {
		return fmt.Sprintf("%q", v)
	}
	return v
}
