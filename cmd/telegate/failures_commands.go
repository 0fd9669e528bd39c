package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"telegate/internal/api"
	"telegate/internal/daemonctl"
	"telegate/internal/ipc"
	"telegate/internal/ledger"
	"telegate/internal/storage"
)

func newFailuresCommand(ctx *commandContext) *cobra.Command {
	failuresCmd := &cobra.Command{
		Use:     "failures",
		Aliases: []string{"failure"},
		Short:   "Inspect and repair uploads that could not be stored",
	}

	var all bool
	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List open failures (use --all for resolved and retried ones)",
		RunE: func(cmd *cobra.Command, args []string) error {
			failures, err := listFailures(cmd.Context(), ctx, all)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, api.FailureListResponse{Failures: failures})
			}
			out := cmd.OutOrStdout()
			if len(failures) == 0 {
				fmt.Fprintln(out, "No failures recorded")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Status", "Received", "Device", "Channel", "File", "Error"},
				failureRows(failures),
				[]columnAlignment{alignRight},
			))
			return nil
		},
	}
	listCmd.Flags().BoolVarP(&all, "all", "a", false, "Include resolved and retried failures")
	listCmd.Flags().BoolVar(&asJSON, "json", false, "Print failures as JSON")

	resolveCmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Dismiss a failure without moving its staged file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseFailureID(args[0])
			if err != nil {
				return err
			}
			failure, err := applyFailureAction(cmd.Context(), ctx, id, false)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Failure %d resolved (%s)\n", failure.ID, failure.OriginalFilename)
			return nil
		},
	}

	retryCmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Store the staged file of a failure again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseFailureID(args[0])
			if err != nil {
				return err
			}
			failure, err := applyFailureAction(cmd.Context(), ctx, id, true)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Failure %d stored at %s\n", failure.ID, failure.DestinationPath)
			return nil
		},
	}

	failuresCmd.AddCommand(listCmd, resolveCmd, retryCmd)
	return failuresCmd
}

func parseFailureID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid failure id %q", arg)
	}
	return id, nil
}

// listFailures asks the daemon and reads the ledger directly when it is down.
func listFailures(cmdCtx context.Context, ctx *commandContext, all bool) ([]api.Failure, error) {
	client, err := dialOrOffline(ctx)
	if err != nil {
		return nil, err
	}
	if client != nil {
		defer client.Close()
		resp, err := client.Failures(all)
		if err != nil {
			return nil, err
		}
		return resp.Failures, nil
	}
	cfg, cfgErr := ctx.ensureConfig()
	if cfgErr != nil {
		return nil, cfgErr
	}
	failures, err := daemonctl.OfflineFailures(cmdCtx, cfg, all)
	if err != nil {
		return nil, err
	}
	return api.FromFailures(failures), nil
}

func applyFailureAction(cmdCtx context.Context, ctx *commandContext, id int64, retry bool) (api.Failure, error) {
	client, err := dialOrOffline(ctx)
	if err != nil {
		return api.Failure{}, err
	}
	if client != nil {
		defer client.Close()
		var resp *ipc.FailureResponse
		if retry {
			resp, err = client.RetryFailure(id)
		} else {
			resp, err = client.ResolveFailure(id)
		}
		if err != nil {
			return api.Failure{}, err
		}
		return resp.Failure, nil
	}

	cfg, cfgErr := ctx.ensureConfig()
	if cfgErr != nil {
		return api.Failure{}, cfgErr
	}
	var failure *ledger.Failure
	err = daemonctl.WithOfflineLedger(cfg, func(store *ledger.Store, router *storage.Router) error {
		var actionErr error
		if retry {
			failure, actionErr = store.Retry(cmdCtx, id, router)
		} else {
			failure, actionErr = store.Resolve(cmdCtx, id)
		}
		return actionErr
	})
	if err != nil {
		return api.Failure{}, err
	}
	return api.FromFailure(failure), nil
}

// dialOrOffline returns a nil client without error when no daemon listens on
// the socket, so callers can work on the ledger directly.
func dialOrOffline(ctx *commandContext) (*ipc.Client, error) {
	socket := ctx.socketPath()
	client, err := ipc.Dial(socket)
	if err != nil {
		if daemonctl.IsDaemonUnavailable(err) {
			return nil, nil
		}
		return nil, wrapDialError(err, socket)
	}
	return client, nil
}

func failureRows(failures []api.Failure) [][]string {
	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		received := f.ReceivedAt
		if t, err := api.ParseTime(f.ReceivedAt); err == nil && !t.IsZero() {
			received = t.Local().Format("2006-01-02 15:04")
		}
		detail := f.ErrorMessage
		if f.Status == string(ledger.StatusRetried) {
			detail = "stored at " + f.DestinationPath
		}
		rows = append(rows, []string{
			strconv.FormatInt(f.ID, 10),
			f.Status,
			received,
			f.Device,
			f.Channel,
			f.OriginalFilename,
			truncate(detail, 60),
		})
	}
	return rows
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
