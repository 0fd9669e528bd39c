package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"telegate/internal/api"
	"telegate/internal/ipc"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Show the device panel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Devices()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Devices) == 0 {
					fmt.Fprintln(out, "No devices configured or seen yet")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Device", "State", "Last Received", "Configured"},
					deviceRows(resp.Devices, shouldColorize(out)),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print devices as JSON")
	return cmd
}

func deviceRows(devices []api.Device, colorize bool) [][]string {
	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		state := d.State
		if d.Stale {
			state = "stale"
		}
		rows = append(rows, []string{
			d.Label,
			paint(state, statusKindColor(deviceStateKind(d.State, d.Stale)), colorize),
			d.LastReceived,
			yesNo(d.Configured),
		})
	}
	return rows
}
