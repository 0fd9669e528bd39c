package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"telegate/internal/classify"
	"telegate/internal/config"
	"telegate/internal/storage"
)

func newClassifyCommand(ctx *commandContext) *cobra.Command {
	var devices []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:         "classify <filename>...",
		Short:       "Show where uploaded filenames would be stored",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			names := devices
			root := ""
			if len(names) == 0 {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					names = config.DefaultDeviceNames
				} else {
					names = cfg.Devices.Names
					root = cfg.Paths.RootDir
				}
			}
			known := classify.NewKnown(names)
			now := time.Now()

			results := make([]classificationView, 0, len(args))
			for _, name := range args {
				res := classify.Classify(name, known)
				view := classificationView{
					Filename: res.Filename,
					Device:   res.Device,
					Channel:  res.Channel,
				}
				for _, w := range res.Warnings {
					view.Warnings = append(view.Warnings, w.Error())
				}
				if root != "" {
					view.Destination = storage.Destination(root, res.Device, res.Channel, res.Filename, now)
				}
				results = append(results, view)
			}

			if asJSON {
				return writeJSON(cmd, results)
			}

			rows := make([][]string, 0, len(results))
			for _, r := range results {
				rows = append(rows, []string{r.Filename, r.Device, r.Channel, r.Destination})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"File", "Device", "Channel", "Destination"}, rows, nil))
			for _, r := range results {
				for _, w := range r.Warnings {
					fmt.Fprintf(out, "warning: %s\n", w)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&devices, "device", nil, "Known device label (repeatable; defaults to devices.names)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

type classificationView struct {
	Filename    string   `json:"filename"`
	Device      string   `json:"device"`
	Channel     string   `json:"channel"`
	Destination string   `json:"destination,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}
