package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"forecaster/internal/sheet"
)

func newFingerprintCmd(opts *rootOptions) *cobra.Command {
	var sheetName string
	cmd := &cobra.Command{
		Use:   "fingerprint <file.xlsx>",
		Short: "Print a workbook's structural fingerprint and its best template match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := sheet.LoadFile(args[0], sheetName)
			if err != nil {
				return err
			}
			return withApp(opts, func(a *app) error {
				fp, match, action, err := a.svc.MatchSheet(cmd.Context(), sh)
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(fp, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, string(data))
				if rec := a.svc.RecognizeFormat(sh); rec.Format != "" {
					color.Green("built-in format: %s", rec.Format)
				}
				if match.Template == nil {
					color.Yellow("no active template matches (%s)", action)
					return nil
				}
				color.Cyan("best match: %s %q score=%.4f exact=%v action=%s",
					match.Template.ID, match.Template.Name, match.Score, match.Exact, action)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&sheetName, "sheet", "s", "", "worksheet name (default: active sheet)")
	return cmd
}
