package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"forecaster/internal/model"
)

func newTemplatesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"tpl"},
		Short:   "Manage learned templates",
	}
	cmd.AddCommand(
		newTemplatesListCmd(opts),
		newTemplatesExportCmd(opts),
		newTemplatesImportCmd(opts),
		newTemplatesActivateCmd(opts, true),
		newTemplatesActivateCmd(opts, false),
		newTemplatesDeleteCmd(opts),
	)
	return cmd
}

func newTemplatesListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates with accuracy and usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				list, err := a.svc.ListTemplates(cmd.Context())
				if err != nil {
					return err
				}
				printTemplates(list)

				st, err := a.svc.Stats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("\n%d templates (%d active), %d uploads in the last %d days, hit rate %.1f%%\n",
					st.TotalTemplates, st.ActiveTemplates, st.TotalUploads, a.cfg.Learning.StatsDays, st.TemplateHitRate)
				return nil
			})
		},
	}
}

func printTemplates(list []model.Template) {
	if len(list) == 0 {
		color.Yellow("no templates learned yet")
		return
	}
	active := color.New(color.FgGreen).SprintFunc()
	inactive := color.New(color.FgRed).SprintFunc()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tACCURACY\tUSES\tLAST USED")
	for _, t := range list {
		status := active("active")
		if !t.IsActive {
			status = inactive("inactive")
		}
		lastUsed := "-"
		if t.LastUsedAt != nil {
			lastUsed = t.LastUsedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\t%s\n", t.ID, t.Name, status, t.AccuracyRate, t.UseCount, lastUsed)
	}
	_ = w.Flush()
}

func newTemplatesExportCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a template as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				data, err := a.svc.ExportTemplate(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = os.Stdout.Write(data)
					return err
				}
				if err := os.WriteFile(output, data, 0644); err != nil {
					return fmt.Errorf("failed to write %s: %w", output, err)
				}
				color.Green("exported %s to %s", args[0], output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newTemplatesImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import a template from YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			return withApp(opts, func(a *app) error {
				t, err := a.svc.ImportTemplate(cmd.Context(), data)
				if err != nil {
					return err
				}
				color.Green("imported template %q as %s", t.Name, t.ID)
				return nil
			})
		},
	}
}

func newTemplatesActivateCmd(opts *rootOptions, active bool) *cobra.Command {
	use, short, done := "activate <id>", "Re-enable a template for matching", "activated"
	if !active {
		use, short, done = "deactivate <id>", "Exclude a template from matching", "deactivated"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				t, err := a.svc.SetActive(cmd.Context(), args[0], active)
				if err != nil {
					return err
				}
				color.Green("%s %s", done, t.ID)
				return nil
			})
		},
	}
}

func newTemplatesDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a template and its usage history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				if err := a.svc.DeleteTemplate(cmd.Context(), args[0]); err != nil {
					return err
				}
				color.Green("deleted %s", args[0])
				return nil
			})
		},
	}
}
