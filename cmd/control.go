package cmd

import (
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Prints the saved crawl status",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			return printJSON(cmd, appInstance.Orchestrator().Status())
		}),
	}
}

func newSectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sections",
		Short: "Lists the sections of the active country, loading the catalog if needed",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			sections, err := appInstance.Orchestrator().Sections(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, sections)
		}),
	}
}

func newCountryCmd() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "country [code]",
		Short: "Lists countries, or switches the active country scope",
		Long: `Without arguments, lists the configured countries and the active one.
With a code, switches the scope; a different code discards catalog and
progress for the previous country.`,
		Args: cobra.MaximumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, appInstance App) error {
			orch := appInstance.Orchestrator()
			if len(args) == 0 {
				return printJSON(cmd, orch.Countries())
			}
			change, err := orch.SetCountry(cmd.Context(), args[0], label)
			if err != nil {
				return err
			}
			return printJSON(cmd, change)
		}),
	}
	cmd.Flags().StringVar(&label, "label", "", "display label for the country")
	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Deletes the saved crawl state, keeping the country",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			orch := appInstance.Orchestrator()
			orch.Clear(cmd.Context())
			return printJSON(cmd, orch.Status())
		}),
	}
}
