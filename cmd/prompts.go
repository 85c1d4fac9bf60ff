package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "List system prompt presets",
	Long:  "List system prompt presets. Presets are read from prompts.yaml in the config directory in addition to the built-in ones.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tDESCRIPTION")
			for _, p := range a.prompts.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Category, p.Description)
			}
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(promptsCmd)
}
