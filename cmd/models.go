package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ThatCatDev/runmymodel/internal/catalog"
	"github.com/ThatCatDev/runmymodel/pkg/api"
)

var (
	listInstalled bool
	listFavorites bool
	listCategory  string
	listSort      string
)

var modelsCmd = &cobra.Command{
	Use:     "models",
	Aliases: []string{"model"},
	Short:   "Browse the model catalog",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog models",
	RunE: func(cmd *cobra.Command, args []string) error {
		switch listSort {
		case catalog.SortNone, catalog.SortName, catalog.SortSize, catalog.SortRating:
		default:
			return fmt.Errorf("unknown sort %q (want name, size or rating)", listSort)
		}
		return withApp(cmd.Context(), func(a *app) error {
			models := a.catalog.Filter(catalog.FilterOptions{
				Category:      listCategory,
				FavoritesOnly: listFavorites,
				InstalledOnly: listInstalled,
				Sort:          listSort,
			})
			printModels(cmd.OutOrStdout(), a, models)
			return nil
		})
	},
}

var modelsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the catalog by name, task or size",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			printModels(cmd.OutOrStdout(), a, a.catalog.SearchModels(args[0]))
			return nil
		})
	},
}

var modelsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch the catalog and installed models from the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if err := a.catalog.RefreshModels(cmd.Context()); err != nil {
				return fmt.Errorf("refresh catalog: %w", err)
			}
			if err := a.catalog.RefreshInstalledModels(cmd.Context()); err != nil {
				return fmt.Errorf("refresh installed models: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d models, %d installed.\n", len(a.catalog.AvailableModels()), len(a.catalog.InstalledModels()))
			return nil
		})
	},
}

var modelsInfoCmd = &cobra.Command{
	Use:   "info <model>",
	Short: "Show details of a catalog model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			m, err := a.backend.Resolve(args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			row := func(k, v string) {
				if v != "" {
					fmt.Fprintf(w, "%s:\t%s\n", k, v)
				}
			}
			row("ID", m.ID)
			row("Name", m.Name)
			row("Task", m.Task)
			row("Size", formatSize(m))
			row("Family", m.Family)
			row("Quantization", m.Quantization)
			row("Rating", formatRating(m.Rating))
			row("URL", m.URL)
			row("Description", m.Description)
			row("Installed", fmt.Sprint(a.catalog.IsInstalled(m.ID) || m.Downloaded))
			row("Favorite", fmt.Sprint(a.catalog.IsFavorite(m.ID)))
			if p, ok := a.catalog.DownloadProgress(m.ID); ok {
				row("Download", string(p.Status))
				row("Download error", p.Error)
			}
			return w.Flush()
		})
	},
}

var favoriteCmd = &cobra.Command{
	Use:   "favorite <model>",
	Short: "Toggle a model's favorite flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			id := a.resolveModel(args[0])
			if a.catalog.ToggleFavorite(id) {
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s to favorites.\n", id)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from favorites.\n", id)
			}
			return nil
		})
	},
}

var useCmd = &cobra.Command{
	Use:   "use <model>",
	Short: "Set the model used for new chats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			m, err := a.backend.Resolve(args[0])
			if err != nil {
				return err
			}
			a.catalog.SetCurrentModel(m.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "Using %s.\n", m.ID)
			if !a.catalog.IsInstalled(m.ID) && !m.Downloaded {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is not installed yet; run: runmymodel pull %s\n", m.ID, m.ID)
			}
			return nil
		})
	},
}

func printModels(out io.Writer, a *app, models []api.ModelInfo) {
	if len(models) == 0 {
		fmt.Fprintln(out, "No models found.")
		return
	}

	current := a.catalog.CurrentModel()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tID\tTASK\tSIZE\tRATING\tINSTALLED")
	for _, m := range models {
		mark := ""
		switch {
		case m.ID == current:
			mark = "*"
		case a.catalog.IsFavorite(m.ID):
			mark = "♥"
		}
		installed := ""
		if a.catalog.IsInstalled(m.ID) || m.Downloaded {
			installed = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", mark, m.ID, m.Task, formatSize(m), formatRating(m.Rating), installed)
	}
	w.Flush()

	if !a.backend.Fresh() {
		fmt.Fprintln(out, "\n(offline catalog: the backend could not be reached)")
	}
}

func init() {
	modelsListCmd.Flags().BoolVar(&listInstalled, "installed", false, "only installed models")
	modelsListCmd.Flags().BoolVar(&listFavorites, "favorites", false, "only favorite models")
	modelsListCmd.Flags().StringVar(&listCategory, "category", catalog.CategoryAll, "only models with this task")
	modelsListCmd.Flags().StringVar(&listSort, "sort", catalog.SortNone, "sort by name, size or rating")

	modelsCmd.AddCommand(modelsListCmd, modelsSearchCmd, modelsRefreshCmd, modelsInfoCmd)
	rootCmd.AddCommand(modelsCmd, favoriteCmd, useCmd)
}
