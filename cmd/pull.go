package cmd

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ThatCatDev/runmymodel/internal/backend"
	"github.com/ThatCatDev/runmymodel/internal/catalog"
)

var pullCmd = &cobra.Command{
	Use:   "pull <model>",
	Short: "Install a model through the backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			id := a.resolveModel(args[0])
			tty := isTerminal(os.Stdout)

			var (
				mu   sync.Mutex
				last string
			)
			a.catalog.OnChange(func() {
				p, ok := a.catalog.DownloadProgress(id)
				if !ok || p.Status != catalog.StatusDownloading || !tty {
					return
				}
				line := progressLine(p)
				mu.Lock()
				defer mu.Unlock()
				if line != last {
					fmt.Printf("\r%s", line)
					last = line
				}
			})

			fmt.Printf("Pulling %s...\n", id)
			err := a.catalog.DownloadModel(cmd.Context(), id)
			a.catalog.OnChange(nil)
			if last != "" {
				fmt.Println()
			}

			switch {
			case errors.Is(err, catalog.ErrDownloadInProgress):
				return fmt.Errorf("%s is already being installed", id)
			case err != nil:
				return fmt.Errorf("download failed: %s", backend.Message(err))
			}

			if msg := a.catalog.Error(); msg != "" {
				fmt.Fprintf(os.Stderr, "warning: %s\n", msg)
			}
			fmt.Printf("Installed %s.\n", id)
			return nil
		})
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <model>",
	Aliases: []string{"remove"},
	Short:   "Remove an installed model",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			id := a.resolveModel(args[0])
			if err := a.catalog.RemoveModel(cmd.Context(), id); err != nil {
				return fmt.Errorf("remove %s: %s", id, backend.Message(err))
			}
			fmt.Printf("Removed %s.\n", id)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(pullCmd, rmCmd)
}
