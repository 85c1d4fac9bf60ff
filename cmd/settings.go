package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ThatCatDev/runmymodel/internal/prefs"
)

var (
	settingsTheme    string
	settingsSidebar  bool
	systemInfoAsJSON bool
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if cmd.Flags().Changed("theme") {
				theme, err := prefs.ParseTheme(settingsTheme)
				if err != nil {
					return err
				}
				if err := a.prefs.SetTheme(theme); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("sidebar-collapsed") {
				if err := a.prefs.SetSidebarCollapsed(settingsSidebar); err != nil {
					return err
				}
			}

			s := a.prefs.Settings()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "theme:\t%s\n", s.Theme)
			fmt.Fprintf(w, "sidebar collapsed:\t%t\n", s.SidebarCollapsed)
			fmt.Fprintf(w, "backend:\t%s (%s)\n", a.cfg.Backend.Kind, a.cfg.Backend.URL)
			fmt.Fprintf(w, "current model:\t%s\n", orDash(a.catalog.CurrentModel()))
			fmt.Fprintf(w, "storage:\t%s %s\n", a.cfg.Storage.Driver, a.cfg.Storage.Path)
			return w.Flush()
		})
	},
}

var systemInfoCmd = &cobra.Command{
	Use:   "system-info",
	Short: "Show host and backend information",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			info, err := a.backend.SystemInfo(cmd.Context())
			if err != nil {
				return err
			}
			if systemInfoAsJSON {
				return writeJSON(os.Stdout, info)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "platform:\t%s/%s\n", info.Platform, info.Arch)
			fmt.Fprintf(w, "cpu:\t%s (%d cores)\n", orDash(info.CPU.Name), info.CPU.Cores)
			if info.CPU.Memory > 0 {
				fmt.Fprintf(w, "memory:\t%s\n", formatBytes(info.CPU.Memory))
			}
			if info.GPU.Available {
				fmt.Fprintf(w, "gpu:\t%s, %s (driver %s)\n", info.GPU.Name, formatBytes(info.GPU.Memory), orDash(info.GPU.Driver))
			} else {
				fmt.Fprintf(w, "gpu:\tnone\n")
			}
			fmt.Fprintf(w, "backend:\t%s available=%t %s\n", info.Backend.Kind, info.Backend.Available, info.Backend.Version)
			if info.Backend.CacheDir != "" {
				fmt.Fprintf(w, "cache:\t%s\n", info.Backend.CacheDir)
			}
			if len(info.Backend.ModelsInstalled) > 0 {
				fmt.Fprintf(w, "installed:\t%s\n", strings.Join(info.Backend.ModelsInstalled, ", "))
			}
			return w.Flush()
		})
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	settingsCmd.Flags().StringVar(&settingsTheme, "theme", "", "color theme: light or dark")
	settingsCmd.Flags().BoolVar(&settingsSidebar, "sidebar-collapsed", false, "collapse the TUI session list")
	systemInfoCmd.Flags().BoolVar(&systemInfoAsJSON, "json", false, "print as JSON")

	rootCmd.AddCommand(settingsCmd, systemInfoCmd)
}
