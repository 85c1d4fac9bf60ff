package cmd

import (
	"fmt"
	"io"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/ThatCatDev/runmymodel/internal/config"
)

// version is set at link time with -ldflags "-X github.com/ThatCatDev/runmymodel/cmd.version=v1.2.3".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version, build and configured backend",
	Run: func(cmd *cobra.Command, args []string) {
		info, _ := debug.ReadBuildInfo()
		printVersion(cmd.OutOrStdout(), info, cfg)
	},
}

// buildVersion prefers the link-time version, then the module version,
// and appends the short VCS revision when one was stamped.
func buildVersion(info *debug.BuildInfo) string {
	v := version
	if info == nil {
		return v
	}
	if v == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		v = info.Main.Version
	}
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return v
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if dirty {
		rev += "-dirty"
	}
	return v + " (" + rev + ")"
}

func printVersion(w io.Writer, info *debug.BuildInfo, c *config.Config) {
	fmt.Fprintf(w, "runmymodel %s\n", buildVersion(info))
	if info != nil {
		fmt.Fprintf(w, "go:      %s\n", info.GoVersion)
	}
	if c != nil {
		fmt.Fprintf(w, "backend: %s %s\n", c.Backend.Kind, c.Backend.URL)
		fmt.Fprintf(w, "storage: %s\n", c.Storage.Driver)
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
