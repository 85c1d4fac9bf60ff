package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ThatCatDev/runmymodel/internal/config"
)

var (
	cfgFile string
	verbose bool

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "runmymodel",
	Short: "Browse, install and chat with local LLMs",
	Long: "runmymodel is a client for local model-serving backends. It keeps a cached model catalog,\n" +
		"tracks installs and stores chat sessions between runs.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := viper.New()
		flags := cmd.Root().PersistentFlags()
		for key, flag := range map[string]string{
			"backend.kind":   "backend",
			"backend.url":    "backend-url",
			"storage.driver": "storage",
			"log.level":      "log-level",
		} {
			if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
				return fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}

		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: <config-dir>/config.yaml)")
	flags.String("backend", config.KindNative, "backend kind: native, ollama or openai")
	flags.String("backend-url", "", "backend base URL (default depends on --backend)")
	flags.String("storage", config.DriverSQLite, "state storage driver: sqlite, file or memory")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.BoolVarP(&verbose, "verbose", "v", false, "also log to stderr")
}

// PrintError writes err the way every command reports failures.
func PrintError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
}
