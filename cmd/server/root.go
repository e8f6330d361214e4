package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is the current server version
	Version = "0.1.0"

	// Global flags
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nmfscope",
	Short: "Linked heatmap and embedding explorer for NMF results",
	Long: `nmfscope serves NMF component activities as two linked views: a heatmap of
samples by component and a 2D embedding of the samples. A selection made in
either view is mirrored in the other.

Running nmfscope without a subcommand is the same as 'nmfscope serve'.

Examples:
  nmfscope serve --config config/server.yaml
  nmfscope inspect --config config/server.yaml`,
	Version:      Version,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/server.yaml", "Path to configuration file")
}
