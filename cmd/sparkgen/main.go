package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sparkgen",
	Short: "Generate short personal messages with retry, cache and offline fallback",
	Long: `sparkgen asks a remote model for short personal messages, retries
according to the observed connection quality and falls back to built-in
templates when the service cannot be reached. Results are kept in a local
store with favorites, search and statistics.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("sparkgen version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (defaults and environment when empty)")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(recentCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(favoriteCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(optimizeCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(categoriesCmd)
	rootCmd.AddCommand(serveCmd)
}
