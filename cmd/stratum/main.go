package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stratum",
	Short: "Stratum - Versioned copy-on-write volumes on LVM thin pools",
	Long: `Stratum manages VM block volumes on LVM thin provisioning.

Every volume is a family of thin LVs related by naming convention:
a committed base image, a writable overlay while the VM runs, and
timestamped revisions of previous generations. Commits survive crashes
because the on-disk names are the only state there is.`,
	Version: Version,
}

var configPath string

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Stratum version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/stratum/stratum.yaml", "Path to the configuration file")

	// Add subcommands
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(volumeCmd)
	rootCmd.AddCommand(serveCmd)
}
