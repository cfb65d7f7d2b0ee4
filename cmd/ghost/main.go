package main

import (
	"fmt"
	"os"

	"github.com/cuemby/ghost/pkg/config"
	"github.com/cuemby/ghost/pkg/log"
	"github.com/cuemby/ghost/pkg/storage"
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
	Use:   "ghost",
	Short: "Ghost - deployment orchestrator for autoscaled cloud fleets",
	Long: `Ghost deploys application modules to fleets of cloud instances.

It packages git revisions, publishes them to object storage, rolls them
out over SSH while autoscaling is suspended, and runs blue/green
preparation, swap and purge between two twin applications.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Ghost version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "/etc/ghost/config.yml", "Configuration file")
	rootCmd.PersistentFlags().String("data-dir", "", "Override the data directory of the configuration")
	rootCmd.PersistentFlags().String("log-level", "", "Override the log level (debug, info, warn, error)")
}

// setup loads the configuration, initializes logging and opens the store
func setup(cmd *cobra.Command) (*config.Config, *storage.BoltStore, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return cfg, store, nil
}
