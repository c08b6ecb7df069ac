// Package cli implements the elfarol command tree.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/talgya/elfarol/internal/config"
	"github.com/talgya/elfarol/internal/logging"
	"github.com/talgya/elfarol/internal/persistence"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

var (
	cfg     *config.Config
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "elfarol",
		Short: "El Farol Bar: spatial minority-game simulation",
		Long: `elfarol simulates the El Farol Bar problem on a square grid.

Every round each agent decides whether to go to the bar using its policy.
The bar is enjoyable only when attendance does not exceed capacity.
Every few rounds agents imitate better-performing neighbours through a
softmax choice over their recent payoffs.

Run a simulation:
  elfarol run --iterations 500

Watch it live over HTTP:
  elfarol serve`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
			return nil
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $ELFAROL_HOME/config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(policiesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFromFile(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}

// openStore opens the configured backend. It returns nil when storage is
// disabled.
func openStore(ctx context.Context) (persistence.Store, error) {
	switch cfg.Storage.Driver {
	case "none":
		return nil, nil
	case "postgres":
		return persistence.Open(ctx, "postgres", cfg.Storage.DSN)
	default:
		return persistence.Open(ctx, "sqlite", cfg.StoragePath())
	}
}

// requireStore is openStore for commands that cannot work without one.
func requireStore(ctx context.Context) (persistence.Store, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("storage is disabled (storage.driver: none)")
	}
	return st, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "elfarol %s\n", Version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}
