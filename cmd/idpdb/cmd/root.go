// Package cmd provides CLI command implementations
package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/idpdb/pkg/config"
	"github.com/ChrisMcGann/idpdb/pkg/logging"
	"github.com/ChrisMcGann/idpdb/pkg/store"
)

var (
	configFile string
	logLevel   string

	cfg    *config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "idpdb",
	Short: "idpdb - protein identification database tool",
	Long: `idpdb builds, filters and merges idpDB files: SQLite databases of
peptide-spectrum matches and the proteins they identify.

- Import tab-separated search results with a FASTA protein database
- Filter by q-value and protein evidence, with parsimonious protein grouping
- Merge many idpDB files into one, deduplicating shared rows`,
	Version:       "1.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return err
		}
		cfg.Overlay(&config.Config{Log: config.LogConfig{Level: logLevel}})
		logger = cfg.Logger(os.Stderr)
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ./"+config.DefaultFile+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(filterCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(summarizeCmd)
	rootCmd.AddCommand(showFilterCmd)
}

// openDatabase opens an existing idpDB with the configured pragmas
func openDatabase(path string) (*store.Store, error) {
	if !store.IsValidFile(path) {
		return nil, &os.PathError{Op: "open", Path: path, Err: store.ErrNotIDPDB}
	}
	return store.Open(path, cfg.StoreOptions(logger)...)
}

// interruptContext is cancelled on the first Ctrl-C
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}
