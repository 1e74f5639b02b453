// Command backtest loads daily price history into SQLite and runs
// backtests, parameter sweeps, walk-forward analyses and signal scans
// against it, either once from the command line or behind the HTTP API.
//
// Usage:
//
//	backtest --config config/backtest.yaml import data/aapl.csv data/msft.csv
//	backtest --config config/backtest.yaml run --short 10 --long 50
//	backtest --config config/backtest.yaml walkforward
//	backtest --config config/backtest.yaml serve
package main

import (
	"encoding/json"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"backtest-systemv1/config"
	"backtest-systemv1/internal/logger"
)

var (
	configPath string
	cfg        *config.Config

	rootCmd = &cobra.Command{
		Use:          "backtest",
		Short:        "Walk-forward backtesting and strategy evaluation",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadWithEnv(configPath)
			if err != nil {
				return err
			}
			if _, err := logger.New("backtest", loaded.Logging); err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/backtest.yaml", "path to the YAML configuration")
	rootCmd.AddCommand(importCmd, runCmd, optimizeCmd, walkForwardCmd, scanCmd, runsCmd, indicatorsCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("backtest failed")
		os.Exit(1)
	}
}

// printJSON writes v to the command's stdout, indented.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
