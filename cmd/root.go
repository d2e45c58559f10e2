// =============================================================================
// Payment Import - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. Every subcommand is
// attached to it.
//
// COBRA CLI STRUCTURE:
//   rootCmd (payimport)
//   ├── importCmd  (payimport import)
//   ├── serveCmd   (payimport serve)
//   ├── healthCmd  (payimport health)
//   └── versionCmd (payimport version)
//
// CONFIGURATION:
//   The root command is responsible for:
//   1. Setting up global flags (--config, --verbose)
//   2. Loading the main configuration before any subcommand runs
//   3. Setting up logging
//
// =============================================================================

package cmd

import (
	"fmt"
	"os"

	"github.com/ginjaninja78/payment-import/internal/config"
	"github.com/ginjaninja78/payment-import/internal/logger"
	"github.com/spf13/cobra"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
var cfgFile string

// verbose forces debug logging.
var verbose bool

// mainConfig is loaded by the root command before any subcommand runs.
var mainConfig *config.MainConfig

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "payimport",
	Short: "Payment Import - Bulk loan payment import from spreadsheets",
	Long: `Payment Import reads spreadsheets of loan payments, validates every row,
links rows to the holder's active loan and commits them one by one to the
loan-servicing service.

Key Features:
  - .xlsx and .xls workbooks, including older five-column templates
  - Per-row validation with duplicate document detection
  - Automatic loan linking when a holder has exactly one active loan
  - Sequential batch commit with per-row outcomes
  - Manual review hand-off for rows that cannot be linked safely

Example Usage:
  payimport import --file march.xlsx            # Preview a file
  payimport import --file march.xlsx --commit   # Preview and commit valid rows
  payimport serve                               # Run the operator API
  payimport health                              # Probe the loan service`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		cfg, err := config.LoadMainConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load main config: %w", err)
		}
		if verbose {
			cfg.LogLevel = "debug"
		}
		logger.Init(logger.Options{
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Service: "payimport",
		})
		mainConfig = cfg
		return nil
	},

	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yaml",
		"Path to the main configuration file",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable debug logging",
	)
}
