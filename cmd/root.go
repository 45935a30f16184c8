package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"crossbench/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const Version = "0.3.0"

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
		return
	}

	// Try to load from the application directory
	execPath, err := os.Executable()
	if err != nil {
		return
	}
	envFile = filepath.Join(filepath.Dir(execPath), ".env")
	if _, err := os.Stat(envFile); err != nil {
		return
	}
	if err := godotenv.Load(envFile); err != nil {
		logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
	} else {
		logger.WithField("file", envFile).Debug("Loaded environment variables")
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:     "crossbench",
		Short:   "Browser benchmark runner with pluggable probes",
		Long:    "Runs stories on browsers, attaches probes to every run and merges their results across repetitions, stories and browsers",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a benchmark session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), configFile, logLevel != "")
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a session configuration and its probe options",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateSession(configFile)
		},
	}

	probesCmd := &cobra.Command{
		Use:   "probes [name]",
		Short: "List the available probes and their options",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return describeProbes(cmd.OutOrStdout(), args)
		},
	}

	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to session configuration file")
	runCmd.MarkFlagRequired("config")

	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to session configuration file")
	validateCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(probesCmd)
	return rootCmd
}

func Execute() error {
	loadEnvironment()
	return newRootCmd().Execute()
}
