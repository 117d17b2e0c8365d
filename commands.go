package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "plantwatch",
		Short:         "Supervision and alarm engine for acquisition processes and equipment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and the operator API",
		RunE:  runServe,
	}

	checkConfigCmd = &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and print a hierarchy summary",
		RunE:  runCheckConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration (default $PLANTWATCH_CONFIG)")
	rootCmd.AddCommand(serveCmd, checkConfigCmd)
}
