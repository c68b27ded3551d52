package main

import (
	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:           "cepd",
	Short:         "Complex event processing daemon",
	Long:          `cepd matches events against hot-updatable rules, renders templated alerts and aggregates values over time windows.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
}

func Execute() error {
	return rootCmd.Execute()
}
