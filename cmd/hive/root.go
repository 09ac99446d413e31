package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "Multi-agent coordination substrate",
	Long: `hive coordinates coding agents sharing a repository: an event-sourced
message bus, glob-aware file reservations, and a work-item tracker backed by
one SQLite database per project under .hive/.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().String("project", ".", "project directory")

	viper.SetEnvPrefix("HIVE")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}
