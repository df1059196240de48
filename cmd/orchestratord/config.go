package main

import (
	"github.com/spf13/cobra"

	"github.com/cuemby/orchestrator/pkg/config"
	"github.com/cuemby/orchestrator/pkg/log"
)

func bindGlobalFlags(cmd *cobra.Command) {
	config.BindFlags(cmd.PersistentFlags())
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	return config.FromFlags(cmd.Flags())
}

func clientAddr(cmd *cobra.Command) string {
	addr, _ := cmd.Flags().GetString("bind-addr")
	if addr == "" {
		return "http://127.0.0.1:7777"
	}
	return "http://" + addr
}
