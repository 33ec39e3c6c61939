package main

import (
	"fmt"
	"os"

	"github.com/mentat-sh/mentat/internal/config"
	"github.com/mentat-sh/mentat/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mentatd",
	Short: "mentat cognitive-processing middleware",
	Long:  `mentatd coordinates LLM providers through staged reasoning pipelines, a two-tier cache, and a typed associative memory, exposed over a line-delimited JSON-RPC tool protocol.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Server.LogLevel)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mentat/config.yaml)")
	rootCmd.PersistentFlags().String("server.log_level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("server.data_dir", config.DefaultDataDir, "persisted state root directory")
}
