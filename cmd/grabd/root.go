package main

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "grabd",
	Short: "grabd is a media download queue daemon",
	Long:  "grabd resolves media URLs into quality variants and downloads the chosen one through a FIFO queue with retry and live progress.",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "path to the config file")
}
