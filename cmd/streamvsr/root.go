package main

import (
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/g023/streamvsr/envconfig"
)

var rootCmd = &cobra.Command{
	Use:   "streamvsr",
	Short: "Streaming video super-resolution with bounded memory",
	Long: "streamvsr upscales chunked video streams with causal temporal\n" +
		"convolution stages and a per-stage lookback cache. Tiled and\n" +
		"streaming inference produce identical F32 output; the tiled path\n" +
		"trades throughput for a per-tile memory bound.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := viper.GetString("log-level")
		if level == "" {
			level = envconfig.LogLevel()
		}
		if parsed, err := log.ParseLevel(level); err == nil {
			log.SetLevel(parsed)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log verbosity (debug, info, warn, error)")

	viper.SetEnvPrefix("STREAMVSR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(diagCmd)
}
