// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/latprobe/internal/config"
	"firestige.xyz/latprobe/internal/log"
)

var (
	// Global flags
	configFile string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "latprobe",
	Short: "latprobe - capture-assisted network latency measurement",
	Long: `latprobe captures the ping-pong traffic of a latency benchmark tool (sockperf, rperf),
matches every captured frame to the tool's per-message measurements by the message index
carried in the payload, and breaks the latency down into one-way, processing and capture
figures. With a hardware tap the frames carry nanosecond tap timestamps per port.

Outliers above mean + 3 sigma are flagged and attributed to the ping path, the pong path,
server processing or client processing. Results go to the configured reporters.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults plus LATPROBE_* environment when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override log level (debug/info/warn/error)")

	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadConfig loads the configuration, applies the --log-level override and initializes
// logging.
func loadConfig(path, level string) (*config.GlobalConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level != "" {
		if _, err := log.ParseLevel(level); err != nil {
			return nil, fmt.Errorf("invalid --log-level: %w", err)
		}
		cfg.Log.Level = level
	}
	if err := log.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, nil
}
