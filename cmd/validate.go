package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/latprobe/internal/config"
	"firestige.xyz/latprobe/internal/tool"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and print the effective settings",
	Long: `Load the configuration file with defaults and LATPROBE_* environment overrides applied,
validate it and print the effective settings as YAML.

Examples:
  latprobe validate -c latprobe.yml
  LATPROBE_TEST_PORT=5001 latprobe validate -c latprobe.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, cmd.OutOrStdout())
	},
}

func runValidate(path string, w io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(w, "INVALID: %v\n", err)
		return err
	}

	profile, _ := tool.Lookup(cfg.Test.Tool)
	fmt.Fprintf(w, "VALID: %s, %s %s:%d, %d run(s), %d reporter(s)\n",
		profile.Name, cfg.Test.Protocol, cfg.Test.ServerIP, cfg.Test.Port,
		len(cfg.Test.MessageSizes), len(cfg.Reporters))

	out, err := yaml.Marshal(map[string]any{"latprobe": effective(cfg)})
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// effective renders cfg with its config file keys.
func effective(cfg *config.GlobalConfig) map[string]any {
	reporters := make([]map[string]any, len(cfg.Reporters))
	for i, r := range cfg.Reporters {
		reporters[i] = map[string]any{"type": r.Type, "options": r.Options}
	}
	return map[string]any{
		"label": cfg.Label,
		"log":   cfg.Log,
		"metrics": map[string]any{
			"enabled": cfg.Metrics.Enabled,
			"listen":  cfg.Metrics.Listen,
			"path":    cfg.Metrics.Path,
		},
		"capture": map[string]any{
			"interface":      cfg.Capture.Interface,
			"source":         cfg.Capture.Source,
			"file":           cfg.Capture.File,
			"snap_len":       cfg.Capture.SnapLen,
			"bpf_filter":     cfg.Capture.BPFFilter,
			"promiscuous":    cfg.Capture.Promiscuous,
			"block_size_mb":  cfg.Capture.BlockSizeMB,
			"num_blocks":     cfg.Capture.NumBlocks,
			"queue_capacity": cfg.Capture.QueueCapacity,
			"drain_timeout":  cfg.Capture.DrainTimeout.String(),
			"settle_time":    cfg.Capture.SettleTime.String(),
		},
		"test": map[string]any{
			"tool":          cfg.Test.Tool,
			"server_ip":     cfg.Test.ServerIP,
			"client_ip":     cfg.Test.ClientIP,
			"port":          cfg.Test.Port,
			"protocol":      cfg.Test.Protocol,
			"message_sizes": cfg.Test.MessageSizes,
			"duration":      cfg.Test.Duration.String(),
		},
		"tap":       map[string]any{"enabled": cfg.Tap.Enabled},
		"reporters": reporters,
	}
}
