// Package config handles global configuration loading using viper.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/latprobe/internal/core"
	"firestige.xyz/latprobe/internal/log"
	"firestige.xyz/latprobe/internal/tool"
)

// ErrInvalidProtocol is returned for a transport other than tcp or udp.
var ErrInvalidProtocol = errors.New("latprobe: invalid protocol")

// GlobalConfig represents the whole configuration file.
// Maps to the `latprobe:` root key in YAML.
type GlobalConfig struct {
	Label     string           `mapstructure:"label"`
	Log       log.Config       `mapstructure:"log"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Capture   CaptureConfig    `mapstructure:"capture"`
	Test      TestConfig       `mapstructure:"test"`
	Tap       TapConfig        `mapstructure:"tap"`
	Reporters []ReporterConfig `mapstructure:"reporters"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Capture ───

// Frame source names.
const (
	SourceAFPacket = "afpacket"
	SourcePcap     = "pcap"
	SourceFile     = "file"
)

// CaptureConfig configures the frame source and the capture pipeline.
type CaptureConfig struct {
	Interface     string        `mapstructure:"interface"`
	Source        string        `mapstructure:"source"` // afpacket / pcap / file
	File          string        `mapstructure:"file"`   // pcap file for the file source
	SnapLen       int           `mapstructure:"snap_len"`
	BPFFilter     string        `mapstructure:"bpf_filter"` // Empty = derived from the test settings
	Promiscuous   bool          `mapstructure:"promiscuous"`
	BlockSizeMB   int           `mapstructure:"block_size_mb"` // afpacket ring block size
	NumBlocks     int           `mapstructure:"num_blocks"`
	QueueCapacity int           `mapstructure:"queue_capacity"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
	SettleTime    time.Duration `mapstructure:"settle_time"` // Grace period after the capture window for late frames
}

// ─── Test ───

// Transport protocols of the test traffic.
const (
	ProtocolTCP = "tcp"
	ProtocolUDP = "udp"
)

// TestConfig describes the benchmark runs to correlate.
type TestConfig struct {
	Tool         string        `mapstructure:"tool"`
	ServerIP     string        `mapstructure:"server_ip"`
	ClientIP     string        `mapstructure:"client_ip"` // Empty = resolved from the capture interface
	Port         int           `mapstructure:"port"`
	Protocol     string        `mapstructure:"protocol"`
	MessageSizes []int         `mapstructure:"message_sizes"`
	Duration     time.Duration `mapstructure:"duration"`
}

// ─── Tap ───

// TapConfig enables hardware tap trailer decoding.
type TapConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ─── Reporters ───

// ReporterConfig selects a reporter; Options are decoded by the reporter itself.
type ReporterConfig struct {
	Type    string         `mapstructure:"type"`
	Options map[string]any `mapstructure:"options"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `latprobe: ...`.
type configRoot struct {
	Latprobe GlobalConfig `mapstructure:"latprobe"`
}

// Load loads configuration from file. An empty path yields the defaults plus environment
// overrides. The YAML file uses `latprobe:` as root key; env vars map through the key replacer
// (e.g. key "latprobe.log.level" → env "LATPROBE_LOG_LEVEL").
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Latprobe

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "latprobe." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("latprobe.label", "latprobe")

	// Log defaults
	v.SetDefault("latprobe.log.level", "info")
	v.SetDefault("latprobe.log.format", "text")
	v.SetDefault("latprobe.log.outputs.file.enabled", false)
	v.SetDefault("latprobe.log.outputs.file.path", "/var/log/latprobe/latprobe.log")
	v.SetDefault("latprobe.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("latprobe.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("latprobe.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("latprobe.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("latprobe.metrics.enabled", false)
	v.SetDefault("latprobe.metrics.listen", ":9091")
	v.SetDefault("latprobe.metrics.path", "/metrics")

	// Capture defaults
	v.SetDefault("latprobe.capture.source", SourceAFPacket)
	v.SetDefault("latprobe.capture.snap_len", 65535)
	v.SetDefault("latprobe.capture.promiscuous", true)
	v.SetDefault("latprobe.capture.block_size_mb", 4)
	v.SetDefault("latprobe.capture.num_blocks", 64)
	v.SetDefault("latprobe.capture.queue_capacity", 65536)
	v.SetDefault("latprobe.capture.drain_timeout", "10s")
	v.SetDefault("latprobe.capture.settle_time", "1s")

	// Test defaults
	v.SetDefault("latprobe.test.tool", tool.Sockperf.Name)
	v.SetDefault("latprobe.test.port", 11111)
	v.SetDefault("latprobe.test.protocol", ProtocolUDP)
	v.SetDefault("latprobe.test.message_sizes", []int{64})
	v.SetDefault("latprobe.test.duration", "10s")

	v.SetDefault("latprobe.tap.enabled", false)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
// Errors wrap core.ErrConfigInvalid.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		return invalid("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── Capture validation ──
	switch cfg.Capture.Source {
	case SourceAFPacket, SourcePcap:
	case SourceFile:
		if cfg.Capture.File == "" {
			return invalid("capture.file is required when capture.source=file")
		}
	default:
		return invalid("unsupported capture.source: %s (must be afpacket/pcap/file)", cfg.Capture.Source)
	}
	if cfg.Capture.SnapLen <= 0 {
		cfg.Capture.SnapLen = 65535
	}
	if cfg.Capture.QueueCapacity <= 0 {
		return invalid("capture.queue_capacity must be positive, got %d", cfg.Capture.QueueCapacity)
	}
	if cfg.Capture.DrainTimeout < 0 || cfg.Capture.SettleTime < 0 {
		return invalid("capture timeouts must not be negative")
	}

	// ── Test validation ──
	if err := cfg.Test.Validate(); err != nil {
		return err
	}

	// ── Reporter validation ──
	for i, r := range cfg.Reporters {
		if r.Type == "" {
			return invalid("reporter[%d]: type is required", i)
		}
	}

	return nil
}

// Validate checks the test settings.
func (t *TestConfig) Validate() error {
	if _, err := tool.Lookup(t.Tool); err != nil {
		return fmt.Errorf("%w: %w", core.ErrConfigInvalid, err)
	}
	proto, err := ParseProtocol(t.Protocol)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrConfigInvalid, err)
	}
	t.Protocol = proto
	if t.ServerIP != "" {
		if _, err := parseIPv4(t.ServerIP); err != nil {
			return invalid("test.server_ip: %v", err)
		}
	}
	if t.ClientIP != "" {
		if _, err := parseIPv4(t.ClientIP); err != nil {
			return invalid("test.client_ip: %v", err)
		}
	}
	if t.Port <= 0 || t.Port > 65535 {
		return invalid("test.port out of range: %d", t.Port)
	}
	if len(t.MessageSizes) == 0 {
		return invalid("test.message_sizes must not be empty")
	}
	for _, s := range t.MessageSizes {
		if s <= 0 {
			return invalid("test.message_sizes: invalid size %d", s)
		}
	}
	return nil
}

// Server returns the parsed server address.
func (t *TestConfig) Server() (netip.Addr, error) {
	if t.ServerIP == "" {
		return netip.Addr{}, invalid("test.server_ip is required")
	}
	return parseIPv4(t.ServerIP)
}

// Client returns the parsed client address, or the zero Addr when none is configured.
func (t *TestConfig) Client() (netip.Addr, error) {
	if t.ClientIP == "" {
		return netip.Addr{}, nil
	}
	return parseIPv4(t.ClientIP)
}

// ParseProtocol normalizes a transport name.
func ParseProtocol(s string) (string, error) {
	switch p := strings.ToLower(strings.TrimSpace(s)); p {
	case ProtocolTCP, ProtocolUDP:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q (must be tcp/udp)", ErrInvalidProtocol, s)
	}
}

func parseIPv4(s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, invalid("%v", err)
	}
	a = a.Unmap()
	if !a.Is4() {
		return netip.Addr{}, invalid("%s is not an IPv4 address", s)
	}
	return a, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{core.ErrConfigInvalid}, args...)...)
}
