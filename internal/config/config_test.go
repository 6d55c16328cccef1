package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"firestige.xyz/latprobe/internal/core"
	"firestige.xyz/latprobe/internal/tool"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "latprobe.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
latprobe:
  label: "lab-5g"
  log:
    level: "debug"
    format: "json"
  metrics:
    enabled: true
    listen: "127.0.0.1:9200"
  capture:
    interface: "eth1"
    source: "pcap"
    queue_capacity: 1024
    drain_timeout: "3s"
  test:
    tool: "rperf"
    server_ip: "10.0.0.2"
    client_ip: "10.0.0.1"
    port: 5001
    protocol: "TCP"
    message_sizes: [64, 512]
  tap:
    enabled: true
  reporters:
    - type: console
      options:
        format: json
    - type: kafka
      options:
        brokers: ["localhost:9092"]
        topic: "latency"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Label != "lab-5g" {
		t.Errorf("Expected label lab-5g, got %s", cfg.Label)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log config %+v", cfg.Log)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != "127.0.0.1:9200" || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Unexpected metrics config %+v", cfg.Metrics)
	}
	if cfg.Capture.Source != SourcePcap || cfg.Capture.QueueCapacity != 1024 {
		t.Errorf("Unexpected capture config %+v", cfg.Capture)
	}
	if cfg.Capture.DrainTimeout != 3*time.Second {
		t.Errorf("Expected drain timeout 3s, got %v", cfg.Capture.DrainTimeout)
	}
	if cfg.Capture.SettleTime != time.Second {
		t.Errorf("Expected default settle time 1s, got %v", cfg.Capture.SettleTime)
	}
	if cfg.Test.Tool != "rperf" || cfg.Test.Port != 5001 {
		t.Errorf("Unexpected test config %+v", cfg.Test)
	}
	if len(cfg.Test.MessageSizes) != 2 || cfg.Test.MessageSizes[1] != 512 {
		t.Errorf("Unexpected message sizes %v", cfg.Test.MessageSizes)
	}
	if !cfg.Tap.Enabled {
		t.Error("Expected tap enabled")
	}
	if len(cfg.Reporters) != 2 || cfg.Reporters[1].Type != "kafka" {
		t.Fatalf("Unexpected reporters %+v", cfg.Reporters)
	}
	if cfg.Reporters[1].Options["topic"] != "latency" {
		t.Errorf("Expected kafka topic option, got %v", cfg.Reporters[1].Options)
	}

	server, err := cfg.Test.Server()
	if err != nil || server.String() != "10.0.0.2" {
		t.Errorf("Server() = %v, %v", server, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.Test.Tool != tool.Sockperf.Name {
		t.Errorf("Expected default tool sockperf, got %s", cfg.Test.Tool)
	}
	if cfg.Capture.Source != SourceAFPacket {
		t.Errorf("Expected default source afpacket, got %s", cfg.Capture.Source)
	}
	if cfg.Capture.DrainTimeout != 10*time.Second {
		t.Errorf("Expected default drain timeout 10s, got %v", cfg.Capture.DrainTimeout)
	}
	if _, err := cfg.Test.Server(); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("Server() without server_ip should fail, got %v", err)
	}
	client, err := cfg.Test.Client()
	if err != nil || client.IsValid() {
		t.Errorf("Client() = %v, %v; want zero address", client, err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LATPROBE_LOG_LEVEL", "warn")
	t.Setenv("LATPROBE_TEST_PORT", "6000")

	path := writeConfig(t, `
latprobe:
  log:
    level: "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected env override warn, got %s", cfg.Log.Level)
	}
	if cfg.Test.Port != 6000 {
		t.Errorf("Expected env override port 6000, got %d", cfg.Test.Port)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"LogLevel", "latprobe:\n  log:\n    level: verbose\n"},
		{"LogFormat", "latprobe:\n  log:\n    format: xml\n"},
		{"Source", "latprobe:\n  capture:\n    source: xdp\n"},
		{"FileWithoutPath", "latprobe:\n  capture:\n    source: file\n"},
		{"Tool", "latprobe:\n  test:\n    tool: owping\n"},
		{"Protocol", "latprobe:\n  test:\n    protocol: sctp\n"},
		{"ServerIPv6", "latprobe:\n  test:\n    server_ip: \"::1\"\n"},
		{"Port", "latprobe:\n  test:\n    port: 70000\n"},
		{"MessageSize", "latprobe:\n  test:\n    message_sizes: [64, 0]\n"},
		{"ReporterType", "latprobe:\n  reporters:\n    - options: {}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestParseProtocol(t *testing.T) {
	for in, want := range map[string]string{"tcp": ProtocolTCP, "UDP": ProtocolUDP, " udp ": ProtocolUDP} {
		got, err := ParseProtocol(in)
		if err != nil || got != want {
			t.Errorf("ParseProtocol(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseProtocol("icmp"); !errors.Is(err, ErrInvalidProtocol) {
		t.Errorf("ParseProtocol(icmp) error = %v, want ErrInvalidProtocol", err)
	}
}
