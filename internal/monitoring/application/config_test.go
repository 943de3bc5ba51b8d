package application

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	monitoring "geotech-monitor/internal/monitoring/domain"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_FromYAML(t *testing.T) {
	path := writeConfigFile(t, `
nodes:
  - id: "142939"
    instrument: tiltmeter
    name: North Abutment
    thresholds:
      x:
        warning: 5
        alert: 10
defaults:
  y:
    warning: 3
    alert: 6
tick_interval_seconds: 120
tick_deadline_seconds: 90
cooldown_seconds: 1800
hysteresis_margin: 0.05
recipients:
  - ops@example.com
`)
	t.Setenv("MONITOR_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.TickInterval() != 2*time.Minute {
		t.Fatalf("unexpected interval %s", cfg.TickInterval())
	}
	if cfg.TickDeadline() != 90*time.Second {
		t.Fatalf("unexpected deadline %s", cfg.TickDeadline())
	}
	if cfg.Cooldown() != 30*time.Minute {
		t.Fatalf("unexpected cooldown %s", cfg.Cooldown())
	}
	if cfg.HysteresisMargin != 0.05 {
		t.Fatalf("unexpected margin %v", cfg.HysteresisMargin)
	}
	nodes := cfg.NodeList()
	if len(nodes) != 1 || nodes[0].Instrument != monitoring.InstrumentTiltmeter {
		t.Fatalf("unexpected nodes %+v", nodes)
	}
	if len(cfg.Recipients) != 1 || cfg.Recipients[0] != "ops@example.com" {
		t.Fatalf("unexpected recipients %v", cfg.Recipients)
	}
}

func TestLoadConfig_NodesFromEnv(t *testing.T) {
	t.Setenv("MONITOR_CONFIG", "")
	t.Setenv("MONITOR_NODES", "142939:tiltmeter, 150001:seismograph")
	t.Setenv("ALERT_RECIPIENTS", "a@example.com,b@example.com")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	nodes := cfg.NodeList()
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %+v", nodes)
	}
	if nodes[1].Instrument != monitoring.InstrumentSeismograph {
		t.Fatalf("unexpected instrument %s", nodes[1].Instrument)
	}
	if len(cfg.Recipients) != 2 {
		t.Fatalf("unexpected recipients %v", cfg.Recipients)
	}
}

func TestLoadConfig_RejectsDeadlineOverInterval(t *testing.T) {
	path := writeConfigFile(t, `
nodes:
  - id: n1
    instrument: tiltmeter
tick_interval_seconds: 60
tick_deadline_seconds: 61
`)
	t.Setenv("MONITOR_CONFIG", path)

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected validation error for deadline over interval")
	}
}

func TestLoadConfig_RejectsInvertedLimits(t *testing.T) {
	path := writeConfigFile(t, `
nodes:
  - id: n1
    instrument: tiltmeter
    thresholds:
      x:
        warning: 10
        alert: 5
`)
	t.Setenv("MONITOR_CONFIG", path)

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected validation error for alert below warning")
	}
}

func TestLoadConfig_RejectsEmpty(t *testing.T) {
	t.Setenv("MONITOR_CONFIG", "")
	t.Setenv("MONITOR_NODES", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error with no nodes")
	}
}

func TestConfig_FallbackThresholdsMergeDefaults(t *testing.T) {
	cfg := Config{
		Nodes: []NodeConfig{
			{
				ID:         "n1",
				Instrument: "tiltmeter",
				Thresholds: map[string]ChannelLimits{
					"x": {Warning: 5, Alert: 10},
				},
			},
		},
		Defaults: map[string]ChannelLimits{
			"x": {Warning: 1, Alert: 2},
			"y": {Warning: 3, Alert: 6},
		},
	}

	set := cfg.FallbackThresholds()
	x, ok := set.Get("n1", "x")
	if !ok || x.WarningLimit != 5 || x.AlertLimit != 10 {
		t.Fatalf("per-node limits must override defaults, got %+v", x)
	}
	y, ok := set.Get("n1", "y")
	if !ok || y.WarningLimit != 3 {
		t.Fatalf("defaults must fill missing channels, got %+v", y)
	}
}
