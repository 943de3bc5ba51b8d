package application

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	monitoring "geotech-monitor/internal/monitoring/domain"
)

// ChannelLimits defines warning/alert limits for one channel.
type ChannelLimits struct {
	Warning float64 `yaml:"warning"`
	Alert   float64 `yaml:"alert"`
}

// NodeConfig describes one monitored node in the plan.
type NodeConfig struct {
	ID         string                   `yaml:"id"`
	Instrument string                   `yaml:"instrument"`
	Name       string                   `yaml:"name"`
	Thresholds map[string]ChannelLimits `yaml:"thresholds"`
}

// Config defines the monitoring plan. Durations are expressed in seconds in
// the yaml file; thresholds configured here act as fallback when the
// thresholds table has no row for a node channel.
type Config struct {
	Nodes               []NodeConfig             `yaml:"nodes"`
	Defaults            map[string]ChannelLimits `yaml:"defaults"`
	TickIntervalSeconds int                      `yaml:"tick_interval_seconds"`
	TickDeadlineSeconds int                      `yaml:"tick_deadline_seconds"`
	CooldownSeconds     int                      `yaml:"cooldown_seconds"`
	HysteresisMargin    float64                  `yaml:"hysteresis_margin"`
	Recipients          []string                 `yaml:"recipients"`
}

// LoadConfig loads the monitoring plan from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		TickIntervalSeconds: 60,
		TickDeadlineSeconds: 45,
		CooldownSeconds:     3600,
		HysteresisMargin:    0.10,
	}

	if path := os.Getenv("MONITOR_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if len(cfg.Nodes) == 0 {
		cfg.Nodes = nodesFromCSV(getenvDefault("MONITOR_NODES", ""))
	}
	if len(cfg.Recipients) == 0 {
		cfg.Recipients = splitCSV(getenvDefault("ALERT_RECIPIENTS", ""))
	}
	cfg.TickIntervalSeconds = getenvIntDefault("MONITOR_TICK_INTERVAL_SECONDS", cfg.TickIntervalSeconds)
	cfg.TickDeadlineSeconds = getenvIntDefault("MONITOR_TICK_DEADLINE_SECONDS", cfg.TickDeadlineSeconds)
	cfg.CooldownSeconds = getenvIntDefault("ALERT_COOLDOWN_SECONDS", cfg.CooldownSeconds)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TickInterval returns the scheduler interval.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// TickDeadline returns the hard per-tick deadline.
func (c Config) TickDeadline() time.Duration {
	return time.Duration(c.TickDeadlineSeconds) * time.Second
}

// Cooldown returns the notification cooldown window.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c Config) validate() error {
	if len(c.Nodes) == 0 {
		return errors.New("monitor config: no nodes configured")
	}
	if c.TickIntervalSeconds <= 0 {
		return errors.New("monitor config: tick interval must be positive")
	}
	if c.TickDeadlineSeconds <= 0 || c.TickDeadlineSeconds > c.TickIntervalSeconds {
		return errors.New("monitor config: tick deadline must be positive and at most the interval")
	}
	if c.HysteresisMargin < 0 || c.HysteresisMargin >= 1 {
		return errors.New("monitor config: hysteresis margin must be in [0, 1)")
	}
	for _, node := range c.Nodes {
		if err := node.toDomain().Validate(); err != nil {
			return err
		}
		for channel, limits := range node.Thresholds {
			threshold := monitoring.Threshold{
				NodeID:       node.ID,
				Channel:      channel,
				WarningLimit: limits.Warning,
				AlertLimit:   limits.Alert,
			}
			if err := threshold.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// NodeList returns the configured nodes as domain values.
func (c Config) NodeList() []monitoring.Node {
	nodes := make([]monitoring.Node, 0, len(c.Nodes))
	for _, node := range c.Nodes {
		nodes = append(nodes, node.toDomain())
	}
	return nodes
}

// ThresholdsForNode returns plan thresholds for a node, per-node limits
// merged over defaults.
func (c Config) ThresholdsForNode(nodeID string) map[string]ChannelLimits {
	merged := make(map[string]ChannelLimits, len(c.Defaults))
	for channel, limits := range c.Defaults {
		merged[channel] = limits
	}
	for _, node := range c.Nodes {
		if node.ID != nodeID {
			continue
		}
		for channel, limits := range node.Thresholds {
			merged[channel] = limits
		}
	}
	return merged
}

// FallbackThresholds materializes the plan limits for every node into a
// ThresholdSet for use when the thresholds table is unavailable.
func (c Config) FallbackThresholds() monitoring.ThresholdSet {
	set := monitoring.ThresholdSet{}
	for _, node := range c.Nodes {
		for channel, limits := range c.ThresholdsForNode(node.ID) {
			set.Add(monitoring.Threshold{
				NodeID:       node.ID,
				Channel:      channel,
				WarningLimit: limits.Warning,
				AlertLimit:   limits.Alert,
			})
		}
	}
	return set
}

func (n NodeConfig) toDomain() monitoring.Node {
	return monitoring.Node{
		ID:         n.ID,
		Instrument: monitoring.InstrumentType(n.Instrument),
		Name:       n.Name,
	}
}

// nodesFromCSV parses "id:instrument" pairs, e.g. "142939:tiltmeter".
func nodesFromCSV(value string) []NodeConfig {
	var nodes []NodeConfig
	for _, part := range splitCSV(value) {
		fields := strings.SplitN(part, ":", 2)
		node := NodeConfig{ID: fields[0], Instrument: string(monitoring.InstrumentTiltmeter)}
		if len(fields) == 2 {
			node.Instrument = fields[1]
		}
		node.Name = fmt.Sprintf("Node %s", node.ID)
		nodes = append(nodes, node)
	}
	return nodes
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
