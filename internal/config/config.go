// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/isp-scheduler/internal/hw"
	"github.com/ChuLiYu/isp-scheduler/internal/scheduler"
)

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags
type Config struct {
	Device struct {
		Path     string `yaml:"path"`     // UIO device node, e.g. /dev/uio0
		MapSize  int    `yaml:"map_size"` // bytes of register space to map
		Simulate bool   `yaml:"simulate"` // use the software model instead
	} `yaml:"device"`

	Scheduler struct {
		NodeGroups      int           `yaml:"node_groups"`
		ScanPolicy      string        `yaml:"scan_policy"`
		TeardownTimeout time.Duration `yaml:"teardown_timeout"`
	} `yaml:"scheduler"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	GRPC struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"grpc"`

	Sim struct {
		JobTime time.Duration `yaml:"job_time"` // time the model spends per job
	} `yaml:"sim"`
}

// Errors
var (
	ErrInvalid = errors.New("config: invalid")
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	var c Config
	c.Device.Path = "/dev/uio0"
	c.Device.MapSize = hw.RegisterSpan
	c.Scheduler.NodeGroups = scheduler.DefaultNodeGroups
	c.Scheduler.ScanPolicy = scheduler.ScanRoundRobin.String()
	c.Scheduler.TeardownTimeout = 2 * time.Second
	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Metrics.Enabled = true
	c.Metrics.Addr = ":9090"
	c.GRPC.Enabled = true
	c.GRPC.Addr = ":50051"
	c.Sim.JobTime = 5 * time.Millisecond
	return &c
}

// Load reads path on top of the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if !c.Device.Simulate && c.Device.Path == "" {
		return fmt.Errorf("%w: device.path is required unless device.simulate is set", ErrInvalid)
	}
	if c.Device.MapSize < hw.RegisterSpan {
		return fmt.Errorf("%w: device.map_size %d smaller than the register block (%d)",
			ErrInvalid, c.Device.MapSize, hw.RegisterSpan)
	}
	if c.Scheduler.NodeGroups < 1 || c.Scheduler.NodeGroups > 8 {
		return fmt.Errorf("%w: scheduler.node_groups must be 1..8, got %d", ErrInvalid, c.Scheduler.NodeGroups)
	}
	if _, err := c.ScanPolicy(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Scheduler.TeardownTimeout <= 0 {
		return fmt.Errorf("%w: scheduler.teardown_timeout must be positive", ErrInvalid)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format must be text or json, got %q", ErrInvalid, c.Log.Format)
	}
	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return fmt.Errorf("%w: metrics.addr: %w", ErrInvalid, err)
		}
	}
	if c.GRPC.Enabled {
		if _, _, err := net.SplitHostPort(c.GRPC.Addr); err != nil {
			return fmt.Errorf("%w: grpc.addr: %w", ErrInvalid, err)
		}
	}
	if c.Device.Simulate && c.Sim.JobTime <= 0 {
		return fmt.Errorf("%w: sim.job_time must be positive", ErrInvalid)
	}
	return nil
}

// ScanPolicy parses scheduler.scan_policy.
func (c *Config) ScanPolicy() (scheduler.ScanPolicy, error) {
	return scheduler.ParseScanPolicy(c.Scheduler.ScanPolicy)
}

// SchedulerConfig builds the scheduler's own configuration.
func (c *Config) SchedulerConfig() (scheduler.Config, error) {
	policy, err := c.ScanPolicy()
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{NodeGroups: c.Scheduler.NodeGroups, ScanPolicy: policy}, nil
}
