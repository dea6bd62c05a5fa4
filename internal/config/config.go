// Package config provides YAML-based configuration loading for Floorline.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/zulandar/floorline/internal/models"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Floorline configuration, loaded from config.yaml.
type Config struct {
	Plant    string          `yaml:"plant"`
	Database DatabaseConfig  `yaml:"database"`
	Server   ServerConfig    `yaml:"server"`
	Sweep    SweepConfig     `yaml:"sweep"`
	Stations []StationConfig `yaml:"stations"`
	Statuses []StatusConfig  `yaml:"statuses"`
}

// DatabaseConfig holds connection settings for the MySQL server.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// ServerConfig holds the HTTP listener settings for the API and dashboard.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// SweepConfig controls the abandoned-session housekeeping job.
type SweepConfig struct {
	IdleMinutes int    `yaml:"idle_minutes"`
	Schedule    string `yaml:"schedule"` // 5-field cron expression
}

// StationConfig seeds one physical station.
type StationConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// StatusConfig seeds one status definition. MachineState must be one of
// production, setup, stoppage; StationType empty means global.
type StatusConfig struct {
	Label        string `yaml:"label"`
	MachineState string `yaml:"machine_state"`
	StationType  string `yaml:"station_type"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Database == "" && c.Plant != "" {
		c.Database.Database = "floorline_" + c.Plant
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Sweep.IdleMinutes == 0 {
		c.Sweep.IdleMinutes = 15
	}
	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = "*/5 * * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Plant == "" {
		errs = append(errs, "plant is required")
	}
	for i, s := range c.Stations {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("stations[%d].name is required", i))
		}
	}
	for i, s := range c.Statuses {
		if s.Label == "" {
			errs = append(errs, fmt.Sprintf("statuses[%d].label is required", i))
		}
		if !models.MachineState(s.MachineState).Valid() {
			errs = append(errs, fmt.Sprintf("statuses[%d].machine_state %q is not production/setup/stoppage", i, s.MachineState))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
