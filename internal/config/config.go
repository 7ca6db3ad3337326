package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the miner fleet controller.
// Values come from defaults, then the YAML file, then MINERCTL_* environment variables.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Fleet    FleetConfig    `yaml:"fleet"`
	Console  ConsoleConfig  `yaml:"console"`
	Logging  LoggingConfig  `yaml:"logging"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
}

// APIConfig describes the miner control API
type APIConfig struct {
	// BaseURL of the control API, e.g. "http://localhost:5000/api"
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single remote call including retries
	Timeout time.Duration `yaml:"timeout"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig bounds retries of transient control API failures
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// FleetConfig lists the miners managed at startup
type FleetConfig struct {
	Devices []string `yaml:"devices"`

	// Timezone used for the daily schedule and token expiry.
	// "Local" (default) is the controller host's zone.
	Timezone string `yaml:"timezone"`
}

// ConsoleConfig controls the interactive and HTTP console surfaces
type ConsoleConfig struct {
	Interactive bool   `yaml:"interactive"`
	Listen      string `yaml:"listen"` // HTTP listen address, empty disables
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MQTTConfig contains MQTT broker settings for state events
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	TLS         bool   `yaml:"tls"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	QoS         int    `yaml:"qos"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// InfluxDBConfig contains transition history settings
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:5000/api",
			Timeout: 15 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		Fleet: FleetConfig{
			Devices:  []string{"192.192.1.1", "192.192.1.2"},
			Timezone: "Local",
		},
		Console: ConsoleConfig{
			Interactive: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		MQTT: MQTTConfig{
			Host:        "localhost",
			Port:        1883,
			ClientID:    "minerctl",
			QoS:         1,
			TopicPrefix: "minerctl",
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "miners",
			BatchSize:     100,
			FlushInterval: 10,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies MINERCTL_SECTION_KEY variables
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MINERCTL_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("MINERCTL_API_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.API.Timeout = d
		}
	}
	if v := os.Getenv("MINERCTL_FLEET_DEVICES"); v != "" {
		cfg.Fleet.Devices = splitList(v)
	}
	if v := os.Getenv("MINERCTL_FLEET_TIMEZONE"); v != "" {
		cfg.Fleet.Timezone = v
	}
	if v := os.Getenv("MINERCTL_CONSOLE_LISTEN"); v != "" {
		cfg.Console.Listen = v
	}
	if v := os.Getenv("MINERCTL_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MINERCTL_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("MINERCTL_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Port = port
		}
	}
	if v := os.Getenv("MINERCTL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("MINERCTL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("MINERCTL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration for values the controller cannot run with
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q is not an absolute URL", c.API.BaseURL))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if c.API.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("api.retry.max_attempts must be at least 1"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("fleet.timezone: %w", err))
	}
	if c.MQTT.Enabled {
		if c.MQTT.Host == "" || c.MQTT.Port <= 0 {
			errs = append(errs, errors.New("mqtt.host and mqtt.port are required when mqtt is enabled"))
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos %d out of range 0-2", c.MQTT.QoS))
		}
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, errors.New("influxdb.url and influxdb.bucket are required when influxdb is enabled"))
	}

	return errors.Join(errs...)
}

// Location resolves fleet.timezone
func (c *Config) Location() (*time.Location, error) {
	switch c.Fleet.Timezone {
	case "", "Local", "local":
		return time.Local, nil
	}
	return time.LoadLocation(c.Fleet.Timezone)
}
