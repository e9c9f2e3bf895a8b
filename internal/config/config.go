// Package config loads a frozen Configuration for the sensor from defaults,
// an optional YAML file, a .env file, and environment variables, in that
// order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Configuration is the frozen struct handed to the coordinator (spec.md §6).
// Field ranges are enforced by Validate, not by the zero value.
type Configuration struct {
	InstanceID string `mapstructure:"instance_id"`
	LogLevel   string `mapstructure:"log_level"`

	Interface         string `mapstructure:"interface"`
	FilterExpression  string `mapstructure:"filter_expression"`
	Promiscuous       bool   `mapstructure:"promiscuous"`
	CaptureBackend    string `mapstructure:"capture_backend"` // "pcap" or "afpacket"

	CaptureReadTimeoutS  int     `mapstructure:"capture_read_timeout_s"`
	WindowSeconds        int     `mapstructure:"window_seconds"`
	MaxQueueSize         int     `mapstructure:"max_queue_size"`
	WorkerCount          int     `mapstructure:"worker_count"`
	ProbThreshold        float64 `mapstructure:"prob_threshold"`
	AlertCooldownSeconds int     `mapstructure:"alert_cooldown_seconds"`
	StatisticsIntervalS  int     `mapstructure:"statistics_interval_s"`

	ModelPath string `mapstructure:"model_path"`

	NATS       NATSConfig       `mapstructure:"nats"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	GeoIP      GeoIPConfig      `mapstructure:"geoip"`
	Admin      AdminConfig      `mapstructure:"admin"`
}

type NATSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	Subject    string `mapstructure:"subject"`
	Stream     string `mapstructure:"stream"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	CACertFile string `mapstructure:"ca_cert_file"`
}

type ClickHouseConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Database   string `mapstructure:"database"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	UseTLS     bool   `mapstructure:"use_tls"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	CACertFile string `mapstructure:"ca_cert_file"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type GeoIPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DBPath   string `mapstructure:"db_path"`
}

type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

const envPrefix = "SAKIN_SENSOR"

// Load reads defaults, then an optional YAML file at configPath (or the
// standard search locations if empty), then a .env file, then environment
// variables prefixed SAKIN_SENSOR_, and validates the result.
func Load(configPath string) (*Configuration, error) {
	_ = godotenv.Load() // optional; absence is not an error

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sensor")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/sakin-sensor/")
		v.AddConfigPath("$HOME/.config/sakin-sensor")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = generateInstanceID()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("filter_expression", "tcp and tcp[13]=2")
	v.SetDefault("promiscuous", true)
	v.SetDefault("capture_backend", "pcap")
	v.SetDefault("capture_read_timeout_s", 1)
	v.SetDefault("window_seconds", 60)
	v.SetDefault("max_queue_size", 10000)
	v.SetDefault("worker_count", 1)
	v.SetDefault("prob_threshold", 0.7)
	v.SetDefault("alert_cooldown_seconds", 30)
	v.SetDefault("statistics_interval_s", 5)

	v.SetDefault("nats.subject", "sakin.sensor.events")
	v.SetDefault("nats.stream", "SAKIN_SENSOR_EVENTS")

	v.SetDefault("clickhouse.port", 9000)
	v.SetDefault("clickhouse.database", "default")

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.ssl_mode", "disable")

	v.SetDefault("admin.addr", ":9091")
}

// Validate enforces the ranges in spec.md §6. A violation is a
// Configuration error, fatal at session construction.
func (c *Configuration) Validate() error {
	type bound struct {
		name     string
		value    int
		min, max int
	}
	bounds := []bound{
		{"capture_read_timeout_s", c.CaptureReadTimeoutS, 1, 60},
		{"window_seconds", c.WindowSeconds, 1, 3600},
		{"max_queue_size", c.MaxQueueSize, 100, 1000000},
		{"worker_count", c.WorkerCount, 1, 8},
		{"alert_cooldown_seconds", c.AlertCooldownSeconds, 0, 3600},
		{"statistics_interval_s", c.StatisticsIntervalS, 1, 60},
	}
	for _, b := range bounds {
		if b.value < b.min || b.value > b.max {
			return fmt.Errorf("config: %s=%d out of range [%d,%d]", b.name, b.value, b.min, b.max)
		}
	}
	if c.ProbThreshold < 0.0 || c.ProbThreshold > 1.0 {
		return fmt.Errorf("config: prob_threshold=%v out of range [0,1]", c.ProbThreshold)
	}
	if c.CaptureBackend != "pcap" && c.CaptureBackend != "afpacket" {
		return fmt.Errorf("config: capture_backend=%q must be pcap or afpacket", c.CaptureBackend)
	}
	return nil
}

func generateInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("sakin-sensor-%s", hostname)
}

// Preset returns a named configuration tuned for a deployment profile:
// light (resource-constrained), standard (defaults), or aggressive
// (high-sensitivity, shorter cooldown, more workers).
func Preset(name string) (*Configuration, error) {
	v := viper.New()
	setDefaults(v)

	switch name {
	case "light":
		v.Set("worker_count", 1)
		v.Set("max_queue_size", 2000)
		v.Set("window_seconds", 30)
		v.Set("statistics_interval_s", 10)
	case "standard":
		// defaults apply
	case "aggressive":
		v.Set("worker_count", 4)
		v.Set("max_queue_size", 50000)
		v.Set("window_seconds", 120)
		v.Set("prob_threshold", 0.5)
		v.Set("alert_cooldown_seconds", 10)
		v.Set("statistics_interval_s", 2)
	default:
		return nil, fmt.Errorf("config: unknown preset %q", name)
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal preset: %w", err)
	}
	cfg.InstanceID = generateInstanceID()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to path as YAML, the same round-trip the
// teacher's config layer offers for operator-edited files.
func (c *Configuration) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("instance_id", c.InstanceID)
	v.Set("log_level", c.LogLevel)
	v.Set("interface", c.Interface)
	v.Set("filter_expression", c.FilterExpression)
	v.Set("promiscuous", c.Promiscuous)
	v.Set("capture_backend", c.CaptureBackend)
	v.Set("capture_read_timeout_s", c.CaptureReadTimeoutS)
	v.Set("window_seconds", c.WindowSeconds)
	v.Set("max_queue_size", c.MaxQueueSize)
	v.Set("worker_count", c.WorkerCount)
	v.Set("prob_threshold", c.ProbThreshold)
	v.Set("alert_cooldown_seconds", c.AlertCooldownSeconds)
	v.Set("statistics_interval_s", c.StatisticsIntervalS)
	v.Set("model_path", c.ModelPath)
	v.Set("nats", c.NATS)
	v.Set("clickhouse", c.ClickHouse)
	v.Set("redis", c.Redis)
	v.Set("postgres", c.Postgres)
	v.Set("geoip", c.GeoIP)
	v.Set("admin", c.Admin)

	return v.SafeWriteConfigAs(path)
}
