package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Default values for optional configuration fields.
const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 3000
	DefaultLogLevel       = "info"
	DefaultAngleInterval  = 150 * time.Millisecond
	DefaultAngleWindow    = 500 * time.Millisecond
	DefaultMaxMessageSize = 4096
	DefaultSendBuffer     = 256
)

type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Angle     AngleConfig     `yaml:"angle"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type AngleConfig struct {
	Interval time.Duration `yaml:"interval"`
	Window   time.Duration `yaml:"window"`
}

type WebSocketConfig struct {
	MaxMessageSize int64 `yaml:"max_message_size"`
	SendBuffer     int   `yaml:"send_buffer"`
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Level maps LogLevel onto a slog level. Validate rejects unknown names.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Load builds the configuration from, in increasing precedence: defaults,
// an optional YAML file, the environment (including .env) and args.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	flags := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	configPath := flags.String("config", os.Getenv("RELAY_CONFIG"), "path to a YAML config file")
	host := flags.String("host", "", "listen host")
	port := flags.Int("port", 0, "listen port")
	logLevel := flags.String("log-level", "", "log level (debug, info, warn, error)")
	interval := flags.Duration("angle-interval", 0, "how often averaged angles are pushed to the presenter")
	window := flags.Duration("angle-window", 0, "how long an angle sample stays fresh")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if *configPath != "" {
		fileCfg, err := LoadFile(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if flags.Changed("host") {
		cfg.Host = *host
	}
	if flags.Changed("port") {
		cfg.Port = *port
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if flags.Changed("angle-interval") {
		cfg.Angle.Interval = *interval
	}
	if flags.Changed("angle-window") {
		cfg.Angle.Window = *window
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads a YAML config file and expands ${VAR} references.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse PORT: %w", err)
		}
		c.Port = port
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ANGLE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse ANGLE_INTERVAL: %w", err)
		}
		c.Angle.Interval = d
	}
	if v := os.Getenv("ANGLE_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse ANGLE_WINDOW: %w", err)
		}
		c.Angle.Window = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Angle.Interval == 0 {
		c.Angle.Interval = DefaultAngleInterval
	}
	if c.Angle.Window == 0 {
		c.Angle.Window = DefaultAngleWindow
	}
	if c.WebSocket.MaxMessageSize == 0 {
		c.WebSocket.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.WebSocket.SendBuffer == 0 {
		c.WebSocket.SendBuffer = DefaultSendBuffer
	}
}

// Validate checks that every value is usable.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.Angle.Interval <= 0 {
		return errors.New("angle.interval must be positive")
	}
	if c.Angle.Window <= 0 {
		return errors.New("angle.window must be positive")
	}
	if c.WebSocket.MaxMessageSize < 1 {
		return errors.New("websocket.max_message_size must be >= 1")
	}
	if c.WebSocket.SendBuffer < 1 {
		return errors.New("websocket.send_buffer must be >= 1")
	}
	return nil
}
