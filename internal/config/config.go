package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Tracking TrackingConfig `yaml:"tracking"`
	Detector DetectorConfig `yaml:"detector"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Env      string         `yaml:"env"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	MaxConnections  int           `yaml:"max_connections"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type TrackingConfig struct {
	// FrameInterval is the pause between loop iterations and therefore the
	// granularity at which stop and shutdown are observed.
	FrameInterval   time.Duration `yaml:"frame_interval"`
	CameraIndices   []int         `yaml:"camera_indices"`
	MaxReadFailures int           `yaml:"max_read_failures"`
}

type DetectorConfig struct {
	FaceCascade  string  `yaml:"face_cascade"`
	EyeCascade   string  `yaml:"eye_cascade"`
	ScaleFactor  float64 `yaml:"scale_factor"`
	MinNeighbors int     `yaml:"min_neighbors"`
	MinFaceSize  int     `yaml:"min_face_size"`
	MinEyeSize   int     `yaml:"min_eye_size"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5000,
			Host:            "0.0.0.0",
			MaxMessageBytes: 1 << 20,
			PingInterval:    20 * time.Second,
			PongTimeout:     20 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Tracking: TrackingConfig{
			FrameInterval:   100 * time.Millisecond,
			CameraIndices:   []int{0, 1, 2},
			MaxReadFailures: 50,
		},
		Detector: DetectorConfig{
			FaceCascade:  "data/haarcascade_frontalface_default.xml",
			EyeCascade:   "data/haarcascade_eye.xml",
			ScaleFactor:  1.1,
			MinNeighbors: 5,
			MinFaceSize:  30,
			MinEyeSize:   20,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Env: "production",
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads a YAML file on top of the defaults. Fields absent from the file
// keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxMessageBytes <= 0 {
		return errors.New("server.max_message_bytes must be positive")
	}
	if c.Server.MaxConnections < 0 {
		return errors.New("server.max_connections must not be negative")
	}
	if c.Server.PingInterval <= 0 || c.Server.PongTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return errors.New("server ping_interval, pong_timeout and write_timeout must be positive")
	}
	if c.Tracking.FrameInterval <= 0 {
		return errors.New("tracking.frame_interval must be positive")
	}
	if len(c.Tracking.CameraIndices) == 0 {
		return errors.New("tracking.camera_indices must list at least one index")
	}
	if c.Tracking.MaxReadFailures <= 0 {
		return errors.New("tracking.max_read_failures must be positive")
	}
	if c.Detector.ScaleFactor <= 1.0 {
		return fmt.Errorf("detector.scale_factor %.2f must be greater than 1", c.Detector.ScaleFactor)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	return nil
}
