// Package config handles loading and validating the puente configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the puente daemon.
type Config struct {
	Broker  BrokerConfig  `mapstructure:"broker"`
	Server  ServerConfig  `mapstructure:"server"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Status  StatusConfig  `mapstructure:"status"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// BrokerConfig holds the MQTT connection and subscription settings.
type BrokerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// URI renders the broker address in the form paho expects.
func (b BrokerConfig) URI() string {
	return fmt.Sprintf("tcp://%s:%d", b.Host, b.Port)
}

// ServerConfig holds the HTTP collection server settings.
type ServerConfig struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout returns the per-request HTTP timeout.
func (s ServerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// QueueConfig bounds the ingestion queue.
type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// StatusConfig holds the status/health server settings.
type StatusConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./puente.yaml, ./configs/puente.yaml, /etc/puente/puente.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	// Defaults match the original field deployment.
	v.SetDefault("broker.host", "localhost")
	v.SetDefault("broker.port", 1883)
	v.SetDefault("broker.topic", "Nodos/datos/+")
	v.SetDefault("broker.client_id", "")
	v.SetDefault("server.url", "https://proyecto-redes-5b146a15d8b6.herokuapp.com")
	v.SetDefault("server.timeout_seconds", 10)
	v.SetDefault("queue.capacity", 256)
	v.SetDefault("status.port", 8081)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("puente")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/puente")
	}

	// Environment variables: PUENTE_BROKER_HOST, PUENTE_SERVER_URL, etc.
	v.SetEnvPrefix("PUENTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional — env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${MQTT_PASSWORD}")
	cfg.Broker.Username = resolveEnvRef(cfg.Broker.Username)
	cfg.Broker.Password = resolveEnvRef(cfg.Broker.Password)

	if cfg.Queue.Capacity <= 0 {
		return nil, fmt.Errorf("queue.capacity must be positive, got %d", cfg.Queue.Capacity)
	}
	cfg.Server.URL = strings.TrimRight(cfg.Server.URL, "/")
	if cfg.Server.URL == "" {
		return nil, fmt.Errorf("server.url must be set")
	}

	return &cfg, nil
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
