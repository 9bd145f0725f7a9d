// Package config loads engine configuration from an optional YAML file with
// environment variable overrides. Precedence is defaults, then file, then
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the process configuration for the workflow engine daemon.
type Config struct {
	// HTTPAddr is the listen address of the HTTP API.
	HTTPAddr string `yaml:"http_addr"`

	// MaxNodeParallelism bounds concurrent node executions per run.
	MaxNodeParallelism int `yaml:"max_node_parallelism"`

	// NodeDeadlineSeconds bounds each node invocation.
	NodeDeadlineSeconds int `yaml:"node_deadline_seconds"`

	// PresignTTLSeconds is the lifetime of presigned object URLs.
	PresignTTLSeconds int `yaml:"presign_ttl_seconds"`

	// DispatchRatePerSecond throttles node dispatch. Zero disables it.
	DispatchRatePerSecond float64 `yaml:"dispatch_rate_per_second"`

	// MongoURI and MongoDatabase locate the persistence layer. An empty URI
	// selects the in-memory stores.
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`

	// RedisAddr and RedisPassword locate the Redis instance used for event
	// streaming, object storage and budget counters. An empty address
	// selects the in-memory implementations.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	// PresignSecret signs presigned object URLs.
	PresignSecret string `yaml:"presign_secret"`

	// Debug enables debug logging.
	Debug bool `yaml:"debug"`
}

// Environment variable names recognized by Load.
const (
	EnvHTTPAddr           = "FLOWRUN_HTTP_ADDR"
	EnvMaxNodeParallelism = "MAX_NODE_PARALLELISM"
	EnvNodeDeadline       = "NODE_DEADLINE_SECONDS"
	EnvPresignTTL         = "OBJECT_STORE_PRESIGN_TTL_SECONDS"
	EnvDispatchRate       = "FLOWRUN_DISPATCH_RATE"
	EnvMongoURI           = "FLOWRUN_MONGO_URI"
	EnvMongoDatabase      = "FLOWRUN_MONGO_DATABASE"
	EnvRedisAddr          = "FLOWRUN_REDIS_ADDR"
	EnvRedisPassword      = "FLOWRUN_REDIS_PASSWORD"
	EnvPresignSecret      = "FLOWRUN_PRESIGN_SECRET"
	EnvDebug              = "FLOWRUN_DEBUG"
)

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		HTTPAddr:            ":8080",
		MaxNodeParallelism:  4,
		NodeDeadlineSeconds: 300,
		PresignTTLSeconds:   3600,
		MongoDatabase:       "flowrun",
	}
}

// Load builds the configuration. path may be empty to skip the file layer; a
// named file that does not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// NodeDeadline returns the per-node deadline as a duration.
func (c Config) NodeDeadline() time.Duration {
	return time.Duration(c.NodeDeadlineSeconds) * time.Second
}

// PresignTTL returns the presigned URL lifetime as a duration.
func (c Config) PresignTTL() time.Duration {
	return time.Duration(c.PresignTTLSeconds) * time.Second
}

func (c Config) validate() error {
	if c.MaxNodeParallelism < 1 {
		return fmt.Errorf("max_node_parallelism must be at least 1, got %d", c.MaxNodeParallelism)
	}
	if c.NodeDeadlineSeconds < 1 {
		return fmt.Errorf("node_deadline_seconds must be at least 1, got %d", c.NodeDeadlineSeconds)
	}
	if c.PresignTTLSeconds < 1 {
		return fmt.Errorf("presign_ttl_seconds must be at least 1, got %d", c.PresignTTLSeconds)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(EnvHTTPAddr, &cfg.HTTPAddr)
	setString(EnvMongoURI, &cfg.MongoURI)
	setString(EnvMongoDatabase, &cfg.MongoDatabase)
	setString(EnvRedisAddr, &cfg.RedisAddr)
	setString(EnvRedisPassword, &cfg.RedisPassword)
	setString(EnvPresignSecret, &cfg.PresignSecret)
	if err := setInt(EnvMaxNodeParallelism, &cfg.MaxNodeParallelism); err != nil {
		return err
	}
	if err := setInt(EnvNodeDeadline, &cfg.NodeDeadlineSeconds); err != nil {
		return err
	}
	if err := setInt(EnvPresignTTL, &cfg.PresignTTLSeconds); err != nil {
		return err
	}
	if err := setFloat(EnvDispatchRate, &cfg.DispatchRatePerSecond); err != nil {
		return err
	}
	if v, ok := os.LookupEnv(EnvDebug); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDebug, err)
		}
		cfg.Debug = b
	}
	return nil
}

func setString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(key string, dst *float64) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}
