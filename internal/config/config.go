// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"tigsync/internal/errors"
)

// Config is the sync server configuration.
type Config struct {
	Server struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  int    `json:"read_timeout_seconds"`
		WriteTimeout int    `json:"write_timeout_seconds"`
	} `json:"server"`

	Storage struct {
		Root    string   `json:"root"`    // directory holding one subdirectory per repository
		Backend string   `json:"backend"` // local, s3
		S3      S3Config `json:"s3"`
	} `json:"storage"`

	Auth struct {
		Enabled   bool   `json:"enabled"`
		GateReads bool   `json:"gate_reads"`
		Secret    string `json:"secret"`
		DBPath    string `json:"db_path"`
	} `json:"auth"`

	Metrics struct {
		Enabled bool `json:"enabled"`
	} `json:"metrics"`

	RefCacheSize int `json:"ref_cache_size"`

	// PublicURL is the externally reachable base url, reported as the remote
	// url of every repository.
	PublicURL string `json:"public_url"`

	Environment string `json:"environment"` // dev, prod
	LogLevel    string `json:"log_level"`   // debug, info, warn, error
	LogFile     string `json:"log_file"`    // optional rotated log file
}

// S3Config holds chunk backend settings for S3 or S3-compatible stores.
type S3Config struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Prefix    string `json:"prefix"`
}

// Default returns a configuration usable for local development.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 60
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 300
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "data/repos"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Auth.DBPath == "" {
		c.Auth.DBPath = "data/tokens"
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	if c.RefCacheSize == 0 {
		c.RefCacheSize = 1024
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// applyEnv lets secrets come from the environment instead of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("TIG_AUTH_SECRET"); v != "" {
		c.Auth.Secret = v
	}
	if v := os.Getenv("TIG_S3_ACCESS_KEY"); v != "" {
		c.Storage.S3.AccessKey = v
	}
	if v := os.Getenv("TIG_S3_SECRET_KEY"); v != "" {
		c.Storage.S3.SecretKey = v
	}
	if v := os.Getenv("TIG_PUBLIC_URL"); v != "" {
		c.PublicURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("TIG_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Config(fmt.Sprintf("invalid server port %d", c.Server.Port))
	}
	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return errors.Config("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return errors.Config(fmt.Sprintf("unknown storage backend %q", c.Storage.Backend))
	}
	if c.Auth.Enabled && len(c.Auth.Secret) < 16 {
		return errors.Config("auth.secret must be at least 16 characters when auth is enabled")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Config(fmt.Sprintf("invalid log level %q", c.LogLevel))
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Path returns the config file for the TIG_ENV environment.
func Path() string {
	env := os.Getenv("TIG_ENV")
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("config/config.%s.json", env)
}

// Load reads a JSON config file, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeConfig, fmt.Sprintf("opening %s", path), err)
	}
	defer file.Close()

	var config Config
	if err := json.NewDecoder(file).Decode(&config); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeConfig, fmt.Sprintf("decoding %s", path), err)
	}

	config.applyDefaults()
	config.applyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
