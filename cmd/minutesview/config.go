package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/MegaGrindStone/minutes-web-ui/internal/services"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type config struct {
	Port           string
	PublicIP       string
	QueryURL       string
	Greeting       string
	RequestTimeout time.Duration
	LogLevel       string
	Store          storeConfig
	Sessions       sessionsConfig
}

type storeConfig struct {
	Path string `yaml:"path"`
}

type sessionsConfig struct {
	Max         int
	IdleTimeout time.Duration
}

const (
	defaultPort           = "8080"
	defaultRequestTimeout = 5 * time.Minute
	defaultMaxSessions    = 1000
	defaultSessionIdle    = 30 * time.Minute

	envPublicIP = "MINUTES_PUBLIC_IP"
	envQueryURL = "MINUTES_QUERY_URL"
	envPort     = "MINUTES_PORT"
)

var errNoEndpoint = errors.New("query endpoint is not configured: set publicIP or queryURL")

func defaultConfig() config {
	return config{
		Port:           defaultPort,
		RequestTimeout: defaultRequestTimeout,
		LogLevel:       "info",
		Sessions: sessionsConfig{
			Max:         defaultMaxSessions,
			IdleTimeout: defaultSessionIdle,
		},
	}
}

func defaultConfigPath() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, "minutesview", "config.yaml"), nil
}

// loadConfig reads .env, then the YAML file at path, then the environment overrides. When path is
// empty the default location is used, and a missing file there just means defaults.
func loadConfig(path string) (config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config{}, fmt.Errorf("error loading .env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		p, err := defaultConfigPath()
		if err != nil {
			return config{}, err
		}
		path = p
	}

	cfg := defaultConfig()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Port           string      `yaml:"port"`
		PublicIP       string      `yaml:"publicIP"`
		QueryURL       string      `yaml:"queryURL"`
		Greeting       string      `yaml:"greeting"`
		RequestTimeout string      `yaml:"requestTimeout"`
		LogLevel       string      `yaml:"logLevel"`
		Store          storeConfig `yaml:"store"`
		Sessions       struct {
			Max         *int   `yaml:"max"`
			IdleTimeout string `yaml:"idleTimeout"`
		} `yaml:"sessions"`
	}

	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.Port != "" {
		c.Port = raw.Port
	}
	if raw.RequestTimeout != "" {
		d, err := parsePositiveDuration("requestTimeout", raw.RequestTimeout)
		if err != nil {
			return err
		}
		c.RequestTimeout = d
	}
	if raw.Sessions.Max != nil {
		if *raw.Sessions.Max < 0 {
			return fmt.Errorf("sessions.max must not be negative, got %d", *raw.Sessions.Max)
		}
		c.Sessions.Max = *raw.Sessions.Max
	}
	if raw.Sessions.IdleTimeout != "" {
		d, err := parsePositiveDuration("sessions.idleTimeout", raw.Sessions.IdleTimeout)
		if err != nil {
			return err
		}
		c.Sessions.IdleTimeout = d
	}
	if raw.LogLevel != "" {
		c.LogLevel = raw.LogLevel
	}
	c.PublicIP = raw.PublicIP
	c.QueryURL = raw.QueryURL
	c.Greeting = raw.Greeting
	c.Store = raw.Store

	return nil
}

func parsePositiveDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return d, nil
}

func (c *config) applyEnv() {
	if v := os.Getenv(envPublicIP); v != "" {
		c.PublicIP = v
	}
	if v := os.Getenv(envQueryURL); v != "" {
		c.QueryURL = v
	}
	if v := os.Getenv(envPort); v != "" {
		c.Port = v
	}
}

// endpoint is the query URL: queryURL when set, otherwise derived from publicIP.
func (c config) endpoint() (string, error) {
	if c.QueryURL != "" {
		return c.QueryURL, nil
	}
	if c.PublicIP != "" {
		return services.QueryURL(c.PublicIP), nil
	}
	return "", errNoEndpoint
}
