// Package config resolves service settings from built-in defaults, an
// optional YAML file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     int
	DBPath   string
	LogLevel string
	LogFile  string
	SeedPath string

	MatchWindowDays int
	MatchMinScore   int

	AutoMatchInterval time.Duration
	AutoMatchTenants  []string
}

type configFile struct {
	Server struct {
		Port     int    `yaml:"port"`
		DBPath   string `yaml:"db_path"`
		SeedPath string `yaml:"seed_path"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	Matching struct {
		WindowDays int `yaml:"window_days"`
		MinScore   int `yaml:"min_score"`
	} `yaml:"matching"`
	AutoMatch struct {
		IntervalSeconds int      `yaml:"interval_seconds"`
		Tenants         []string `yaml:"tenants"`
	} `yaml:"automatch"`
}

func defaults() Config {
	return Config{
		Port:              8080,
		DBPath:            "hotelops.db",
		LogLevel:          "info",
		MatchWindowDays:   7,
		MatchMinScore:     40,
		AutoMatchInterval: 300 * time.Second,
	}
}

// Load builds the configuration. A missing file at path is not an error; an
// empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.Port = envInt("PORT", cfg.Port)
	cfg.DBPath = envOrDefault("DB_PATH", cfg.DBPath)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = envOrDefault("LOG_FILE", cfg.LogFile)
	cfg.SeedPath = envOrDefault("SEED_PATH", cfg.SeedPath)
	cfg.MatchWindowDays = envInt("MATCH_WINDOW_DAYS", cfg.MatchWindowDays)
	cfg.MatchMinScore = envInt("MATCH_MIN_SCORE", cfg.MatchMinScore)
	cfg.AutoMatchInterval = time.Duration(envInt("AUTOMATCH_INTERVAL_SECONDS", int(cfg.AutoMatchInterval.Seconds()))) * time.Second
	cfg.AutoMatchTenants = envCSV("AUTOMATCH_TENANTS", cfg.AutoMatchTenants)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Server.Port > 0 {
		cfg.Port = f.Server.Port
	}
	if f.Server.DBPath != "" {
		cfg.DBPath = f.Server.DBPath
	}
	if f.Server.SeedPath != "" {
		cfg.SeedPath = f.Server.SeedPath
	}
	if f.Log.Level != "" {
		cfg.LogLevel = f.Log.Level
	}
	if f.Log.File != "" {
		cfg.LogFile = f.Log.File
	}
	if f.Matching.WindowDays > 0 {
		cfg.MatchWindowDays = f.Matching.WindowDays
	}
	if f.Matching.MinScore > 0 {
		cfg.MatchMinScore = f.Matching.MinScore
	}
	if f.AutoMatch.IntervalSeconds > 0 {
		cfg.AutoMatchInterval = time.Duration(f.AutoMatch.IntervalSeconds) * time.Second
	}
	if len(f.AutoMatch.Tenants) > 0 {
		cfg.AutoMatchTenants = trimNonEmpty(f.AutoMatch.Tenants)
	}
	return nil
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("db path must not be empty")
	}
	if c.MatchWindowDays <= 0 {
		return fmt.Errorf("match window must be at least one day, got %d", c.MatchWindowDays)
	}
	if c.AutoMatchInterval < time.Second {
		return fmt.Errorf("auto-match interval %s is too short", c.AutoMatchInterval)
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return trimNonEmpty(strings.Split(raw, ","))
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
