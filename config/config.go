/*
Package config loads server settings.

SOURCES (later wins):
  1. .env file in the working directory (optional)
  2. Process environment
  3. Command-line flags

KEYS:
  PORT                -port         HTTP port (8080)
  DATABASE_PATH       -db           SQLite path, ":memory:" allowed (commissions.db)
  LOG_MODE            -log          "debug" for console output, else JSON (production)
  RULES_FILE          -rules        JSON rule book; empty uses the built-in v1 table
  RECOMPUTE_INTERVAL  -recompute    background recompute period, 0 disables (1h)
  CORS_ORIGINS        -cors         comma separated allowed origins (*)
*/
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              int
	DatabasePath      string
	LogMode           string
	RulesFile         string
	RecomputeInterval time.Duration
	CORSOrigins       []string

	// EnvFileLoaded reports whether a .env file was found.
	EnvFileLoaded bool
}

// Load reads .env, the environment and then args (usually os.Args[1:]).
func Load(args []string) (Config, error) {
	loaded := godotenv.Load() == nil
	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		return Config{}, err
	}
	cfg.EnvFileLoaded = loaded
	if err := cfg.parseFlags(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a Config from getenv, falling back to defaults.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Port:              8080,
		DatabasePath:      "commissions.db",
		LogMode:           "production",
		RecomputeInterval: time.Hour,
		CORSOrigins:       []string{"*"},
	}

	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	if v := getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := getenv("LOG_MODE"); v != "" {
		cfg.LogMode = v
	}
	cfg.RulesFile = getenv("RULES_FILE")
	if v := getenv("RECOMPUTE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RECOMPUTE_INTERVAL %q: %w", v, err)
		}
		cfg.RecomputeInterval = d
	}
	if v := getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	return cfg, nil
}

func (c *Config) parseFlags(args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.IntVar(&c.Port, "port", c.Port, "HTTP server port")
	fs.StringVar(&c.DatabasePath, "db", c.DatabasePath, "SQLite database path")
	fs.StringVar(&c.LogMode, "log", c.LogMode, "log mode: debug or production")
	fs.StringVar(&c.RulesFile, "rules", c.RulesFile, "JSON rule book file")
	fs.DurationVar(&c.RecomputeInterval, "recompute", c.RecomputeInterval, "background recompute interval (0 disables)")
	cors := fs.String("cors", strings.Join(c.CORSOrigins, ","), "allowed CORS origins, comma separated")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c.CORSOrigins = splitList(*cors)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
