package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xraph/remittance/extension"
	"github.com/xraph/remittance/natsbridge"
)

// envJWTSecret overrides remittance.jwt_secret so the secret can stay out
// of the config file.
const envJWTSecret = "REMITTANCE_JWT_SECRET"

// fileConfig is the layout of the YAML config file.
type fileConfig struct {
	Listen     string            `yaml:"listen"`
	Log        logConfig         `yaml:"log"`
	Metrics    bool              `yaml:"metrics"`
	NATS       natsbridge.Config `yaml:"nats"`
	Remittance extension.Config  `yaml:"remittance"`
}

type logConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultConfig() fileConfig {
	return fileConfig{
		Listen:     ":8080",
		Log:        logConfig{Level: "info", Format: "json"},
		Metrics:    true,
		Remittance: extension.DefaultConfig(),
	}
}

// loadConfig reads path over the defaults. An empty path yields the
// defaults alone.
func loadConfig(path string) (fileConfig, error) {
	cfg := defaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if secret := os.Getenv(envJWTSecret); secret != "" {
		cfg.Remittance.JWTSecret = secret
	}
	return cfg, nil
}

func newLogger(cfg logConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log format %q: want json or text", cfg.Format)
	}
}
