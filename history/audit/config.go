package audit

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the file configuration for an audit run.
type Config struct {
	History   HistoryConfig `yaml:"history"`
	OutputDir string        `yaml:"output_dir"`
}

// HistoryConfig points at the history database to audit.
type HistoryConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LoadConfig reads and validates the YAML configuration at path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.History.Driver) == "" {
		cfg.History.Driver = "sqlite"
	}
	if cfg.History.Driver == "sqlite" && strings.TrimSpace(cfg.History.DSN) == "" {
		cfg.History.DSN = "./capstack-data/history.db"
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		cfg.OutputDir = "./capstack-audit"
	}
}

func validateConfig(cfg Config) error {
	switch cfg.History.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("history: unknown driver %q", cfg.History.Driver)
	}
	if strings.TrimSpace(cfg.History.DSN) == "" {
		return fmt.Errorf("history: dsn required")
	}
	return nil
}

// HistoryDSN returns the configured DSN forced into read-only mode where the
// driver supports it. The audit never writes to the history store.
func (c Config) HistoryDSN() string {
	return readOnlyDSN(c.History.Driver, c.History.DSN)
}

func readOnlyDSN(driver, dsn string) string {
	switch driver {
	case "sqlite":
		if strings.Contains(dsn, "mode=") {
			return dsn
		}
		if !strings.HasPrefix(dsn, "file:") {
			dsn = "file:" + dsn
		}
		if strings.Contains(dsn, "?") {
			return dsn + "&mode=ro"
		}
		return dsn + "?mode=ro"
	case "postgres":
		if strings.Contains(dsn, "://") || strings.Contains(dsn, "default_transaction_read_only") {
			return dsn
		}
		return strings.TrimSpace(dsn + " default_transaction_read_only=on")
	}
	return dsn
}
