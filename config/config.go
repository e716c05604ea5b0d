package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration. Amount-valued fields are decimal
// strings so they are not bound by TOML integer width.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
	LogMaxAgeDays int    `toml:"LogMaxAgeDays"`

	Pool      Pool      `toml:"pool"`
	Epoch     Epoch     `toml:"epoch"`
	RPC       RPC       `toml:"rpc"`
	History   History   `toml:"history"`
	Telemetry Telemetry `toml:"telemetry"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists. Unknown keys are rejected so typos fail fast instead of
// silently running with defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./capstack-data"
	}
	if strings.TrimSpace(c.Epoch.CronSpec) == "" {
		c.Epoch.CronSpec = "0 0 0 * * *"
	}
	if strings.TrimSpace(c.RPC.SecretEnv) == "" {
		c.RPC.SecretEnv = "CAPSTACK_RPC_SECRET"
	}
	if c.RPC.AuthSkewSecs == 0 {
		c.RPC.AuthSkewSecs = 120
	}
	if c.RPC.RateLimitPerMinute == 0 {
		c.RPC.RateLimitPerMinute = 600
	}
	if c.RPC.IdempotencyTTLSecs == 0 {
		c.RPC.IdempotencyTTLSecs = 86_400
	}
	if strings.TrimSpace(c.History.Driver) == "" {
		c.History.Driver = "sqlite"
	}
	if c.History.Driver == "sqlite" && strings.TrimSpace(c.History.DSN) == "" {
		c.History.DSN = filepath.Join(c.DataDir, "history.db")
	}
	if c.Telemetry.SampleRatio == 0 {
		c.Telemetry.SampleRatio = 1
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./capstack-data",
		Pool: Pool{
			PolicyKind:              "risk-adjusted",
			PolicyRateBps:           2_000,
			MaxSeniorJuniorRatioBps: 40_000,
			FlexWindow:              2,
		},
		Epoch: Epoch{
			CronSpec: "0 0 0 * * *",
		},
		RPC: RPC{
			AuthIssuer:         "capstack",
			AuthAudience:       "capstack-rpc",
			AuthSkewSecs:       120,
			SecretEnv:          "CAPSTACK_RPC_SECRET",
			RateLimitPerMinute: 600,
			IdempotencyTTLSecs: 86_400,
		},
		History: History{
			Driver: "sqlite",
		},
		Telemetry: Telemetry{
			SampleRatio: 1,
		},
	}
	cfg.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
