package config

import (
	"fmt"
	"math/big"
	"strings"

	"capstack/core"
	"capstack/cover"
	"capstack/tranche"
)

// Pool configures the capital structure: the profit policy, the senior
// leverage bound, and the first-loss cover schedule seeded on first boot.
type Pool struct {
	PolicyKind              string       `toml:"PolicyKind"`
	PolicyRateBps           uint64       `toml:"PolicyRateBps"`
	MaxSeniorJuniorRatioBps uint64       `toml:"MaxSeniorJuniorRatioBps"`
	FlexWindow              uint64       `toml:"FlexWindow"`
	ProfitFeeBps            uint64       `toml:"ProfitFeeBps"`
	Covers                  []CoverEntry `toml:"cover"`
}

// CoverEntry is one first-loss cover, listed in loss-absorption order.
type CoverEntry struct {
	Name                   string `toml:"Name"`
	Assets                 string `toml:"Assets"`
	RiskYieldMultiplierBps uint64 `toml:"RiskYieldMultiplierBps"`
	CoverRateBps           uint64 `toml:"CoverRateBps"`
	CoverCap               string `toml:"CoverCap"`
}

// Epoch schedules the redemption epoch close, six-field cron form with a
// leading seconds column.
type Epoch struct {
	CronSpec string `toml:"CronSpec"`
}

// RPC bounds the JSON-RPC surface. The bearer secret is read from the
// environment variable named by SecretEnv, never from this file.
type RPC struct {
	AuthIssuer         string `toml:"AuthIssuer"`
	AuthAudience       string `toml:"AuthAudience"`
	AuthSkewSecs       uint64 `toml:"AuthSkewSecs"`
	SecretEnv          string `toml:"SecretEnv"`
	AllowInsecure      bool   `toml:"AllowInsecure"`
	RateLimitPerMinute int    `toml:"RateLimitPerMinute"`
	IdempotencyTTLSecs uint64 `toml:"IdempotencyTTLSecs"`
}

// History selects the relational history backend.
type History struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Environment string  `toml:"Environment"`
	SampleRatio float64 `toml:"SampleRatio"`
	Insecure    bool    `toml:"Insecure"`
	Metrics     bool    `toml:"Metrics"`
	Traces      bool    `toml:"Traces"`
}

// PoolConfig converts the pool section into its runtime form, parsing the
// string amounts and validating each cover entry.
func (c *Config) PoolConfig() (core.Config, error) {
	out := core.Config{
		PolicyKind:              tranche.PolicyKind(strings.TrimSpace(c.Pool.PolicyKind)),
		PolicyRateBps:           c.Pool.PolicyRateBps,
		FlexWindow:              c.Pool.FlexWindow,
		MaxSeniorJuniorRatioBps: c.Pool.MaxSeniorJuniorRatioBps,
		ProfitFeeBps:            c.Pool.ProfitFeeBps,
	}
	for _, entry := range c.Pool.Covers {
		assets, err := parseAmount(entry.Assets)
		if err != nil {
			return core.Config{}, fmt.Errorf("pool.cover %q: invalid Assets: %w", entry.Name, err)
		}
		capAmount, err := parseAmount(entry.CoverCap)
		if err != nil {
			return core.Config{}, fmt.Errorf("pool.cover %q: invalid CoverCap: %w", entry.Name, err)
		}
		cv := cover.Cover{
			Name:                   strings.TrimSpace(entry.Name),
			Assets:                 assets,
			CoveredLoss:            big.NewInt(0),
			RiskYieldMultiplierBps: entry.RiskYieldMultiplierBps,
			CoverRateBps:           entry.CoverRateBps,
			CoverCap:               capAmount,
		}
		if err := cv.Validate(); err != nil {
			return core.Config{}, fmt.Errorf("pool.cover %q: %w", entry.Name, err)
		}
		out.Covers = append(out.Covers, cv)
	}
	return out, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("not a non-negative decimal: %q", raw)
	}
	return value, nil
}
