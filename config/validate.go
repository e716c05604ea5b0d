package config

import (
	"fmt"
	"net"
	"strings"

	"capstack/tranche"
)

const maxBasisPoints = 10_000

// Validate checks the scalar configuration fields. Cover amounts are parsed
// and validated later by PoolConfig.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return fmt.Errorf("node: invalid ListenAddress %q: %w", c.ListenAddress, err)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("node: DataDir required")
	}
	kind := tranche.PolicyKind(strings.TrimSpace(c.Pool.PolicyKind))
	switch kind {
	case tranche.PolicyRiskAdjusted, tranche.PolicyFixedSeniorYield:
	default:
		return fmt.Errorf("pool: unknown PolicyKind %q", c.Pool.PolicyKind)
	}
	if kind == tranche.PolicyRiskAdjusted && c.Pool.PolicyRateBps > maxBasisPoints {
		return fmt.Errorf("pool: risk adjustment %d bps exceeds %d", c.Pool.PolicyRateBps, maxBasisPoints)
	}
	if c.Pool.MaxSeniorJuniorRatioBps == 0 {
		return fmt.Errorf("pool: MaxSeniorJuniorRatioBps required")
	}
	if c.Pool.ProfitFeeBps > maxBasisPoints {
		return fmt.Errorf("pool: ProfitFeeBps %d exceeds %d", c.Pool.ProfitFeeBps, maxBasisPoints)
	}
	for _, entry := range c.Pool.Covers {
		if strings.TrimSpace(entry.Name) == "" {
			return fmt.Errorf("pool: cover entries need a Name")
		}
		if entry.CoverRateBps > maxBasisPoints {
			return fmt.Errorf("pool: cover %q CoverRateBps %d exceeds %d", entry.Name, entry.CoverRateBps, maxBasisPoints)
		}
	}
	if strings.TrimSpace(c.Epoch.CronSpec) == "" {
		return fmt.Errorf("epoch: CronSpec required")
	}
	if strings.TrimSpace(c.RPC.SecretEnv) == "" {
		return fmt.Errorf("rpc: SecretEnv required")
	}
	switch c.History.Driver {
	case "sqlite", "postgres", "off":
	default:
		return fmt.Errorf("history: unknown Driver %q", c.History.Driver)
	}
	if c.History.Driver == "postgres" && strings.TrimSpace(c.History.DSN) == "" {
		return fmt.Errorf("history: postgres Driver needs a DSN")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0, 1]")
	}
	return nil
}
