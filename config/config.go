package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"termrepo/crypto"
)

// Config is the top-level service configuration, loaded from TOML.
type Config struct {
	Service     string `toml:"service"`
	Environment string `toml:"environment"`
	// DataDir holds the LevelDB state store.
	DataDir string `toml:"data_dir"`
	// MetricsAddress is the listen address of the Prometheus endpoint; empty
	// disables the listener.
	MetricsAddress string `toml:"metrics_address"`

	// Treasury receives servicing fees; Reserve receives the post-default
	// liquidation carve-out. Both are bech32 addresses.
	Treasury string `toml:"treasury"`
	Reserve  string `toml:"reserve"`
	// ServicerAddress is the module account holding pooled auction proceeds,
	// repayments and collateral custody.
	ServicerAddress string `toml:"servicer_address"`

	// ProtocolSeizureBps is the reserve's basis-point share of collateral
	// seized after default.
	ProtocolSeizureBps uint64 `toml:"protocol_seizure_bps"`

	Pauses Pauses `toml:"pauses"`
}

// Pauses administratively halts individual modules. It satisfies the pause
// view the engines consult before every mutation.
type Pauses struct {
	Ledger      bool `toml:"ledger"`
	Auction     bool `toml:"auction"`
	Rollover    bool `toml:"rollover"`
	Liquidation bool `toml:"liquidation"`
}

// IsPaused reports whether the named module is halted.
func (p Pauses) IsPaused(module string) bool {
	switch module {
	case "ledger":
		return p.Ledger
	case "auction":
		return p.Auction
	case "rollover":
		return p.Rollover
	case "liquidation":
		return p.Liquidation
	default:
		return false
	}
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Service:            "termrepod",
		Environment:        "dev",
		DataDir:            "./data",
		MetricsAddress:     ":9464",
		ProtocolSeizureBps: 500,
	}
}

// Load reads and validates the TOML file at path. A missing path yields the
// defaults, which still require the address fields to be set.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks address formats and parameter bounds.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.ProtocolSeizureBps > 10_000 {
		return fmt.Errorf("config: protocol_seizure_bps %d exceeds 10000", c.ProtocolSeizureBps)
	}
	for field, value := range map[string]string{
		"treasury":         c.Treasury,
		"reserve":          c.Reserve,
		"servicer_address": c.ServicerAddress,
	} {
		if _, err := crypto.DecodeAddress(value); err != nil {
			return fmt.Errorf("config: %s: %w", field, err)
		}
	}
	return nil
}

// TreasuryAddress decodes the treasury address. Call Validate first.
func (c Config) TreasuryAddress() (crypto.Address, error) {
	return crypto.DecodeAddress(c.Treasury)
}

// ReserveAddress decodes the reserve address.
func (c Config) ReserveAddress() (crypto.Address, error) {
	return crypto.DecodeAddress(c.Reserve)
}

// Servicer decodes the module account address.
func (c Config) Servicer() (crypto.Address, error) {
	return crypto.DecodeAddress(c.ServicerAddress)
}
