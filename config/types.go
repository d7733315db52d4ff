package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support TOML and YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalText parses human readable duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := string(text)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// NetworkConfig holds the path router account and the network fee policy.
type NetworkConfig struct {
	Address            string `toml:"Address" yaml:"address"`
	ReferenceAsset     string `toml:"ReferenceAsset" yaml:"reference_asset"`
	FeeWallet          string `toml:"FeeWallet" yaml:"fee_wallet"`
	NetworkFeePPM      uint32 `toml:"NetworkFeePPM" yaml:"network_fee_ppm"`
	MaxAffiliateFeePPM uint32 `toml:"MaxAffiliateFeePPM" yaml:"max_affiliate_fee_ppm"`
	MaxHops            int    `toml:"MaxHops" yaml:"max_hops"`
}

// AssetConfig registers a fungible asset at genesis.
type AssetConfig struct {
	Address  string          `toml:"Address" yaml:"address"`
	Symbol   string          `toml:"Symbol" yaml:"symbol"`
	Decimals uint8           `toml:"Decimals" yaml:"decimals"`
	Kind     string          `toml:"Kind" yaml:"kind"`
	Owner    string          `toml:"Owner" yaml:"owner"`
	Balances []BalanceConfig `toml:"Balances" yaml:"balances"`
}

// BalanceConfig mints Amount of the enclosing asset to Account.
type BalanceConfig struct {
	Account string `toml:"Account" yaml:"account"`
	Amount  string `toml:"Amount" yaml:"amount"`
	// ApproveNetwork grants the network an unlimited allowance so the account
	// can trade through the RPC surface.
	ApproveNetwork bool `toml:"ApproveNetwork" yaml:"approve_network"`
}

// PoolConfig creates, funds and activates a converter at genesis. The anchor
// must be a registered asset owned by Owner; Owner provides the initial
// liquidity.
type PoolConfig struct {
	Anchor              string          `toml:"Anchor" yaml:"anchor"`
	Converter           string          `toml:"Converter" yaml:"converter"`
	Owner               string          `toml:"Owner" yaml:"owner"`
	Type                string          `toml:"Type" yaml:"type"`
	ConversionFeePPM    uint32          `toml:"ConversionFeePPM" yaml:"conversion_fee_ppm"`
	MaxConversionFeePPM uint32          `toml:"MaxConversionFeePPM" yaml:"max_conversion_fee_ppm"`
	AverageRateWindow   Duration        `toml:"AverageRateWindow" yaml:"average_rate_window"`
	Rate                RateConfig      `toml:"Rate" yaml:"rate"`
	Reserves            []ReserveConfig `toml:"Reserves" yaml:"reserves"`
}

// RateConfig is the secondary-per-primary rate of a fixed-rate pool.
type RateConfig struct {
	N string `toml:"N" yaml:"n"`
	D string `toml:"D" yaml:"d"`
}

// ReserveConfig is one reserve of a pool and its initial deposit.
type ReserveConfig struct {
	Asset  string `toml:"Asset" yaml:"asset"`
	Weight uint32 `toml:"Weight" yaml:"weight"`
	Amount string `toml:"Amount" yaml:"amount"`
}

// HistoryConfig selects the conversion history database.
type HistoryConfig struct {
	Driver    string `toml:"Driver" yaml:"driver"`
	DSN       string `toml:"DSN" yaml:"dsn"`
	ExportDir string `toml:"ExportDir" yaml:"export_dir"`
}

// RPCConfig configures the HTTP surface.
type RPCConfig struct {
	ListenAddress string   `toml:"ListenAddress" yaml:"listen"`
	JWTSecretEnv  string   `toml:"JWTSecretEnv" yaml:"jwt_secret_env"`
	JWTIssuer     string   `toml:"JWTIssuer" yaml:"jwt_issuer"`
	RateLimit     float64  `toml:"RateLimit" yaml:"rate_limit"`
	RateBurst     int      `toml:"RateBurst" yaml:"rate_burst"`
	ReadTimeout   Duration `toml:"ReadTimeout" yaml:"read_timeout"`
	WriteTimeout  Duration `toml:"WriteTimeout" yaml:"write_timeout"`

	// AllowedOrigins are host patterns accepted for websocket upgrades. Empty
	// means same-origin only.
	AllowedOrigins []string `toml:"AllowedOrigins" yaml:"allowed_origins"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	ServiceName string `toml:"ServiceName" yaml:"service_name"`
	Endpoint    string `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool   `toml:"Insecure" yaml:"insecure"`
	Headers     string `toml:"Headers" yaml:"headers"`
	Traces      bool   `toml:"Traces" yaml:"traces"`
	Metrics     bool   `toml:"Metrics" yaml:"metrics"`
}

// LoggingConfig configures the optional rotating log file.
type LoggingConfig struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
	Compress   bool   `toml:"Compress" yaml:"compress"`
}
