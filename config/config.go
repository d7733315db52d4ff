package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"convertnet/crypto"
	nativecommon "convertnet/native/common"
)

const (
	defaultEnvironment   = "dev"
	defaultListenAddress = ":8547"
	defaultServiceName   = "convertnetd"
	defaultRateLimit     = 20
	defaultRateBurst     = 40
	defaultTimeout       = 15 * time.Second
	defaultJWTSecretEnv  = "CONVERTNET_JWT_SECRET"
	defaultMaxLogSizeMB  = 100
)

// State backends for DataDir.
const (
	StateLevelDB = "leveldb"
	StateBolt    = "bolt"
)

// Config is the daemon configuration: genesis state plus the runtime knobs of
// every surface.
type Config struct {
	Environment  string   `toml:"Environment" yaml:"environment"`
	DataDir      string   `toml:"DataDir" yaml:"data_dir"`
	// StateBackend picks the store under DataDir: leveldb or bolt.
	StateBackend string   `toml:"StateBackend" yaml:"state_backend"`
	Pauses       []string `toml:"Pauses" yaml:"pauses"`

	Network   NetworkConfig   `toml:"Network" yaml:"network"`
	Assets    []AssetConfig   `toml:"Assets" yaml:"assets"`
	Pools     []PoolConfig    `toml:"Pools" yaml:"pools"`
	History   HistoryConfig   `toml:"History" yaml:"history"`
	RPC       RPCConfig       `toml:"RPC" yaml:"rpc"`
	Telemetry TelemetryConfig `toml:"Telemetry" yaml:"telemetry"`
	Logging   LoggingConfig   `toml:"Logging" yaml:"logging"`
}

// Load reads the configuration from path. Files ending in .yaml or .yml are
// decoded as YAML, everything else as TOML.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path required")
	}
	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
		}
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = defaultEnvironment
	}
	if cfg.StateBackend == "" {
		cfg.StateBackend = StateLevelDB
	}
	for i := range cfg.Assets {
		cfg.Assets[i].Symbol = NormalizeSymbol(cfg.Assets[i].Symbol)
	}
	if cfg.RPC.ListenAddress == "" {
		cfg.RPC.ListenAddress = defaultListenAddress
	}
	if cfg.RPC.JWTSecretEnv == "" {
		cfg.RPC.JWTSecretEnv = defaultJWTSecretEnv
	}
	if cfg.RPC.RateLimit == 0 {
		cfg.RPC.RateLimit = defaultRateLimit
	}
	if cfg.RPC.RateBurst == 0 {
		cfg.RPC.RateBurst = defaultRateBurst
	}
	if cfg.RPC.ReadTimeout.Duration == 0 {
		cfg.RPC.ReadTimeout.Duration = defaultTimeout
	}
	if cfg.RPC.WriteTimeout.Duration == 0 {
		cfg.RPC.WriteTimeout.Duration = defaultTimeout
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = defaultServiceName
	}
	if cfg.History.Driver == "" {
		cfg.History.Driver = "sqlite"
	}
	if cfg.History.DSN == "" && cfg.History.Driver == "sqlite" && cfg.DataDir != "" {
		cfg.History.DSN = filepath.Join(cfg.DataDir, "history.db")
	}
	if cfg.History.ExportDir == "" && cfg.DataDir != "" {
		cfg.History.ExportDir = filepath.Join(cfg.DataDir, "exports")
	}
	if cfg.Logging.File != "" && cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = defaultMaxLogSizeMB
	}
}

// NormalizeSymbol folds compatibility forms and case so that visually equal
// ticker symbols compare equal.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(norm.NFKC.String(strings.TrimSpace(symbol)))
}

// PauseSet returns the modules paused by configuration.
func (c *Config) PauseSet() nativecommon.PauseSet {
	return nativecommon.NewPauseSet(c.Pauses)
}

// Address parses a hex or bech32 address field.
func Address(field, value string) (common.Address, error) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

// OptionalAddress is Address that maps an empty value to the zero address.
func OptionalAddress(field, value string) (common.Address, error) {
	if strings.TrimSpace(value) == "" {
		return common.Address{}, nil
	}
	return Address(field, value)
}

// Amount parses a base-10 amount field. Empty values are zero.
func Amount(field, value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid amount %q: %w", field, value, err)
	}
	return amount, nil
}
