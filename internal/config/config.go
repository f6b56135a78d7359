// Package config resolves greeter settings from defaults, the optional
// ~/.greeter/config.yaml, GREETER_* environment variables and command flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bhandras/greeter/internal/contract"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Keys understood by Load.
const (
	KeyHome                = "home"
	KeyRelayURL            = "relay_url"
	KeyRPCURL              = "rpc_url"
	KeyContractAddress     = "contract_address"
	KeyChainID             = "chain_id"
	KeyReceiptPollInterval = "receipt_poll_interval"
	KeyRequestTimeout      = "request_timeout"
	KeyLogLevel            = "log_level"
	KeyLogFormat           = "log_format"
	KeyDebug               = "debug"
	KeyTraceExporter       = "trace_exporter"
	KeyMetricsAddr         = "metrics_addr"
	KeyRelayAddr           = "relay_addr"
	KeyRelayRate           = "relay_rate"
	KeyRelayBurst          = "relay_burst"
)

const envPrefix = "GREETER"

// Config is the resolved configuration.
type Config struct {
	// Home is the directory where greeter keeps local state.
	Home string
	// BridgeKey is the path to the pairing secret.
	BridgeKey string
	// PairingFile holds the dapp token of the active pairing.
	PairingFile string

	// RelayURL is the base URL of the wallet relay.
	RelayURL string
	// RPCURL, when set, serves contract reads and receipts directly instead
	// of through the wallet.
	RPCURL string
	// ContractAddress is the greeter contract.
	ContractAddress common.Address
	// ChainID is the expected network, informational only.
	ChainID string

	ReceiptPollInterval time.Duration
	// RequestTimeout bounds one relay round trip.
	RequestTimeout time.Duration

	LogLevel  string
	LogFormat string
	// Debug forces debug logging.
	Debug bool

	TraceExporter string
	// MetricsAddr enables the metrics listener when non-empty.
	MetricsAddr string

	// Relay server settings.
	RelayAddr  string
	RelayRate  float64
	RelayBurst int
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyRelayURL, "http://127.0.0.1:7777")
	v.SetDefault(KeyContractAddress, contract.DefaultAddress)
	v.SetDefault(KeyReceiptPollInterval, contract.DefaultPollInterval)
	v.SetDefault(KeyRequestTimeout, 2*time.Minute)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyTraceExporter, "none")
	v.SetDefault(KeyRelayAddr, ":7777")
	v.SetDefault(KeyRelayRate, 5.0)
	v.SetDefault(KeyRelayBurst, 10)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load resolves the configuration held by v, reading config.yaml from the
// home directory when present. The home directory is created 0700.
func Load(v *viper.Viper) (*Config, error) {
	home := v.GetString(KeyHome)
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		home = filepath.Join(userHome, ".greeter")
	}
	if err := os.MkdirAll(home, 0700); err != nil {
		return nil, fmt.Errorf("failed to create greeter home: %w", err)
	}

	v.SetConfigFile(filepath.Join(home, "config.yaml"))
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	rawAddr := v.GetString(KeyContractAddress)
	if !common.IsHexAddress(rawAddr) {
		return nil, fmt.Errorf("invalid %s %q", KeyContractAddress, rawAddr)
	}

	cfg := &Config{
		Home:                home,
		BridgeKey:           filepath.Join(home, "bridge.key"),
		PairingFile:         filepath.Join(home, "pairing.json"),
		RelayURL:            strings.TrimRight(v.GetString(KeyRelayURL), "/"),
		RPCURL:              v.GetString(KeyRPCURL),
		ContractAddress:     common.HexToAddress(rawAddr),
		ChainID:             v.GetString(KeyChainID),
		ReceiptPollInterval: v.GetDuration(KeyReceiptPollInterval),
		RequestTimeout:      v.GetDuration(KeyRequestTimeout),
		LogLevel:            v.GetString(KeyLogLevel),
		LogFormat:           v.GetString(KeyLogFormat),
		Debug:               v.GetBool(KeyDebug),
		TraceExporter:       v.GetString(KeyTraceExporter),
		MetricsAddr:         v.GetString(KeyMetricsAddr),
		RelayAddr:           v.GetString(KeyRelayAddr),
		RelayRate:           v.GetFloat64(KeyRelayRate),
		RelayBurst:          v.GetInt(KeyRelayBurst),
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	if cfg.ReceiptPollInterval <= 0 {
		return nil, fmt.Errorf("%s must be positive", KeyReceiptPollInterval)
	}
	if cfg.RelayBurst < 1 {
		return nil, fmt.Errorf("%s must be at least 1", KeyRelayBurst)
	}
	return cfg, nil
}
