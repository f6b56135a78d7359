// Package cli implements the greeter and greeter-relay command trees.
package cli

import (
	"fmt"
	"time"

	"github.com/bhandras/greeter/internal/config"
	"github.com/bhandras/greeter/internal/version"
	"github.com/bhandras/greeter/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// defaultWalletWait bounds how long session commands wait for the bridge page
// before connecting anyway.
const defaultWalletWait = 2 * time.Minute

// app carries the state shared by one command tree.
type app struct {
	v   *viper.Viper
	cfg *config.Config

	walletWait time.Duration
}

// flagSpec binds one command-line flag to a config key.
type flagSpec struct {
	name  string
	key   string
	usage string
	def   any
}

var sharedFlags = []flagSpec{
	{"home", config.KeyHome, "state directory (default ~/.greeter)", ""},
	{"log-level", config.KeyLogLevel, "trace, debug, info, warn or error", ""},
	{"log-format", config.KeyLogFormat, "console or json", ""},
	{"debug", config.KeyDebug, "shorthand for --log-level=debug", false},
	{"request-timeout", config.KeyRequestTimeout, "bound on one wallet round trip", time.Duration(0)},
}

var sessionFlags = []flagSpec{
	{"relay-url", config.KeyRelayURL, "base URL of the wallet relay", ""},
	{"rpc-url", config.KeyRPCURL, "JSON-RPC endpoint for reads and receipts (default: through the wallet)", ""},
	{"contract", config.KeyContractAddress, "greeter contract address", ""},
	{"chain-id", config.KeyChainID, "expected chain id; a mismatch is logged", ""},
	{"poll-interval", config.KeyReceiptPollInterval, "receipt polling interval", time.Duration(0)},
	{"trace-exporter", config.KeyTraceExporter, "none or stdout", ""},
	{"metrics-addr", config.KeyMetricsAddr, "serve Prometheus metrics on this address", ""},
}

var relayFlags = []flagSpec{
	{"addr", config.KeyRelayAddr, "listen address", ""},
	{"rate", config.KeyRelayRate, "wallet requests per second per pairing", 0.0},
	{"burst", config.KeyRelayBurst, "request burst per pairing", 0},
}

// addFlags registers specs on flags and binds them to v. Flag defaults are
// zero values; the real defaults live in config.New so a flag only wins when
// it is set explicitly.
func addFlags(v *viper.Viper, flags *pflag.FlagSet, specs []flagSpec) {
	for _, spec := range specs {
		switch def := spec.def.(type) {
		case string:
			flags.String(spec.name, def, spec.usage)
		case bool:
			flags.Bool(spec.name, def, spec.usage)
		case time.Duration:
			flags.Duration(spec.name, def, spec.usage)
		case float64:
			flags.Float64(spec.name, def, spec.usage)
		case int:
			flags.Int(spec.name, def, spec.usage)
		default:
			panic(fmt.Sprintf("unsupported flag type %T", def))
		}
		_ = v.BindPFlag(spec.key, flags.Lookup(spec.name))
	}
}

// load resolves the configuration and applies the logging settings.
func (a *app) load() error {
	cfg, err := config.Load(a.v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	format, err := logger.ParseFormat(cfg.LogFormat)
	if err != nil {
		return err
	}
	logger.SetFormat(format)
	logger.SetLevel(level)
	logger.Debugf("Config: home=%s relay=%s contract=%s", cfg.Home, cfg.RelayURL, cfg.ContractAddress.Hex())
	a.cfg = cfg
	return nil
}

// NewRootCommand builds the greeter command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: config.New(), walletWait: defaultWalletWait}

	root := &cobra.Command{
		Use:   "greeter",
		Short: "Read and update the on-chain greeting through your browser wallet",
		Long: `greeter talks to the greeting contract through a wallet running in your
browser. Run "greeter pair" once, open the printed link next to your wallet,
then use read, write or watch.`,
		Version:       version.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.SetVersionTemplate("greeter {{.Version}}\n")

	addFlags(a.v, root.PersistentFlags(), sharedFlags)
	addFlags(a.v, root.PersistentFlags(), sessionFlags)
	root.PersistentFlags().DurationVar(&a.walletWait, "wait", defaultWalletWait, "how long to wait for the wallet bridge page")

	root.AddCommand(
		a.newReadCommand(),
		a.newWriteCommand(),
		a.newWatchCommand(),
		a.newPairCommand(),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		// Skip config loading.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "greeter %s\n", version.Rich())
			return err
		},
	}
}
