package cli

import (
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/bhandras/greeter/internal/crypto"
	"github.com/bhandras/greeter/internal/relay"
	"github.com/bhandras/greeter/internal/storage"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

const defaultPairingTTL = 24 * time.Hour

func (a *app) newPairCommand() *cobra.Command {
	var (
		ttl  time.Duration
		noQR bool
	)
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Create a wallet pairing and print the bridge link",
		Long: `pair mints a fresh pairing, replacing the previous one. Open the printed
link in the browser that holds your wallet and keep the tab open.

The relay must share this machine's ~/.greeter/bridge.key; greeter-relay
started with the same home directory does.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}
			link, rec, err := a.pair(ttl)
			if err != nil {
				return err
			}
			return printPairing(cmd.OutOrStdout(), link, rec, !noQR)
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", defaultPairingTTL, "how long the pairing stays valid")
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "do not print a QR code")
	return cmd
}

// pair mints and stores a new pairing, returning the wallet link.
func (a *app) pair(ttl time.Duration) (string, *storage.PairingRecord, error) {
	key, err := storage.GetOrCreateSecretKey(a.cfg.BridgeKey)
	if err != nil {
		return "", nil, err
	}
	manager, err := crypto.NewJWTManager(key)
	if err != nil {
		return "", nil, err
	}
	pairing, err := manager.NewPairing(ttl)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create pairing: %w", err)
	}

	rec := &storage.PairingRecord{
		ID:        pairing.ID,
		DappToken: pairing.DappToken,
		RelayURL:  a.cfg.RelayURL,
		ExpiresAt: pairing.ExpiresAt,
	}
	if err := storage.SavePairing(a.cfg.PairingFile, rec); err != nil {
		return "", nil, err
	}
	return bridgeLink(a.cfg.RelayURL, pairing.WalletToken), rec, nil
}

// bridgeLink puts the wallet token in the fragment so browsers never send it
// to the relay.
func bridgeLink(relayURL, walletToken string) string {
	fragment := url.Values{"token": {walletToken}}.Encode()
	return relayURL + relay.BridgePath + "#" + fragment
}

func printPairing(w io.Writer, link string, rec *storage.PairingRecord, withQR bool) error {
	fmt.Fprintf(w, "Pairing %s, valid until %s.\n", rec.ID, rec.ExpiresAt.Local().Format(time.RFC1123))
	fmt.Fprintf(w, "Open this link in the browser that holds your wallet:\n\n  %s\n\n", link)
	if !withQR {
		return nil
	}
	qr, err := qrcode.New(link, qrcode.Low)
	if err != nil {
		return fmt.Errorf("failed to render QR code: %w", err)
	}
	_, err = io.WriteString(w, qr.ToSmallString(false))
	return err
}
