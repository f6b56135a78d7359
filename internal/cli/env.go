package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/bhandras/greeter/internal/bridge"
	"github.com/bhandras/greeter/internal/contract"
	"github.com/bhandras/greeter/internal/metrics"
	"github.com/bhandras/greeter/internal/relay"
	"github.com/bhandras/greeter/internal/session"
	"github.com/bhandras/greeter/internal/storage"
	"github.com/bhandras/greeter/internal/tracing"
	"github.com/bhandras/greeter/internal/wallet"
	"github.com/bhandras/greeter/pkg/logger"
	"github.com/ethereum/go-ethereum/ethclient"
)

// sessionEnv is everything a session command needs, torn down by Close.
type sessionEnv struct {
	ctrl    *session.Controller
	bridge  *bridge.Client
	eth     *ethclient.Client
	tracer  *tracing.Provider
	metrics *http.Server
}

// openSession connects to the relay with the stored pairing and wires a
// session controller. restart is the controller's network-change hook.
func (a *app) openSession(ctx context.Context, restart func(chainID string)) (*sessionEnv, error) {
	cfg := a.cfg
	rec, err := storage.LoadPairing(cfg.PairingFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.New("no wallet pairing found; run `greeter pair` first")
		}
		return nil, err
	}
	if rec.Expired(time.Now()) {
		return nil, fmt.Errorf("pairing %s expired at %s; run `greeter pair` again", rec.ID, rec.ExpiresAt.Format(time.RFC3339))
	}
	// Tokens are only valid at the relay that shares the signing secret, so
	// the relay recorded at pairing time wins.
	relayURL := cfg.RelayURL
	if rec.RelayURL != "" {
		relayURL = rec.RelayURL
	}

	env := &sessionEnv{}
	ok := false
	defer func() {
		if !ok {
			env.Close()
		}
	}()

	env.tracer, err = tracing.NewProvider(tracing.Config{Exporter: cfg.TraceExporter})
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	if cfg.MetricsAddr != "" {
		env.metrics = serveMetrics(cfg.MetricsAddr, m)
	}

	env.bridge = bridge.NewClient(relayURL, rec.DappToken, bridge.WithRequestTimeout(cfg.RequestTimeout))
	if err := env.bridge.Connect(); err != nil {
		return nil, err
	}
	if err := a.waitForWallet(ctx, env.bridge, relayURL); err != nil {
		return nil, err
	}

	gw := wallet.NewGateway(env.bridge)
	if cfg.ChainID != "" && gw.IsAvailable() {
		if id, err := gw.ChainID(ctx); err == nil && !sameChain(id, cfg.ChainID) {
			logger.Warnf("Wallet is on chain %s, expected %s", id, cfg.ChainID)
		}
	}

	var backend contract.Backend = gw.Backend()
	if cfg.RPCURL != "" {
		env.eth, err = ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", cfg.RPCURL, err)
		}
		backend = env.eth
	}

	env.ctrl = session.NewController(session.Options{
		Gateway: gw,
		NewContract: func(signer contract.Sender) session.Contract {
			return contract.New(cfg.ContractAddress, signer, backend,
				contract.WithPollInterval(cfg.ReceiptPollInterval))
		},
		Restart: restart,
		Metrics: m,
		Tracer:  env.tracer.Tracer(),
	})
	ok = true
	return env, nil
}

// waitForWallet waits for the bridge page. A timeout is not fatal: the
// session then reports the wallet as unavailable on connect.
func (a *app) waitForWallet(ctx context.Context, client *bridge.Client, relayURL string) error {
	if a.walletWait <= 0 {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, a.walletWait)
	defer cancel()

	logger.Infof("Waiting for the wallet bridge page at %s%s", relayURL, relay.BridgePath)
	err := client.WaitForWallet(waitCtx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		logger.Warnf("Wallet bridge page did not attach within %s", a.walletWait)
		return nil
	default:
		return err
	}
}

// Close releases everything openSession acquired.
func (e *sessionEnv) Close() {
	if e.ctrl != nil {
		e.ctrl.Stop()
	}
	if e.bridge != nil {
		_ = e.bridge.Close()
	}
	if e.eth != nil {
		e.eth.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if e.metrics != nil {
		_ = e.metrics.Shutdown(ctx)
	}
	if e.tracer != nil {
		if err := e.tracer.Shutdown(ctx); err != nil {
			logger.Warnf("Failed to flush traces: %v", err)
		}
	}
}

func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Infof("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warnf("Metrics listener stopped: %v", err)
		}
	}()
	return srv
}

// sameChain compares chain ids given in hex or decimal.
func sameChain(a, b string) bool {
	x, ok1 := new(big.Int).SetString(strings.TrimSpace(a), 0)
	y, ok2 := new(big.Int).SetString(strings.TrimSpace(b), 0)
	if !ok1 || !ok2 {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return x.Cmp(y) == 0
}
