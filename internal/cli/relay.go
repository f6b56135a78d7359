package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bhandras/greeter/internal/config"
	"github.com/bhandras/greeter/internal/crypto"
	"github.com/bhandras/greeter/internal/metrics"
	"github.com/bhandras/greeter/internal/relay"
	"github.com/bhandras/greeter/internal/storage"
	"github.com/bhandras/greeter/internal/version"
	"github.com/bhandras/greeter/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

// NewRelayCommand builds the greeter-relay command.
func NewRelayCommand() *cobra.Command {
	a := &app{v: config.New()}

	cmd := &cobra.Command{
		Use:   "greeter-relay",
		Short: "Relay wallet requests between greeter and the browser bridge page",
		Long: `greeter-relay pairs greeter with a browser wallet. It verifies pairing
tokens with a key derived from bridge.key in the home directory, so run it
with the same home as greeter.`,
		Version:       version.Version(),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRelay(cmd.Context())
		},
	}
	cmd.SetVersionTemplate("greeter-relay {{.Version}}\n")
	addFlags(a.v, cmd.Flags(), sharedFlags)
	addFlags(a.v, cmd.Flags(), relayFlags)
	return cmd
}

func (a *app) runRelay(ctx context.Context) error {
	cfg := a.cfg
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	key, err := storage.GetOrCreateSecretKey(cfg.BridgeKey)
	if err != nil {
		return err
	}
	manager, err := crypto.NewJWTManager(key)
	if err != nil {
		return err
	}

	m := metrics.New()
	srv := relay.NewServer(relay.Options{
		Verifier:       manager,
		Metrics:        m,
		RequestTimeout: cfg.RequestTimeout,
		Rate:           cfg.RelayRate,
		Burst:          cfg.RelayBurst,
	})
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              cfg.RelayAddr,
		Handler:           relay.NewRouter(srv, m),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("greeter-relay %s listening on %s", version.Version(), cfg.RelayAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Infof("Shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
