package session

import (
	"context"
	"sync"

	"github.com/bhandras/greeter/internal/actor"
	"github.com/bhandras/greeter/internal/contract"
	"github.com/bhandras/greeter/internal/metrics"
	"github.com/bhandras/greeter/internal/wallet"
	"github.com/bhandras/greeter/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Gateway is the wallet surface the session drives. *wallet.Gateway
// implements it.
type Gateway interface {
	IsAvailable() bool
	AuthorizedAccounts(ctx context.Context) ([]common.Address, error)
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	GetSigner(ctx context.Context) (*wallet.Signer, error)
	Subscribe(onAccountsChanged func([]common.Address), onNetworkChanged func(string))
}

// Contract is the remote value store. *contract.Client implements it.
type Contract interface {
	ReadValue(ctx context.Context) (string, error)
	WriteValue(ctx context.Context, text string) (*types.Receipt, error)
}

// ContractFactory binds a contract client to signer.
type ContractFactory func(signer contract.Sender) Contract

// Runtime interprets session effects. It never touches State; outcomes are
// reported through emit.
type Runtime struct {
	gateway     Gateway
	newContract ContractFactory
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	clock       actor.Clock

	mu      sync.Mutex
	push    func(actor.Input)
	restart func(chainID string)
	stopped bool
	wg      sync.WaitGroup
}

func newRuntime(gw Gateway, factory ContractFactory, m *metrics.Metrics, tracer trace.Tracer, clock actor.Clock) *Runtime {
	if clock == nil {
		clock = actor.RealClock{}
	}
	return &Runtime{gateway: gw, newContract: factory, metrics: m, tracer: tracer, clock: clock}
}

// setPush installs the ordered, blocking delivery path used for wallet push
// events.
func (r *Runtime) setPush(fn func(actor.Input)) {
	r.mu.Lock()
	r.push = fn
	r.mu.Unlock()
}

func (r *Runtime) setRestart(fn func(chainID string)) {
	r.mu.Lock()
	r.restart = fn
	r.mu.Unlock()
}

// HandleEffects implements actor.Runtime.
func (r *Runtime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, eff := range effects {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch e := eff.(type) {
		case effProbeAuthorized:
			r.goRun(ctx, func(ctx context.Context) { r.probeAuthorized(ctx, emit) })
		case effConnect:
			r.goRun(ctx, func(ctx context.Context) { r.connect(ctx, e, emit) })
		case effSubscribe:
			r.subscribe()
		case effRead:
			r.goRun(ctx, func(ctx context.Context) { r.read(ctx, e, emit) })
		case effWrite:
			r.goRun(ctx, func(ctx context.Context) { r.write(ctx, e, emit) })
		case effDeriveSigner:
			r.goRun(ctx, func(ctx context.Context) { r.deriveSigner(ctx, e, emit) })
		case effRestart:
			r.doRestart(e)
		default:
			logger.Warnf("session: unknown effect %T", eff)
		}
	}
}

// Stop implements actor.Runtime. The actor cancels the effect context
// before calling Stop, so this only waits for effect goroutines to return.
func (r *Runtime) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runtime) goRun(ctx context.Context, fn func(ctx context.Context)) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		fn(ctx)
	}()
}

func (r *Runtime) probeAuthorized(ctx context.Context, emit func(actor.Input)) {
	accounts, err := r.gateway.AuthorizedAccounts(ctx)
	if err != nil {
		logger.Debugf("session: authorized account probe failed: %v", err)
		return
	}
	if len(accounts) == 0 {
		return
	}
	logger.Infof("session: reconnecting %s", wallet.ShortAddress(accounts[0]))
	emit(evAuthorized{})
}

func (r *Runtime) connect(ctx context.Context, eff effConnect, emit func(actor.Input)) {
	ctx, done := r.startOp(ctx, OpConnect)

	var err error
	if eff.Prompt {
		_, err = r.gateway.RequestAccounts(ctx)
	} else {
		_, err = r.gateway.AuthorizedAccounts(ctx)
	}
	if err != nil {
		done(err)
		emit(evConnectFailed{Gen: eff.Gen, Err: err})
		return
	}

	signer, err := r.gateway.GetSigner(ctx)
	if err == nil && signer == nil {
		err = wallet.NewError(wallet.KindNoActiveAccount, nil)
	}
	done(err)
	if err != nil {
		emit(evConnectFailed{Gen: eff.Gen, Err: err})
		return
	}
	emit(evConnected{Gen: eff.Gen, Signer: signer})
}

func (r *Runtime) subscribe() {
	r.gateway.Subscribe(
		func(accounts []common.Address) {
			r.countEvent("accountsChanged")
			r.pushInput(evAccountsChanged{Accounts: accounts})
		},
		func(chainID string) {
			r.countEvent("chainChanged")
			r.pushInput(evNetworkChanged{ChainID: chainID})
		},
	)
}

func (r *Runtime) pushInput(in actor.Input) {
	r.mu.Lock()
	push := r.push
	r.mu.Unlock()
	if push != nil {
		push(in)
	}
}

func (r *Runtime) read(ctx context.Context, eff effRead, emit func(actor.Input)) {
	ctx, done := r.startOp(ctx, OpRead)
	value, err := r.newContract(eff.Signer).ReadValue(ctx)
	done(err)
	if err != nil {
		emit(evReadFailed{Gen: eff.Gen, Err: err})
		return
	}
	emit(evReadDone{Gen: eff.Gen, Value: value})
}

func (r *Runtime) write(ctx context.Context, eff effWrite, emit func(actor.Input)) {
	ctx, done := r.startOp(ctx, OpWrite)
	receipt, err := r.newContract(eff.Signer).WriteValue(ctx, eff.Text)
	done(err)
	if err != nil {
		emit(evWriteFailed{Gen: eff.Gen, Err: err})
		return
	}
	var hash common.Hash
	if receipt != nil {
		hash = receipt.TxHash
	}
	emit(evWriteDone{Gen: eff.Gen, TxHash: hash})
}

func (r *Runtime) deriveSigner(ctx context.Context, eff effDeriveSigner, emit func(actor.Input)) {
	signer, err := r.gateway.GetSigner(ctx)
	if err == nil && signer == nil {
		err = wallet.NewError(wallet.KindNoActiveAccount, nil)
	}
	if err != nil {
		emit(evSignerFailed{Gen: eff.Gen, Err: err})
		return
	}
	emit(evSignerRebound{Gen: eff.Gen, Signer: signer})
}

func (r *Runtime) doRestart(eff effRestart) {
	r.mu.Lock()
	restart := r.restart
	r.mu.Unlock()

	logger.Infof("session: network changed to %s, restarting", eff.ChainID)
	if r.metrics != nil {
		r.metrics.RestartsTotal.Inc()
	}
	if restart != nil {
		restart(eff.ChainID)
	}
}

func (r *Runtime) countEvent(name string) {
	if r.metrics != nil {
		r.metrics.WalletEventsTotal.WithLabelValues(name).Inc()
	}
}

// startOp opens a span for op and returns a completion func that records
// the outcome in the span and the metrics.
func (r *Runtime) startOp(ctx context.Context, op Op) (context.Context, func(error)) {
	start := r.clock.Now()
	ctx, span := r.tracer.Start(ctx, "session."+string(op), trace.WithAttributes(attribute.String("op", string(op))))
	return ctx, func(err error) {
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeFailed
			if kind, ok := wallet.KindOf(err); ok {
				span.SetAttributes(attribute.String("error.kind", string(kind)))
				if kind == wallet.KindUserRejected {
					outcome = metrics.OutcomeRejected
				}
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warnf("session: %s failed: %v", op, err)
		}
		span.End()
		if r.metrics != nil {
			r.metrics.OperationsTotal.WithLabelValues(string(op), outcome).Inc()
			r.metrics.OperationDuration.WithLabelValues(string(op)).Observe(r.clock.Now().Sub(start).Seconds())
		}
	}
}
