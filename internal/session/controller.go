// Package session owns the wallet session state machine.
//
// A Controller runs the reducer on an actor loop. User actions and wallet
// push events become mailbox inputs; remote calls run in the Runtime and
// report back as completion events tagged with the generation of the
// operation that produced them.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/bhandras/greeter/internal/actor"
	"github.com/bhandras/greeter/internal/metrics"
	"github.com/bhandras/greeter/internal/pubsub"
	"github.com/bhandras/greeter/internal/wallet"
	"github.com/bhandras/greeter/pkg/logger"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ErrMailboxFull is returned by best-effort actions dropped under load.
var ErrMailboxFull = errors.New("session: mailbox full")

// Options configures a Controller.
type Options struct {
	Gateway     Gateway
	NewContract ContractFactory

	// Restart is invoked when the wallet switches networks. It normally
	// re-executes the process and does not return.
	Restart func(chainID string)

	Metrics     *metrics.Metrics
	Tracer      trace.Tracer
	MailboxSize int

	// Clock times remote operations. Defaults to the wall clock.
	Clock actor.Clock
}

// Controller is the session orchestrator.
type Controller struct {
	actor   *actor.Actor[State]
	runtime *Runtime
	gateway Gateway
	broker  *pubsub.Broker[Snapshot]
	metrics *metrics.Metrics
	restart func(string)

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewController wires a controller. It does nothing until Start.
func NewController(opts Options) *Controller {
	gw := opts.Gateway
	if gw == nil {
		gw = wallet.NewGateway(nil)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("session")
	}

	c := &Controller{
		gateway: gw,
		broker:  pubsub.NewBroker[Snapshot](),
		metrics: opts.Metrics,
		restart: opts.Restart,
	}
	c.runtime = newRuntime(gw, opts.NewContract, opts.Metrics, tracer, opts.Clock)

	actorOpts := []actor.Option[State]{
		actor.WithHooks(actor.Hooks[State]{
			OnTransition: c.onTransition,
			OnDrop: func(in actor.Input) {
				logger.Warnf("session: mailbox full, dropped %T", in)
			},
		}),
	}
	if opts.MailboxSize > 0 {
		actorOpts = append(actorOpts, actor.WithMailboxSize[State](opts.MailboxSize))
	}
	c.actor = actor.New(State{Connection: Disconnected}, Reduce, c.runtime, actorOpts...)

	c.runtime.setPush(func(in actor.Input) {
		if err := c.actor.Send(c.actor.Context(), in); err != nil {
			logger.Debugf("session: dropped %T: %v", in, err)
		}
	})
	c.runtime.setRestart(c.onRestart)
	return c
}

// Start launches the loop and, if the wallet already authorized an account,
// connects without prompting.
func (c *Controller) Start() error {
	var err error
	c.startOnce.Do(func() {
		c.actor.Start()
		err = c.send(cmdStart{Available: c.gateway.IsAvailable()})
	})
	return err
}

// Stop shuts the loop down and closes observer channels.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.actor.Stop()
		c.broker.Close()
	})
}

// Connect requests wallet access.
func (c *Controller) Connect() error {
	return c.send(cmdConnect{Available: c.gateway.IsAvailable(), Prompt: true})
}

// Refresh re-reads the stored value. It is best effort: a refresh that
// finds the mailbox full is dropped and reported as ErrMailboxFull.
func (c *Controller) Refresh() error {
	return c.offer(cmdRefresh{})
}

// Submit writes text to the contract.
func (c *Controller) Submit(text string) error {
	return c.send(cmdSubmit{Text: text})
}

// SetDraft updates the pending input.
func (c *Controller) SetDraft(text string) error {
	return c.send(cmdSetDraft{Text: text})
}

// Snapshot returns the current observable state.
func (c *Controller) Snapshot() Snapshot {
	return SnapshotOf(c.actor.State())
}

// Subscribe returns committed snapshots until ctx is done or the controller
// stops.
func (c *Controller) Subscribe(ctx context.Context) <-chan pubsub.Event[Snapshot] {
	return c.broker.Subscribe(ctx)
}

// Await blocks until cond holds for the current snapshot.
func (c *Controller) Await(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := c.Subscribe(ctx)
	if snap := c.Snapshot(); cond(snap) {
		return snap, nil
	}
	for {
		select {
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return c.Snapshot(), actor.ErrStopped
			}
			if cond(ev.Payload) {
				return ev.Payload, nil
			}
		}
	}
}

func (c *Controller) send(in actor.Input) error {
	return c.actor.Send(context.Background(), in)
}

func (c *Controller) offer(in actor.Input) error {
	if c.actor.Enqueue(in) {
		return nil
	}
	if c.actor.Context().Err() != nil {
		return actor.ErrStopped
	}
	return ErrMailboxFull
}

func (c *Controller) onTransition(prev, next State, in actor.Input) {
	if c.metrics != nil {
		metrics.SetBool(c.metrics.Busy, next.Busy)
		c.metrics.Connection.Set(next.Connection.Ordinal())
	}

	before, after := SnapshotOf(prev), SnapshotOf(next)
	if before.Equal(after) {
		return
	}
	if logger.Enabled(logger.LevelTrace) {
		logger.Tracef("session: %T %s->%s busy=%v op=%s gen=%d",
			in, prev.Connection, next.Connection, next.Busy, next.InFlight, next.OpGen)
	}
	if next.LastError != nil && (prev.LastError == nil || *prev.LastError != *next.LastError) {
		logger.Infof("session: %s", next.LastError)
	}
	c.broker.Publish(pubsub.Committed, after)
}

func (c *Controller) onRestart(chainID string) {
	c.broker.Publish(pubsub.Restarting, c.Snapshot())
	if c.restart == nil {
		logger.Warnf("session: network changed to %s but no restart hook is set", chainID)
		return
	}
	c.restart(chainID)
}
