// Package actor provides the single-goroutine event loop that owns the wallet
// session state.
//
// The loop dequeues one input at a time, hands it to a pure reducer together
// with the current state, commits the returned state, and passes the returned
// effects to a Runtime. The Runtime performs the I/O (wallet prompts, contract
// calls, receipt polling) off the loop and reports the outcome back as new
// inputs. Only the loop goroutine ever writes the state.
package actor

import (
	"context"
	"errors"
	"sync"
)

// defaultMailboxSize is large enough that bursts of wallet events never hit the
// best-effort drop path in Enqueue.
const defaultMailboxSize = 256

// Input is an item delivered to an actor mailbox. Commands (user intent) and
// events (runtime completions, wallet pushes) share this interface.
type Input interface {
	isActorInput()
}

// Effect is a declarative side-effect produced by a reducer. Effects are data;
// the Runtime interprets them.
type Effect interface {
	isActorEffect()
}

// ReducerFunc is a pure state transition function.
//
// Reducers must not do I/O, spawn goroutines or read clocks. Anything
// environmental (provider availability, timestamps) is carried on the input.
type ReducerFunc[S any] func(state S, input Input) (next S, effects []Effect)

// Runtime interprets effects and emits follow-up inputs back to the actor.
type Runtime interface {
	// HandleEffects executes effects. It must return quickly; blocking work
	// runs on its own goroutine and reports through emit. Implementations stop
	// emitting once ctx is canceled.
	HandleEffects(ctx context.Context, effects []Effect, emit func(Input))

	// Stop requests that the runtime stop any background work. It may be
	// called multiple times.
	Stop()
}

// Hooks provide optional observability into an actor's execution.
type Hooks[S any] struct {
	// OnInput is called after an input is dequeued, before reducing.
	OnInput func(input Input)
	// OnTransition is called after the reducer's state has been committed.
	OnTransition func(prev S, next S, input Input)
	// OnEffects is called after reducing, before effects are handed to Runtime.
	OnEffects func(effects []Effect)
	// OnDrop is called when Enqueue discards an input because the mailbox is
	// full.
	OnDrop func(input Input)
	// OnPanic is called when the loop panics. If nil, panics propagate.
	OnPanic func(recovered any)
}

// Actor runs a single-threaded event loop that owns state of type S.
type Actor[S any] struct {
	reduce  ReducerFunc[S]
	runtime Runtime
	hooks   Hooks[S]

	mu     sync.Mutex
	state  S
	inbox  chan Input
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Option configures an Actor.
type Option[S any] func(*Actor[S])

// WithHooks attaches hooks for observability.
func WithHooks[S any](hooks Hooks[S]) Option[S] {
	return func(a *Actor[S]) { a.hooks = hooks }
}

// WithMailboxSize sets the actor mailbox buffer size.
func WithMailboxSize[S any](n int) Option[S] {
	return func(a *Actor[S]) {
		if n <= 0 {
			return
		}
		a.inbox = make(chan Input, n)
	}
}

// New creates a new actor with initial state, reducer, and runtime.
func New[S any](initial S, reducer ReducerFunc[S], runtime Runtime, opts ...Option[S]) *Actor[S] {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor[S]{
		reduce:  reducer,
		runtime: runtime,
		state:   initial,
		inbox:   make(chan Input, defaultMailboxSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the actor loop in its own goroutine. Calling Start more than
// once has no effect.
func (a *Actor[S]) Start() {
	a.once.Do(func() { go a.loop() })
}

// Stop cancels the actor context and stops the runtime. Safe to call multiple
// times.
func (a *Actor[S]) Stop() {
	a.cancel()
	if a.runtime != nil {
		a.runtime.Stop()
	}
}

// Done returns a channel that closes when the actor loop exits.
func (a *Actor[S]) Done() <-chan struct{} { return a.done }

// Context returns the actor's lifetime context. It is canceled by Stop.
func (a *Actor[S]) Context() context.Context { return a.ctx }

// Enqueue delivers an input to the mailbox without blocking. It returns false
// if the actor is stopped or the mailbox is full.
func (a *Actor[S]) Enqueue(input Input) bool {
	if input == nil {
		return false
	}
	select {
	case <-a.ctx.Done():
		return false
	default:
	}
	select {
	case a.inbox <- input:
		return true
	default:
		if a.hooks.OnDrop != nil {
			a.hooks.OnDrop(input)
		}
		return false
	}
}

// Send delivers an input to the mailbox, waiting for space. It is used for
// inputs that must not be dropped, such as wallet account changes, where
// order and delivery both matter.
func (a *Actor[S]) Send(ctx context.Context, input Input) error {
	if input == nil {
		return nil
	}
	select {
	case <-a.ctx.Done():
		return ErrStopped
	default:
	}
	select {
	case <-a.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case a.inbox <- input:
		return nil
	}
}

// State returns a snapshot of the current actor state.
func (a *Actor[S]) State() S {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Actor[S]) loop() {
	defer close(a.done)
	defer func() {
		if r := recover(); r != nil {
			if a.hooks.OnPanic != nil {
				a.hooks.OnPanic(r)
				return
			}
			panic(r)
		}
	}()

	// emit may be called from the loop goroutine itself (synchronous
	// runtimes), so it must never block on a full mailbox.
	emit := func(in Input) {
		if in == nil {
			return
		}
		select {
		case a.inbox <- in:
		default:
			go func() { _ = a.Send(a.ctx, in) }()
		}
	}

	for {
		select {
		case <-a.ctx.Done():
			return
		case in := <-a.inbox:
			if in == nil {
				continue
			}
			if a.hooks.OnInput != nil {
				a.hooks.OnInput(in)
			}

			a.mu.Lock()
			prev := a.state
			a.mu.Unlock()

			next, effects := a.reduce(prev, in)

			a.mu.Lock()
			a.state = next
			a.mu.Unlock()

			if a.hooks.OnTransition != nil {
				a.hooks.OnTransition(prev, next, in)
			}
			if len(effects) > 0 && a.hooks.OnEffects != nil {
				a.hooks.OnEffects(effects)
			}
			if a.runtime != nil && len(effects) > 0 {
				a.runtime.HandleEffects(a.ctx, effects, emit)
			}
		}
	}
}

// ErrStopped is returned when the actor has been stopped.
var ErrStopped = errors.New("actor stopped")
