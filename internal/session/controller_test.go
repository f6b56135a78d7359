package session_test

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bhandras/greeter/internal/actor"
	"github.com/bhandras/greeter/internal/actor/actortest"
	"github.com/bhandras/greeter/internal/contract"
	"github.com/bhandras/greeter/internal/metrics"
	"github.com/bhandras/greeter/internal/pubsub"
	"github.com/bhandras/greeter/internal/session"
	"github.com/bhandras/greeter/internal/wallet"
	"github.com/bhandras/greeter/internal/wallet/wallettest"
	"github.com/bhandras/greeter/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

const (
	acctA = "0xAA00000000000000000000000000000000000011"
	acctB = "0xBB00000000000000000000000000000000000022"
)

// store is an in-memory greeting shared by every client the factory hands
// out.
type store struct {
	mu       sync.Mutex
	value    string
	reads    int
	writes   int
	writeErr error
	readErr  error
	readGate chan struct{}
	onRead   func()
	writers  []common.Address
}

func (s *store) factory(signer contract.Sender) session.Contract {
	return &storeClient{s: s, signer: signer}
}

func (s *store) writtenBy() []common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]common.Address(nil), s.writers...)
}

func (s *store) setReadGate(ch chan struct{}) {
	s.mu.Lock()
	s.readGate = ch
	s.mu.Unlock()
}

func (s *store) counts() (reads, writes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.writes
}

type storeClient struct {
	s      *store
	signer contract.Sender
}

func (c *storeClient) ReadValue(ctx context.Context) (string, error) {
	c.s.mu.Lock()
	c.s.reads++
	gate := c.s.readGate
	onRead := c.s.onRead
	c.s.mu.Unlock()

	if onRead != nil {
		onRead()
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.readErr != nil {
		return "", c.s.readErr
	}
	return c.s.value, nil
}

func (c *storeClient) WriteValue(_ context.Context, text string) (*types.Receipt, error) {
	if strings.TrimSpace(text) == "" {
		return nil, wallet.NewError(wallet.KindEmptyInput, nil)
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.writes++
	if c.signer != nil {
		c.s.writers = append(c.s.writers, c.signer.Address())
	}
	if c.s.writeErr != nil {
		return nil, c.s.writeErr
	}
	c.s.value = text
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

type harness struct {
	provider *wallettest.Provider
	store    *store
	ctrl     *session.Controller
	metrics  *metrics.Metrics
	restarts chan string
}

func newHarness(t *testing.T, provider *wallettest.Provider, value string) *harness {
	t.Helper()
	return newHarnessWithClock(t, provider, value, nil)
}

func newHarnessWithClock(t *testing.T, provider *wallettest.Provider, value string, clock actor.Clock) *harness {
	t.Helper()
	h := &harness{
		provider: provider,
		store:    &store{value: value},
		metrics:  metrics.New(),
		restarts: make(chan string, 1),
	}
	h.ctrl = session.NewController(session.Options{
		Gateway:     wallet.NewGateway(provider),
		NewContract: h.store.factory,
		Restart:     func(chainID string) { h.restarts <- chainID },
		Metrics:     h.metrics,
		Clock:       clock,
	})
	t.Cleanup(h.ctrl.Stop)
	return h
}

func await(t *testing.T, ctrl *session.Controller, what string, cond func(session.Snapshot) bool) session.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := ctrl.Await(ctx, cond)
	require.NoError(t, err, "waiting for %s; last snapshot %+v", what, snap)
	return snap
}

func idleWithValue(want string) func(session.Snapshot) bool {
	return func(s session.Snapshot) bool {
		v, ok := s.Value()
		return !s.Busy && ok && v == want
	}
}

func TestScenarioConnectReadSubmit(t *testing.T) {
	p := wallettest.NewProvider()
	p.Accounts(acctA)
	h := newHarness(t, p, "hi")

	require.NoError(t, h.ctrl.Start())
	snap := await(t, h.ctrl, "auto-read", idleWithValue("hi"))
	require.Equal(t, session.Connected, snap.Connection)
	require.Equal(t, common.HexToAddress(acctA), *snap.Account)
	require.Nil(t, snap.LastError)

	require.NoError(t, h.ctrl.Submit("bye"))
	snap = await(t, h.ctrl, "follow-up read", idleWithValue("bye"))
	require.Equal(t, "", snap.PendingInput)

	reads, writes := h.store.counts()
	require.Equal(t, 2, reads)
	require.Equal(t, 1, writes)
	require.Zero(t, p.CallCount("eth_requestAccounts"), "start-up reconnect must not prompt")
	require.Equal(t, 2.0, testutil.ToFloat64(h.metrics.OperationsTotal.WithLabelValues("read", metrics.OutcomeOK)))
}

func TestOperationDurationUsesClock(t *testing.T) {
	p := wallettest.NewProvider()
	p.Accounts(acctA)
	clock := actortest.NewFakeClock(time.Unix(1_700_000_000, 0))
	h := newHarnessWithClock(t, p, "hi", clock)
	h.store.onRead = func() { clock.Advance(3 * time.Second) }

	require.NoError(t, h.ctrl.Start())
	await(t, h.ctrl, "auto-read", idleWithValue("hi"))

	var m dto.Metric
	obs := h.metrics.OperationDuration.WithLabelValues("read")
	require.NoError(t, obs.(prometheus.Metric).Write(&m))
	require.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
	require.InDelta(t, 3.0, m.GetHistogram().GetSampleSum(), 1e-9)
}

func TestConnectWithoutProvider(t *testing.T) {
	h := newHarness(t, nil, "")
	require.NoError(t, h.ctrl.Start())
	require.NoError(t, h.ctrl.Connect())

	snap := await(t, h.ctrl, "error", func(s session.Snapshot) bool { return s.LastError != nil })
	require.Equal(t, wallet.KindProviderUnavailable, snap.LastError.Kind)
	require.Equal(t, session.Disconnected, snap.Connection)
}

func TestRepeatedConnectDispatchesOnce(t *testing.T) {
	p := wallettest.NewProvider()
	var granted atomic.Bool
	gate := make(chan struct{})
	p.Handle("eth_accounts", func([]any) (any, error) {
		if granted.Load() {
			return []string{acctA}, nil
		}
		return []string{}, nil
	})
	p.Handle("eth_requestAccounts", func([]any) (any, error) {
		<-gate
		granted.Store(true)
		return []string{acctA}, nil
	})
	h := newHarness(t, p, "hi")
	require.NoError(t, h.ctrl.Start())

	require.NoError(t, h.ctrl.Connect())
	await(t, h.ctrl, "connecting", func(s session.Snapshot) bool { return s.Connection == session.Connecting })
	require.NoError(t, h.ctrl.Connect())
	require.NoError(t, h.ctrl.Connect())
	close(gate)

	await(t, h.ctrl, "connected", idleWithValue("hi"))
	require.Equal(t, 1, p.CallCount("eth_requestAccounts"))
}

func TestConnectRejectedByUser(t *testing.T) {
	p := wallettest.NewProvider()
	p.Handle("eth_accounts", func([]any) (any, error) { return []string{}, nil })
	p.Handle("eth_requestAccounts", func([]any) (any, error) {
		return nil, &wallet.RPCError{Code: wallet.CodeUserRejected, Message: "User rejected the request."}
	})
	h := newHarness(t, p, "")
	require.NoError(t, h.ctrl.Start())
	require.NoError(t, h.ctrl.Connect())

	snap := await(t, h.ctrl, "rejection", func(s session.Snapshot) bool { return s.LastError != nil })
	require.Equal(t, wallet.KindUserRejected, snap.LastError.Kind)
	require.Equal(t, session.Disconnected, snap.Connection)
	require.False(t, snap.Busy)
}

func TestRefreshWhileBusyReadsOnce(t *testing.T) {
	p := wallettest.NewProvider()
	p.Accounts(acctA)
	h := newHarness(t, p, "hi")
	require.NoError(t, h.ctrl.Start())
	await(t, h.ctrl, "auto-read", idleWithValue("hi"))

	gate := make(chan struct{})
	h.store.setReadGate(gate)
	require.NoError(t, h.ctrl.Refresh())
	require.NoError(t, h.ctrl.Refresh())
	require.NoError(t, h.ctrl.Refresh())
	close(gate)

	// The second read finishing implies the two later refreshes were
	// already applied, and rejected, while it was in flight.
	actortest.WaitFor(t, 2*time.Second, func() bool {
		reads, _ := h.store.counts()
		return reads >= 2 && !h.ctrl.Snapshot().Busy
	}, "refresh to finish")
	reads, _ := h.store.counts()
	require.Equal(t, 2, reads)
}

func TestFailedRefreshKeepsValue(t *testing.T) {
	p := wallettest.NewProvider()
	p.Accounts(acctA)
	h := newHarness(t, p, "hi")
	require.NoError(t, h.ctrl.Start())
	await(t, h.ctrl, "auto-read", idleWithValue("hi"))

	h.store.mu.Lock()
	h.store.readErr = wallet.NewError(wallet.KindRemoteReadFailed, nil)
	h.store.mu.Unlock()

	require.NoError(t, h.ctrl.Refresh())
	snap := await(t, h.ctrl, "read error", func(s session.Snapshot) bool { return s.LastError != nil && !s.Busy })
	require.Equal(t, wallet.KindRemoteReadFailed, snap.LastError.Kind)
	v, _ := snap.Value()
	require.Equal(t, "hi", v)
}

func TestSubmitRejectedKeepsDraft(t *testing.T) {
	p := wallettest.NewProvider()
	p.Accounts(acctA)
	h := newHarness(t, p, "hi")
	require.NoError(t, h.ctrl.Start())
	await(t, h.ctrl, "auto-read", idleWithValue("hi"))

	h.store.mu.Lock()
	h.store.writeErr = wallet.NewError(wallet.KindUserRejected, nil)
	h.store.mu.Unlock()

	require.NoError(t, h.ctrl.Submit("bye"))
	snap := await(t, h.ctrl, "rejection", func(s session.Snapshot) bool { return s.LastError != nil && !s.Busy })
	require.Equal(t, wallet.KindUserRejected, snap.LastError.Kind)
	require.Equal(t, "bye", snap.PendingInput)
}

func TestSubmitEmptyNeverReachesContract(t *testing.T) {
	p := wallettest.NewProvider()
	p.Accounts(acctA)
	h := newHarness(t, p, "hi")
	require.NoError(t, h.ctrl.Start())
	await(t, h.ctrl, "auto-read", idleWithValue("hi"))

	require.NoError(t, h.ctrl.Submit("   "))
	snap := await(t, h.ctrl, "empty input", func(s session.Snapshot) bool { return s.LastError != nil })
	require.Equal(t, wallet.KindEmptyInput, snap.LastError.Kind)
	_, writes := h.store.counts()
	require.Zero(t, writes)
}

func TestWalletRevokesAccounts(t *testing.T) {
	p := wallettest.NewProvider()
	p.Accounts(acctA)
	h := newHarness(t, p, "hi")
	require.NoError(t, h.ctrl.Start())
	await(t, h.ctrl, "auto-read", idleWithValue("hi"))

	p.PushAccounts()
	snap := await(t, h.ctrl, "disconnect", func(s session.Snapshot) bool { return s.Connection == session.Disconnected })
	require.Nil(t, snap.Account)
	require.Equal(t, wallet.KindWalletDisconnected, snap.LastError.Kind)
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WalletEventsTotal.WithLabelValues("accountsChanged")))
}

func TestWalletSwitchesAccount(t *testing.T) {
	p := wallettest.NewProvider()
	p.Accounts(acctA)
	h := newHarness(t, p, "hi")
	require.NoError(t, h.ctrl.Start())
	await(t, h.ctrl, "auto-read", idleWithValue("hi"))

	p.Accounts(acctB)
	p.PushAccounts(acctB)
	want := wallet.ShortAddress(common.HexToAddress(acctB))
	snap := await(t, h.ctrl, "account switch", func(s session.Snapshot) bool { return s.AccountDisplay() == want })
	require.Equal(t, session.Connected, snap.Connection)
}

func TestNetworkChangeRestarts(t *testing.T) {
	p := wallettest.NewProvider()
	p.Accounts(acctA)
	h := newHarness(t, p, "hi")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := h.ctrl.Subscribe(ctx)

	require.NoError(t, h.ctrl.Start())
	await(t, h.ctrl, "auto-read", idleWithValue("hi"))

	p.PushChain("0xaa36a7")
	select {
	case id := <-h.restarts:
		require.Equal(t, "0xaa36a7", id)
	case <-time.After(2 * time.Second):
		t.Fatal("restart hook not called")
	}

	sawRestarting := false
	for !sawRestarting {
		select {
		case ev := <-events:
			sawRestarting = ev.Type == pubsub.Restarting
		case <-time.After(time.Second):
			t.Fatal("no restarting event")
		}
	}
}

func TestObserversSeeCommittedChanges(t *testing.T) {
	h := newHarness(t, nil, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := h.ctrl.Subscribe(ctx)

	require.NoError(t, h.ctrl.Start())
	require.NoError(t, h.ctrl.SetDraft("draft"))

	select {
	case ev := <-events:
		require.Equal(t, pubsub.Committed, ev.Type)
		require.Equal(t, "draft", ev.Payload.PendingInput)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published")
	}

	// Identical state is not re-published.
	require.NoError(t, h.ctrl.SetDraft("draft"))
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStoppedControllerRejectsActions(t *testing.T) {
	h := newHarness(t, nil, "")
	require.NoError(t, h.ctrl.Start())
	h.ctrl.Stop()
	require.ErrorIs(t, h.ctrl.Refresh(), actor.ErrStopped)
	require.Error(t, h.ctrl.Submit("x"))
}

func TestRefreshDroppedWhenMailboxFull(t *testing.T) {
	var logs syncBuffer
	logger.SetOutput(&logs)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })

	// Not started, so nothing drains the single mailbox slot.
	ctrl := session.NewController(session.Options{
		Gateway:     wallet.NewGateway(nil),
		MailboxSize: 1,
	})
	t.Cleanup(ctrl.Stop)

	require.NoError(t, ctrl.Refresh())
	require.ErrorIs(t, ctrl.Refresh(), session.ErrMailboxFull)
	require.Contains(t, logs.String(), "mailbox full")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNetworkChangeRestartsBeforeConnect(t *testing.T) {
	p := wallettest.NewProvider()
	p.Handle("eth_accounts", func([]any) (any, error) { return []string{}, nil })
	p.Handle("eth_requestAccounts", func([]any) (any, error) {
		return nil, &wallet.RPCError{Code: wallet.CodeUserRejected, Message: "User rejected the request."}
	})
	h := newHarness(t, p, "hi")

	require.NoError(t, h.ctrl.Start())
	actortest.WaitFor(t, 2*time.Second, func() bool { return p.Listens() > 0 }, "subscribed on start")

	require.NoError(t, h.ctrl.Connect())
	snap := await(t, h.ctrl, "rejection", func(s session.Snapshot) bool { return s.LastError != nil })
	require.Equal(t, wallet.KindUserRejected, snap.LastError.Kind)
	require.Equal(t, session.Disconnected, snap.Connection)

	p.PushChain("0xaa36a7")
	select {
	case id := <-h.restarts:
		require.Equal(t, "0xaa36a7", id)
	case <-time.After(2 * time.Second):
		t.Fatal("restart hook not called while disconnected")
	}
}

func TestSubmitAfterAccountSwitchSignsWithNewAccount(t *testing.T) {
	p := wallettest.NewProvider()
	p.Accounts(acctA)
	h := newHarness(t, p, "hi")

	require.NoError(t, h.ctrl.Start())
	await(t, h.ctrl, "auto-read", idleWithValue("hi"))

	p.Accounts(acctB)
	p.PushAccounts(acctB)
	require.NoError(t, h.ctrl.Submit("bye"))

	snap := await(t, h.ctrl, "write and re-read", func(s session.Snapshot) bool {
		return idleWithValue("bye")(s) && s.PendingInput == ""
	})
	require.Equal(t, common.HexToAddress(acctB), *snap.Account)
	require.Equal(t, []common.Address{common.HexToAddress(acctB)}, h.store.writtenBy())
}
