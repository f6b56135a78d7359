package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bhandras/greeter/internal/actor"
	"github.com/bhandras/greeter/internal/actor/actortest"
	"github.com/bhandras/greeter/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	addrA = common.HexToAddress("0xAA00000000000000000000000000000000000011")
	addrB = common.HexToAddress("0xBB00000000000000000000000000000000000022")
)

type testSigner struct{ addr common.Address }

func (s testSigner) Address() common.Address { return s.addr }

func (s testSigner) SendTransaction(context.Context, common.Address, []byte) (common.Hash, error) {
	return common.Hash{}, errors.New("not used")
}

func initial() State { return State{Connection: Disconnected} }

// connectedState returns a session connected as addrA that has read "hi".
func connectedState(t *testing.T) State {
	t.Helper()
	state, _ := actor.Run(initial(), Reduce,
		cmdConnect{Available: true, Prompt: true},
		evConnected{Gen: 1, Signer: testSigner{addrA}},
		evReadDone{Gen: 2, Value: "hi"},
	)
	require.Equal(t, Connected, state.Connection)
	require.False(t, state.Busy)
	return state
}

func requireInvariants(t *testing.T, s State) {
	t.Helper()
	require.Equal(t, s.Account != nil, s.Signer != nil, "account/signer presence")
	require.Equal(t, s.Connection == Connected, s.Account != nil, "account iff connected")
	require.Equal(t, s.Busy, s.InFlight != OpNone, "busy iff op in flight")
}

func TestStartProbesOnlyWhenAvailable(t *testing.T) {
	_, effects := actor.Step(initial(), cmdStart{Available: true}, Reduce)
	require.Equal(t, []actor.Effect{effSubscribe{}, effProbeAuthorized{}}, effects)

	_, effects = actor.Step(initial(), cmdStart{Available: false}, Reduce)
	require.Empty(t, effects)
}

func TestAuthorizedAccountConnectsWithoutPrompt(t *testing.T) {
	next, effects := actor.Step(initial(), evAuthorized{}, Reduce)
	require.Equal(t, []actor.Effect{effConnect{Gen: 1, Prompt: false}}, effects)
	require.Equal(t, Connecting, next.Connection)

	// Already connected: nothing to do.
	state := connectedState(t)
	next, effects = actor.Step(state, evAuthorized{}, Reduce)
	require.Empty(t, effects)
	require.Equal(t, state, next)
}

func TestConnectWithoutProvider(t *testing.T) {
	next, effects := actor.Step(initial(), cmdConnect{Available: false, Prompt: true}, Reduce)
	require.Empty(t, effects)
	require.Equal(t, Disconnected, next.Connection)
	require.False(t, next.Busy)
	require.NotNil(t, next.LastError)
	require.Equal(t, wallet.KindProviderUnavailable, next.LastError.Kind)
}

func TestConnectWhileConnectingIsIgnored(t *testing.T) {
	state, effects := actor.Run(initial(), Reduce,
		cmdConnect{Available: true, Prompt: true},
		cmdConnect{Available: true, Prompt: true},
		cmdConnect{Available: true, Prompt: true},
	)
	require.Equal(t, []actor.Effect{effConnect{Gen: 1, Prompt: true}}, effects)
	require.Equal(t, Connecting, state.Connection)
	require.True(t, state.Busy)
	requireInvariants(t, state)
}

func TestConnectSuccessSubscribesAndReads(t *testing.T) {
	state, _ := actor.Step(initial(), cmdConnect{Available: true, Prompt: true}, Reduce)
	signer := testSigner{addrA}

	next, effects := actor.Step(state, evConnected{Gen: 1, Signer: signer}, Reduce)
	require.Equal(t, Connected, next.Connection)
	require.Equal(t, addrA, *next.Account)
	require.True(t, next.Busy)
	require.Equal(t, OpRead, next.InFlight)
	require.Equal(t, []actor.Effect{effSubscribe{}, effRead{Gen: 2, Signer: signer}}, effects)
	requireInvariants(t, next)
}

func TestConnectFailureRecordsKind(t *testing.T) {
	state, _ := actor.Step(initial(), cmdConnect{Available: true, Prompt: true}, Reduce)
	next, effects := actor.Step(state, evConnectFailed{Gen: 1, Err: wallet.NewError(wallet.KindUserRejected, nil)}, Reduce)

	require.Empty(t, effects)
	require.Equal(t, Disconnected, next.Connection)
	require.False(t, next.Busy)
	require.Equal(t, wallet.KindUserRejected, next.LastError.Kind)
	requireInvariants(t, next)
}

func TestStaleConnectCompletionIgnored(t *testing.T) {
	state, _ := actor.Step(initial(), cmdConnect{Available: true, Prompt: true}, Reduce)
	next, effects := actor.Step(state, evConnected{Gen: 7, Signer: testSigner{addrA}}, Reduce)
	require.Empty(t, effects)
	require.Equal(t, state, next)
}

func TestRefreshRejectedWhenBusyOrDisconnected(t *testing.T) {
	_, effects := actor.Step(initial(), cmdRefresh{}, Reduce)
	require.Empty(t, effects)

	state := connectedState(t)
	state, effects = actor.Step(state, cmdRefresh{}, Reduce)
	require.Len(t, effects, 1)

	_, effects = actor.Step(state, cmdRefresh{}, Reduce)
	require.Empty(t, effects)
}

func TestRefreshClearsErrorBeforeAttempt(t *testing.T) {
	state := connectedState(t)
	state.LastError = newErrorInfo(wallet.KindRemoteReadFailed, "")

	next, _ := actor.Step(state, cmdRefresh{}, Reduce)
	require.Nil(t, next.LastError)
	require.True(t, next.Busy)
}

func TestFailedRefreshKeepsCachedValue(t *testing.T) {
	state := connectedState(t)
	state, _ = actor.Step(state, cmdRefresh{}, Reduce)
	next, _ := actor.Step(state, evReadFailed{Gen: state.OpGen, Err: errors.New("boom")}, Reduce)

	require.Equal(t, "hi", *next.CachedValue)
	require.Equal(t, wallet.KindRemoteReadFailed, next.LastError.Kind)
	require.False(t, next.Busy)
}

func TestSubmitEmptyRecordsError(t *testing.T) {
	state := connectedState(t)
	for _, text := range []string{"", "   "} {
		next, effects := actor.Step(state, cmdSubmit{Text: text}, Reduce)
		require.Empty(t, effects)
		require.Equal(t, wallet.KindEmptyInput, next.LastError.Kind)
		require.False(t, next.Busy)
	}
}

func TestSubmitWhileBusyIsIgnored(t *testing.T) {
	state := connectedState(t)
	state, _ = actor.Step(state, cmdSubmit{Text: "one"}, Reduce)
	next, effects := actor.Step(state, cmdSubmit{Text: "two"}, Reduce)

	require.Empty(t, effects)
	require.Equal(t, "one", next.PendingInput)
}

func TestSubmitSuccessClearsDraftAndRereads(t *testing.T) {
	state := connectedState(t)
	state, effects := actor.Step(state, cmdSubmit{Text: "hello"}, Reduce)
	require.Equal(t, []actor.Effect{effWrite{Gen: 3, Signer: testSigner{addrA}, Text: "hello"}}, effects)
	require.Equal(t, "hello", state.PendingInput)

	state, effects = actor.Step(state, evWriteDone{Gen: 3}, Reduce)
	require.Equal(t, []actor.Effect{effRead{Gen: 4, Signer: testSigner{addrA}}}, effects)
	require.Equal(t, "", state.PendingInput)
	require.True(t, state.Busy, "busy spans the follow-up read")

	state, _ = actor.Step(state, evReadDone{Gen: 4, Value: "hello"}, Reduce)
	require.Equal(t, "hello", *state.CachedValue)
	require.False(t, state.Busy)
}

func TestSubmitRejectedKeepsDraft(t *testing.T) {
	state := connectedState(t)
	state, _ = actor.Step(state, cmdSubmit{Text: "bye"}, Reduce)
	next, effects := actor.Step(state, evWriteFailed{
		Gen: state.OpGen,
		Err: wallet.NewError(wallet.KindUserRejected, nil),
	}, Reduce)

	require.Empty(t, effects)
	require.Equal(t, "bye", next.PendingInput)
	require.Equal(t, wallet.KindUserRejected, next.LastError.Kind)
	require.False(t, next.Busy)
}

func TestWriteFailureCarriesReason(t *testing.T) {
	state := connectedState(t)
	state, _ = actor.Step(state, cmdSubmit{Text: "bye"}, Reduce)
	cause := &wallet.RPCError{Code: -32000, Message: "execution reverted: nope"}
	next, _ := actor.Step(state, evWriteFailed{Gen: state.OpGen, Err: cause}, Reduce)

	require.Equal(t, wallet.KindRemoteWriteFailed, next.LastError.Kind)
	require.Equal(t, "nope", next.LastError.Reason)
}

func TestAccountsChangedEmptyDisconnects(t *testing.T) {
	state := connectedState(t)
	next, effects := actor.Step(state, evAccountsChanged{}, Reduce)

	require.Empty(t, effects)
	require.Equal(t, Disconnected, next.Connection)
	require.Equal(t, wallet.KindWalletDisconnected, next.LastError.Kind)
	require.Equal(t, "hi", *next.CachedValue)
	requireInvariants(t, next)
}

func TestDisconnectDuringReadDiscardsResult(t *testing.T) {
	state := connectedState(t)
	state, _ = actor.Step(state, cmdRefresh{}, Reduce)
	gen := state.OpGen

	state, _ = actor.Step(state, evAccountsChanged{}, Reduce)
	require.True(t, state.Busy, "stale read is still outstanding")

	state, _ = actor.Step(state, evReadDone{Gen: gen, Value: "late"}, Reduce)
	require.False(t, state.Busy)
	require.Equal(t, "hi", *state.CachedValue)
	require.Equal(t, wallet.KindWalletDisconnected, state.LastError.Kind)
	requireInvariants(t, state)
}

func TestWriteDoneAfterDisconnectClearsDraftOnly(t *testing.T) {
	state := connectedState(t)
	state, _ = actor.Step(state, cmdSubmit{Text: "bye"}, Reduce)
	gen := state.OpGen
	state, _ = actor.Step(state, evAccountsChanged{}, Reduce)

	next, effects := actor.Step(state, evWriteDone{Gen: gen}, Reduce)
	require.Empty(t, effects)
	require.Equal(t, "", next.PendingInput)
	require.False(t, next.Busy)
	require.Equal(t, Disconnected, next.Connection)
}

func TestAccountsChangedRebindsSigner(t *testing.T) {
	state := connectedState(t)

	next, effects := actor.Step(state, evAccountsChanged{Accounts: []common.Address{addrA}}, Reduce)
	require.Empty(t, effects, "same account needs no new signer")
	require.Equal(t, state, next)

	state, effects = actor.Step(state, evAccountsChanged{Accounts: []common.Address{addrB, addrA}}, Reduce)
	require.Equal(t, []actor.Effect{effDeriveSigner{Gen: state.SignerGen, Account: addrB}}, effects)
	require.Equal(t, addrB, *state.Account)
	require.Equal(t, Connected, state.Connection)
	requireInvariants(t, state)

	state, _ = actor.Step(state, evSignerRebound{Gen: state.SignerGen, Signer: testSigner{addrB}}, Reduce)
	require.Equal(t, addrB, state.Signer.Address())
}

func TestSubmitWaitsForRebindAfterAccountSwitch(t *testing.T) {
	state := connectedState(t)
	state, _ = actor.Step(state, evAccountsChanged{Accounts: []common.Address{addrB}}, Reduce)

	state, effects := actor.Step(state, cmdSubmit{Text: "bye"}, Reduce)
	require.Empty(t, effects, "write must not go out from the previous account")
	require.Equal(t, OpWrite, state.Held)
	require.False(t, state.Busy)
	require.True(t, SnapshotOf(state).Busy)
	requireInvariants(t, state)

	// A refresh or second submit while held is ignored.
	next, effects := actor.Step(state, cmdRefresh{}, Reduce)
	require.Empty(t, effects)
	require.Equal(t, state, next)
	next, effects = actor.Step(state, cmdSubmit{Text: "again"}, Reduce)
	require.Empty(t, effects)
	require.Equal(t, state, next)

	signer := testSigner{addrB}
	state, effects = actor.Step(state, evSignerRebound{Gen: state.SignerGen, Signer: signer}, Reduce)
	require.Equal(t, []actor.Effect{effWrite{Gen: state.OpGen, Signer: signer, Text: "bye"}}, effects)
	require.Equal(t, OpNone, state.Held)
	require.True(t, state.Busy)
	require.Equal(t, OpWrite, state.InFlight)
	requireInvariants(t, state)
}

func TestRefreshWaitsForRebindAfterAccountSwitch(t *testing.T) {
	state := connectedState(t)
	state, _ = actor.Step(state, evAccountsChanged{Accounts: []common.Address{addrB}}, Reduce)

	state, effects := actor.Step(state, cmdRefresh{}, Reduce)
	require.Empty(t, effects)
	require.Equal(t, OpRead, state.Held)

	signer := testSigner{addrB}
	state, effects = actor.Step(state, evSignerRebound{Gen: state.SignerGen, Signer: signer}, Reduce)
	require.Equal(t, []actor.Effect{effRead{Gen: state.OpGen, Signer: signer}}, effects)
	require.Equal(t, OpNone, state.Held)
}

func TestHeldWriteDroppedWhenRebindFails(t *testing.T) {
	state := connectedState(t)
	state, _ = actor.Step(state, evAccountsChanged{Accounts: []common.Address{addrB}}, Reduce)
	state, _ = actor.Step(state, cmdSubmit{Text: "bye"}, Reduce)

	next, effects := actor.Step(state, evSignerFailed{Gen: state.SignerGen, Err: errors.New("gone")}, Reduce)
	require.Empty(t, effects)
	require.Equal(t, OpNone, next.Held)
	require.Equal(t, "bye", next.PendingInput)
	require.False(t, SnapshotOf(next).Busy)
	requireInvariants(t, next)
}

func TestSignerRebindFailureDisconnects(t *testing.T) {
	state := connectedState(t)
	state, _ = actor.Step(state, evAccountsChanged{Accounts: []common.Address{addrB}}, Reduce)
	next, _ := actor.Step(state, evSignerFailed{Gen: state.SignerGen, Err: errors.New("gone")}, Reduce)

	require.Equal(t, Disconnected, next.Connection)
	require.Equal(t, wallet.KindNoActiveAccount, next.LastError.Kind)
	requireInvariants(t, next)
}

func TestAccountsChangedIgnoredWhenNotConnected(t *testing.T) {
	next, effects := actor.Step(initial(), evAccountsChanged{Accounts: []common.Address{addrA}}, Reduce)
	require.Empty(t, effects)
	require.Equal(t, initial(), next)
}

func TestNetworkChangedRestarts(t *testing.T) {
	for _, state := range []State{initial(), connectedState(t)} {
		next, effects := actor.Step(state, evNetworkChanged{ChainID: "0x5"}, Reduce)
		require.Equal(t, []actor.Effect{effRestart{ChainID: "0x5"}}, effects)
		require.Equal(t, state, next)
	}
}

func TestSetDraft(t *testing.T) {
	next, effects := actor.Step(initial(), cmdSetDraft{Text: "draft"}, Reduce)
	require.Empty(t, effects)
	require.Equal(t, "draft", next.PendingInput)
}

func TestSnapshotExcludesSignerAndCopies(t *testing.T) {
	state := connectedState(t)
	snap := SnapshotOf(state)
	require.Equal(t, wallet.ShortAddress(addrA), snap.AccountDisplay())
	require.Len(t, snap.AccountDisplay(), 13)

	v, ok := snap.Value()
	require.True(t, ok)
	require.Equal(t, "hi", v)

	*snap.CachedValue = "mutated"
	require.Equal(t, "hi", *state.CachedValue)
	require.True(t, SnapshotOf(state).Equal(SnapshotOf(state)))
	require.False(t, SnapshotOf(state).Equal(SnapshotOf(initial())))
}

func TestReducerOnActorLoop(t *testing.T) {
	rt := &actortest.FakeRuntime{
		EmitFn: func(_ context.Context, eff actor.Effect, emit func(actor.Input)) {
			switch e := eff.(type) {
			case effProbeAuthorized:
				emit(evAuthorized{})
			case effConnect:
				emit(evConnected{Gen: e.Gen, Signer: testSigner{addrA}})
			case effRead:
				emit(evReadDone{Gen: e.Gen, Value: "hi"})
			}
		},
	}
	a := actor.New(initial(), Reduce, rt)
	a.Start()
	defer a.Stop()

	require.True(t, a.Enqueue(cmdStart{Available: true}))
	actortest.WaitFor(t, 2*time.Second, func() bool {
		s := a.State()
		return s.Connection == Connected && !s.Busy && s.CachedValue != nil
	}, "connected and read")

	require.Equal(t, []actor.Effect{
		effSubscribe{},
		effProbeAuthorized{},
		effConnect{Gen: 1, Prompt: false},
		effSubscribe{},
		effRead{Gen: 2, Signer: testSigner{addrA}},
	}, rt.Effects())
	requireInvariants(t, a.State())
}
