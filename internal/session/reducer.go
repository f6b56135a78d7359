package session

import (
	"strings"

	"github.com/bhandras/greeter/internal/actor"
	"github.com/bhandras/greeter/internal/wallet"
)

// Reduce is the session reducer.
func Reduce(state State, input actor.Input) (State, []actor.Effect) {
	switch in := input.(type) {
	case cmdStart:
		return reduceStart(state, in)
	case cmdConnect:
		return reduceConnect(state, in)
	case cmdRefresh:
		return reduceRefresh(state)
	case cmdSubmit:
		return reduceSubmit(state, in)
	case cmdSetDraft:
		state.PendingInput = in.Text
		return state, nil

	case evAuthorized:
		if state.Connection != Disconnected || state.Busy {
			return state, nil
		}
		return reduceConnect(state, cmdConnect{Available: true, Prompt: false})
	case evConnected:
		return reduceConnected(state, in)
	case evConnectFailed:
		return reduceConnectFailed(state, in)
	case evAccountsChanged:
		return reduceAccountsChanged(state, in)
	case evSignerRebound:
		return reduceSignerRebound(state, in)
	case evSignerFailed:
		return reduceSignerFailed(state, in)
	case evNetworkChanged:
		return state, []actor.Effect{effRestart{ChainID: in.ChainID}}
	case evReadDone:
		return reduceReadDone(state, in)
	case evReadFailed:
		return reduceReadFailed(state, in)
	case evWriteDone:
		return reduceWriteDone(state, in)
	case evWriteFailed:
		return reduceWriteFailed(state, in)
	default:
		return state, nil
	}
}

// reduceStart subscribes to wallet events as soon as a provider is present so
// a network change restarts the process in every state.
func reduceStart(state State, cmd cmdStart) (State, []actor.Effect) {
	if !cmd.Available || state.Connection != Disconnected || state.Busy {
		return state, nil
	}
	return state, []actor.Effect{effSubscribe{}, effProbeAuthorized{}}
}

func reduceConnect(state State, cmd cmdConnect) (State, []actor.Effect) {
	if state.Connection == Connecting || state.Busy {
		return state, nil
	}
	if !cmd.Available {
		state.LastError = newErrorInfo(wallet.KindProviderUnavailable, "")
		return state, nil
	}

	state = begin(state, OpConnect)
	state.Connection = Connecting
	state.Account = nil
	state.Signer = nil
	state.Held = OpNone
	return state, []actor.Effect{effConnect{Gen: state.OpGen, Prompt: cmd.Prompt}}
}

func reduceConnected(state State, ev evConnected) (State, []actor.Effect) {
	state, ok := finish(state, ev.Gen, OpConnect)
	if !ok || state.Connection != Connecting {
		return state, nil
	}
	if ev.Signer == nil {
		state.Connection = Disconnected
		state.LastError = newErrorInfo(wallet.KindNoActiveAccount, "")
		return state, nil
	}

	addr := ev.Signer.Address()
	state.Connection = Connected
	state.Account = &addr
	state.Signer = ev.Signer

	// Entering Connected triggers exactly one read.
	state, read := startRead(state)
	return state, []actor.Effect{effSubscribe{}, read}
}

func reduceConnectFailed(state State, ev evConnectFailed) (State, []actor.Effect) {
	state, ok := finish(state, ev.Gen, OpConnect)
	if !ok || state.Connection != Connecting {
		return state, nil
	}
	state.Connection = Disconnected
	state.LastError = classify(ev.Err, wallet.KindProviderUnavailable)
	return state, nil
}

func reduceAccountsChanged(state State, ev evAccountsChanged) (State, []actor.Effect) {
	if state.Connection != Connected {
		return state, nil
	}
	if len(ev.Accounts) == 0 {
		state = disconnect(state, newErrorInfo(wallet.KindWalletDisconnected, ""))
		return state, nil
	}

	first := ev.Accounts[0]
	if state.Account != nil && *state.Account == first {
		return state, nil
	}
	state.Account = &first
	state.SignerGen++
	return state, []actor.Effect{effDeriveSigner{Gen: state.SignerGen, Account: first}}
}

// signerStale reports whether the signer is still bound to an account other
// than the selected one.
func signerStale(state State) bool {
	return state.Signer == nil || state.Account == nil || state.Signer.Address() != *state.Account
}

func reduceSignerRebound(state State, ev evSignerRebound) (State, []actor.Effect) {
	if ev.Gen != state.SignerGen || state.Connection != Connected || ev.Signer == nil {
		return state, nil
	}
	if state.Account == nil || ev.Signer.Address() != *state.Account {
		return state, nil
	}
	state.Signer = ev.Signer

	held := state.Held
	state.Held = OpNone
	if state.Busy {
		return state, nil
	}
	switch held {
	case OpRead:
		state, read := startRead(state)
		return state, []actor.Effect{read}
	case OpWrite:
		if strings.TrimSpace(state.PendingInput) == "" {
			return state, nil
		}
		state = begin(state, OpWrite)
		return state, []actor.Effect{effWrite{Gen: state.OpGen, Signer: state.Signer, Text: state.PendingInput}}
	}
	return state, nil
}

func reduceSignerFailed(state State, ev evSignerFailed) (State, []actor.Effect) {
	if ev.Gen != state.SignerGen || state.Connection != Connected {
		return state, nil
	}
	state = disconnect(state, classify(ev.Err, wallet.KindNoActiveAccount))
	return state, nil
}

func reduceRefresh(state State) (State, []actor.Effect) {
	if state.Connection != Connected || state.Busy || state.Held != OpNone {
		return state, nil
	}
	if signerStale(state) {
		state.Held = OpRead
		return state, nil
	}
	state, read := startRead(state)
	return state, []actor.Effect{read}
}

func reduceReadDone(state State, ev evReadDone) (State, []actor.Effect) {
	state, ok := finish(state, ev.Gen, OpRead)
	if !ok || state.Connection != Connected {
		return state, nil
	}
	value := ev.Value
	state.CachedValue = &value
	return state, nil
}

func reduceReadFailed(state State, ev evReadFailed) (State, []actor.Effect) {
	state, ok := finish(state, ev.Gen, OpRead)
	if !ok || state.Connection != Connected {
		return state, nil
	}
	state.LastError = classify(ev.Err, wallet.KindRemoteReadFailed)
	return state, nil
}

func reduceSubmit(state State, cmd cmdSubmit) (State, []actor.Effect) {
	if state.Busy || state.Held == OpWrite {
		return state, nil
	}
	state.PendingInput = cmd.Text
	if strings.TrimSpace(cmd.Text) == "" {
		state.LastError = newErrorInfo(wallet.KindEmptyInput, "")
		return state, nil
	}
	if state.Connection != Connected {
		return state, nil
	}
	if signerStale(state) {
		state.Held = OpWrite
		state.LastError = nil
		return state, nil
	}

	state = begin(state, OpWrite)
	return state, []actor.Effect{effWrite{Gen: state.OpGen, Signer: state.Signer, Text: cmd.Text}}
}

func reduceWriteDone(state State, ev evWriteDone) (State, []actor.Effect) {
	state, ok := finish(state, ev.Gen, OpWrite)
	if !ok {
		return state, nil
	}
	// The write is durable even if the wallet went away meanwhile.
	state.PendingInput = ""
	if state.Connection != Connected {
		return state, nil
	}
	state, read := startRead(state)
	return state, []actor.Effect{read}
}

func reduceWriteFailed(state State, ev evWriteFailed) (State, []actor.Effect) {
	state, ok := finish(state, ev.Gen, OpWrite)
	if !ok || state.Connection != Connected {
		return state, nil
	}
	state.LastError = classify(ev.Err, wallet.KindRemoteWriteFailed)
	return state, nil
}

// begin marks op as in flight under a fresh generation and clears the last
// error.
func begin(state State, op Op) State {
	state.OpGen++
	state.Busy = true
	state.InFlight = op
	state.LastError = nil
	return state
}

// finish clears the busy flag if gen/op identify the operation in flight.
// It reports false for completions of anything else.
func finish(state State, gen int64, op Op) (State, bool) {
	if gen != state.OpGen || state.InFlight != op {
		return state, false
	}
	state.Busy = false
	state.InFlight = OpNone
	return state, true
}

func startRead(state State) (State, actor.Effect) {
	state = begin(state, OpRead)
	return state, effRead{Gen: state.OpGen, Signer: state.Signer}
}

// disconnect drops the account binding. An operation still in flight keeps
// Busy set until its completion arrives and is discarded.
func disconnect(state State, cause *ErrorInfo) State {
	state.Connection = Disconnected
	state.Account = nil
	state.Signer = nil
	state.SignerGen++
	state.Held = OpNone
	state.LastError = cause
	return state
}

func newErrorInfo(kind wallet.Kind, reason string) *ErrorInfo {
	return &ErrorInfo{Kind: kind, Message: wallet.MessageFor(kind), Reason: reason}
}

// classify converts an adapter error into ErrorInfo, using fallback for
// errors outside the taxonomy.
func classify(err error, fallback wallet.Kind) *ErrorInfo {
	if err == nil {
		return newErrorInfo(fallback, "")
	}
	e := wallet.Classify(err, fallback)
	info := newErrorInfo(e.Kind, e.Reason)
	if e.Message != "" {
		info.Message = e.Message
	}
	return info
}
