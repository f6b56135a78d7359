package session

import (
	"github.com/bhandras/greeter/internal/actor"
	"github.com/bhandras/greeter/internal/contract"
	"github.com/bhandras/greeter/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
)

// Connection is the wallet connection status.
type Connection string

const (
	// Disconnected means no account is bound.
	Disconnected Connection = "disconnected"
	// Connecting means account access is being requested.
	Connecting Connection = "connecting"
	// Connected means Account and Signer are bound.
	Connected Connection = "connected"
)

// Ordinal maps the status onto 0, 1, 2 for gauges.
func (c Connection) Ordinal() float64 {
	switch c {
	case Connecting:
		return 1
	case Connected:
		return 2
	default:
		return 0
	}
}

// Op names the remote operation currently in flight.
type Op string

const (
	OpNone    Op = ""
	OpConnect Op = "connect"
	OpRead    Op = "read"
	OpWrite   Op = "write"
)

// ErrorInfo is the last error recorded by the session.
type ErrorInfo struct {
	Kind    wallet.Kind
	Message string
	Reason  string
}

func (e ErrorInfo) String() string {
	if e.Reason != "" {
		return e.Message + ": " + e.Reason
	}
	return e.Message
}

// State is the loop-owned session state. Pointer fields are never mutated in
// place; the reducer replaces them.
type State struct {
	Connection Connection

	// Account and Signer are both set iff Connection is Connected.
	Account *common.Address
	Signer  contract.Sender

	// Busy is true while InFlight names an operation.
	Busy     bool
	InFlight Op

	LastError    *ErrorInfo
	CachedValue  *string
	PendingInput string

	// OpGen increments when a remote operation starts. Completions carry the
	// generation they were started with.
	OpGen int64

	// SignerGen increments when the account changes and the signer has to be
	// derived again.
	SignerGen int64

	// Held names an operation requested while the signer was still bound to
	// a previous account. It runs once the signer is rebound.
	Held Op
}

// Commands

type cmdStart struct {
	actor.InputBase
	Available bool
}

type cmdConnect struct {
	actor.InputBase
	Available bool
	// Prompt is false for the start-up reconnect of an already authorized
	// account.
	Prompt bool
}

type cmdRefresh struct {
	actor.InputBase
}

type cmdSubmit struct {
	actor.InputBase
	Text string
}

type cmdSetDraft struct {
	actor.InputBase
	Text string
}

// Events

type evConnected struct {
	actor.InputBase
	Gen    int64
	Signer contract.Sender
}

type evConnectFailed struct {
	actor.InputBase
	Gen int64
	Err error
}

// evAuthorized reports that the wallet already authorized an account.
type evAuthorized struct {
	actor.InputBase
}

type evAccountsChanged struct {
	actor.InputBase
	Accounts []common.Address
}

type evSignerRebound struct {
	actor.InputBase
	Gen    int64
	Signer contract.Sender
}

type evSignerFailed struct {
	actor.InputBase
	Gen int64
	Err error
}

type evNetworkChanged struct {
	actor.InputBase
	ChainID string
}

type evReadDone struct {
	actor.InputBase
	Gen   int64
	Value string
}

type evReadFailed struct {
	actor.InputBase
	Gen int64
	Err error
}

type evWriteDone struct {
	actor.InputBase
	Gen    int64
	TxHash common.Hash
}

type evWriteFailed struct {
	actor.InputBase
	Gen int64
	Err error
}

// Effects

// effProbeAuthorized asks the wallet for already authorized accounts and
// connects without a prompt when there are any.
type effProbeAuthorized struct {
	actor.EffectBase
}

type effConnect struct {
	actor.EffectBase
	Gen    int64
	Prompt bool
}

// effSubscribe (re)installs the wallet event subscription.
type effSubscribe struct {
	actor.EffectBase
}

type effRead struct {
	actor.EffectBase
	Gen    int64
	Signer contract.Sender
}

type effWrite struct {
	actor.EffectBase
	Gen    int64
	Signer contract.Sender
	Text   string
}

type effDeriveSigner struct {
	actor.EffectBase
	Gen     int64
	Account common.Address
}

// effRestart re-executes the process after a network change.
type effRestart struct {
	actor.EffectBase
	ChainID string
}
