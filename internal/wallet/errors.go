package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Kind is the closed set of failure categories surfaced to the session.
type Kind string

const (
	// KindProviderUnavailable means no wallet capability is present.
	KindProviderUnavailable Kind = "provider_unavailable"
	// KindUserRejected means the user declined a prompt in the wallet.
	KindUserRejected Kind = "user_rejected"
	// KindNoActiveAccount means the wallet has no authorized account.
	KindNoActiveAccount Kind = "no_active_account"
	// KindEmptyInput means a write was attempted with blank text.
	KindEmptyInput Kind = "empty_input"
	// KindRemoteReadFailed means reading the contract failed.
	KindRemoteReadFailed Kind = "remote_read_failed"
	// KindRemoteWriteFailed means submitting or confirming a write failed.
	KindRemoteWriteFailed Kind = "remote_write_failed"
	// KindWalletDisconnected means the wallet revoked every account.
	KindWalletDisconnected Kind = "wallet_disconnected"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
)

var defaultMessages = map[Kind]string{
	KindProviderUnavailable: "wallet provider not available",
	KindUserRejected:        "request rejected in wallet",
	KindNoActiveAccount:     "no authorized wallet account",
	KindEmptyInput:          "greeting must not be empty",
	KindRemoteReadFailed:    "failed to read greeting",
	KindRemoteWriteFailed:   "failed to update greeting",
	KindWalletDisconnected:  "wallet disconnected",
}

// Error is a classified failure. Reason carries a remote-supplied explanation
// (e.g. a revert string) when one exists.
type Error struct {
	Kind    Kind
	Message string
	Reason  string
	Err     error
}

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrProviderUnavailable = &Error{Kind: KindProviderUnavailable}
	ErrUserRejected        = &Error{Kind: KindUserRejected}
	ErrNoActiveAccount     = &Error{Kind: KindNoActiveAccount}
	ErrEmptyInput          = &Error{Kind: KindEmptyInput}
	ErrRemoteReadFailed    = &Error{Kind: KindRemoteReadFailed}
	ErrRemoteWriteFailed   = &Error{Kind: KindRemoteWriteFailed}
	ErrWalletDisconnected  = &Error{Kind: KindWalletDisconnected}
)

// NewError returns an Error of the given kind with its default message.
func NewError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: defaultMessages[kind], Err: cause}
}

// MessageFor returns the human-readable message for kind.
func MessageFor(kind Kind) string {
	if msg, ok := defaultMessages[kind]; ok {
		return msg
	}
	return string(kind)
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = defaultMessages[e.Kind]
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%v)", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// RPCError is an error object returned by the injected provider.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// Classify converts a provider or transport error into an *Error. Errors that
// are already classified pass through; anything unrecognized becomes fallback.
func Classify(err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case CodeUserRejected:
			return NewError(KindUserRejected, err)
		case CodeUnauthorized:
			return NewError(KindNoActiveAccount, err)
		case CodeDisconnected, CodeChainDisconnected:
			return NewError(KindProviderUnavailable, err)
		}
		out := NewError(fallback, err)
		out.Reason = revertReason(rpcErr)
		return out
	}
	return NewError(fallback, err)
}

// revertReason extracts a human-readable reason from a provider error, either
// from ABI-encoded revert data or from an "execution reverted: ..." message.
func revertReason(e *RPCError) string {
	if data, ok := e.Data.(string); ok && strings.HasPrefix(data, "0x") {
		if raw, err := hexutil.Decode(data); err == nil {
			if reason, err := abi.UnpackRevert(raw); err == nil {
				return reason
			}
		}
	}
	const prefix = "execution reverted:"
	if idx := strings.Index(e.Message, prefix); idx >= 0 {
		return strings.TrimSpace(e.Message[idx+len(prefix):])
	}
	return ""
}
