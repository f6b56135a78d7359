// Package wire defines the socket.io payloads exchanged between greeter, the
// relay and the wallet bridge page.
package wire

import "encoding/json"

// SocketPath is the socket.io endpoint path served by the relay.
const SocketPath = "/v1/bridge"

// Event names used on the bridge sockets.
const (
	// EventWalletRequest carries one EIP-1193 request (dapp -> relay ->
	// wallet). It is always emitted with an ack.
	EventWalletRequest = "wallet-request"
	// EventAccountsChanged forwards the wallet's accountsChanged push.
	EventAccountsChanged = "accountsChanged"
	// EventChainChanged forwards the wallet's chainChanged push.
	EventChainChanged = "chainChanged"
	// EventWalletPresence tells the dapp whether a wallet page is attached.
	EventWalletPresence = "wallet-presence"
	// EventError reports a handshake failure right before disconnect.
	EventError = "error"
)

// Error codes used by the relay when the wallet cannot answer. The values
// follow EIP-1193 and JSON-RPC conventions.
const (
	CodeDisconnected   = 4900
	CodeInternal       = -32603
	CodeLimitExceeded  = -32005
	CodeInvalidRequest = -32600
)

// SocketAuthPayload is the socket.io handshake auth object.
type SocketAuthPayload struct {
	// Token is a pairing JWT. Its role claim decides whether the socket is
	// the dapp or the wallet side of the pairing.
	Token string `json:"token"`
}

// WalletRequest is one EIP-1193 request.
type WalletRequest struct {
	// ID correlates the request in logs on both sides.
	ID string `json:"id"`
	// Method is the JSON-RPC method name, e.g. "eth_call".
	Method string `json:"method"`
	// Params are the positional method parameters.
	Params []any `json:"params,omitempty"`
}

// WalletResponse is the ack payload for a WalletRequest. Exactly one of
// Result and Error is meaningful.
type WalletResponse struct {
	// ID echoes WalletRequest.ID.
	ID string `json:"id,omitempty"`
	// Result is the raw JSON result. A missing result decodes as null.
	Result json.RawMessage `json:"result,omitempty"`
	// Error is set when the wallet or the relay refused the request.
	Error *ProviderError `json:"error,omitempty"`
}

// ProviderError mirrors the EIP-1193 ProviderRpcError object.
type ProviderError struct {
	// Code is the numeric provider error code, e.g. 4001 for a rejection.
	Code int `json:"code"`
	// Message is the provider's human readable message.
	Message string `json:"message"`
	// Data is optional extra data, typically revert bytes for eth_call.
	Data any `json:"data,omitempty"`
}

// AccountsChangedPayload carries the wallet's current account list. An empty
// list means the wallet revoked access.
type AccountsChangedPayload struct {
	Accounts []string `json:"accounts"`
}

// ChainChangedPayload carries the new chain id in hex.
type ChainChangedPayload struct {
	ChainID string `json:"chainId"`
}

// PresencePayload reports whether the wallet side of the pairing is online.
type PresencePayload struct {
	Online bool `json:"online"`
}

// ErrorPayload is emitted with EventError.
type ErrorPayload struct {
	Message string `json:"message"`
}
