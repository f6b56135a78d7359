package wallet

import (
	"context"
	"reflect"
)

// Provider is the injected wallet capability: an EIP-1193 style request
// function plus a push channel for account and chain changes.
type Provider interface {
	// Available reports whether a wallet is currently attached.
	Available() bool

	// Request performs an RPC against the wallet and decodes the JSON result
	// into result (which may be nil). Provider failures are *RPCError.
	Request(ctx context.Context, method string, params []any, result any) error

	// Listen installs the push listener, replacing any previous one. Events
	// must be delivered in the order they occurred.
	Listen(l Listener)
}

// Listener receives pushed wallet events.
type Listener struct {
	AccountsChanged func(accounts []string)
	ChainChanged    func(chainID string)
}

// isNilProvider treats a typed-nil provider the same as no provider.
func isNilProvider(p Provider) bool {
	if p == nil {
		return true
	}
	rv := reflect.ValueOf(p)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice:
		return rv.IsNil()
	default:
		return false
	}
}
