// Package wallettest provides an in-memory wallet provider for tests.
package wallettest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bhandras/greeter/internal/wallet"
)

// HandlerFunc answers one RPC method. The returned value is JSON round-tripped
// into the caller's result, as the bridge would do.
type HandlerFunc func(params []any) (any, error)

// Call records a request made against the provider.
type Call struct {
	Method string
	Params []any
}

// Provider is a scriptable wallet.Provider.
type Provider struct {
	mu       sync.Mutex
	present  bool
	handlers map[string]HandlerFunc
	calls    []Call
	listener wallet.Listener
	listens  int
}

var _ wallet.Provider = (*Provider)(nil)

// NewProvider returns an attached provider with no handlers.
func NewProvider() *Provider {
	return &Provider{present: true, handlers: make(map[string]HandlerFunc)}
}

// SetAvailable toggles wallet presence.
func (p *Provider) SetAvailable(v bool) {
	p.mu.Lock()
	p.present = v
	p.mu.Unlock()
}

// Handle installs the handler for method.
func (p *Provider) Handle(method string, h HandlerFunc) {
	p.mu.Lock()
	p.handlers[method] = h
	p.mu.Unlock()
}

// Accounts makes eth_accounts and eth_requestAccounts return accounts.
func (p *Provider) Accounts(accounts ...string) {
	h := func([]any) (any, error) { return accounts, nil }
	p.Handle("eth_accounts", h)
	p.Handle("eth_requestAccounts", h)
}

// Available implements wallet.Provider.
func (p *Provider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present
}

// Request implements wallet.Provider.
func (p *Provider) Request(ctx context.Context, method string, params []any, result any) error {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Method: method, Params: params})
	h := p.handlers[method]
	p.mu.Unlock()

	if h == nil {
		return &wallet.RPCError{Code: wallet.CodeUnsupportedMethod, Message: fmt.Sprintf("method %s not supported", method)}
	}
	out, err := h(params)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

// Listen implements wallet.Provider.
func (p *Provider) Listen(l wallet.Listener) {
	p.mu.Lock()
	p.listener = l
	p.listens++
	p.mu.Unlock()
}

// Listens returns how many times Listen was called.
func (p *Provider) Listens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listens
}

// Calls returns the recorded requests.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns how many times method was requested.
func (p *Provider) CallCount(method string) int {
	n := 0
	for _, c := range p.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// PushAccounts delivers an accountsChanged event synchronously.
func (p *Provider) PushAccounts(accounts ...string) {
	p.mu.Lock()
	fn := p.listener.AccountsChanged
	p.mu.Unlock()
	if fn != nil {
		fn(accounts)
	}
}

// PushChain delivers a chainChanged event synchronously.
func (p *Provider) PushChain(chainID string) {
	p.mu.Lock()
	fn := p.listener.ChainChanged
	p.mu.Unlock()
	if fn != nil {
		fn(chainID)
	}
}
