package wallet

import (
	"context"
	"sync"

	"github.com/bhandras/greeter/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
)

const (
	methodRequestAccounts = "eth_requestAccounts"
	methodAccounts        = "eth_accounts"
	methodSendTransaction = "eth_sendTransaction"
	methodCall            = "eth_call"
	methodReceipt         = "eth_getTransactionReceipt"
	methodChainID         = "eth_chainId"
)

// Gateway is the only component that touches the injected provider.
type Gateway struct {
	provider Provider

	mu    sync.Mutex
	subID uint64
}

// NewGateway wraps p. A nil p yields a gateway that is never available.
func NewGateway(p Provider) *Gateway {
	if isNilProvider(p) {
		p = nil
	}
	return &Gateway{provider: p}
}

// IsAvailable reports whether a wallet capability is present.
func (g *Gateway) IsAvailable() bool {
	return g.provider != nil && g.provider.Available()
}

// AuthorizedAccounts returns the accounts the wallet already authorized,
// without prompting.
func (g *Gateway) AuthorizedAccounts(ctx context.Context) ([]common.Address, error) {
	return g.accounts(ctx, methodAccounts)
}

// RequestAccounts prompts the wallet for account access.
func (g *Gateway) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return g.accounts(ctx, methodRequestAccounts)
}

func (g *Gateway) accounts(ctx context.Context, method string) ([]common.Address, error) {
	if !g.IsAvailable() {
		return nil, NewError(KindProviderUnavailable, nil)
	}
	var raw []string
	if err := g.provider.Request(ctx, method, nil, &raw); err != nil {
		return nil, Classify(err, KindProviderUnavailable)
	}
	return parseAccounts(raw), nil
}

// GetSigner returns a signer bound to the currently authorized account.
func (g *Gateway) GetSigner(ctx context.Context) (*Signer, error) {
	accounts, err := g.AuthorizedAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, NewError(KindNoActiveAccount, nil)
	}
	return &Signer{account: accounts[0], provider: g.provider}, nil
}

// ChainID returns the wallet's current chain id as a 0x-prefixed hex string.
func (g *Gateway) ChainID(ctx context.Context) (string, error) {
	if !g.IsAvailable() {
		return "", NewError(KindProviderUnavailable, nil)
	}
	var id string
	if err := g.provider.Request(ctx, methodChainID, nil, &id); err != nil {
		return "", Classify(err, KindProviderUnavailable)
	}
	return id, nil
}

// Subscribe installs account and network callbacks. Re-subscribing replaces
// the previous pair; callbacks from a replaced subscription are dropped.
func (g *Gateway) Subscribe(onAccountsChanged func([]common.Address), onNetworkChanged func(string)) {
	if g.provider == nil {
		return
	}

	g.mu.Lock()
	g.subID++
	id := g.subID
	g.mu.Unlock()

	current := func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.subID == id
	}

	g.provider.Listen(Listener{
		AccountsChanged: func(raw []string) {
			if !current() {
				return
			}
			logger.Tracef("wallet: accountsChanged %v", raw)
			if onAccountsChanged != nil {
				onAccountsChanged(parseAccounts(raw))
			}
		},
		ChainChanged: func(chainID string) {
			if !current() {
				return
			}
			logger.Tracef("wallet: chainChanged %s", chainID)
			if onNetworkChanged != nil {
				onNetworkChanged(chainID)
			}
		},
	})
}

// Backend returns a contract backend that routes calls through the wallet.
func (g *Gateway) Backend() *ProviderBackend {
	return &ProviderBackend{gateway: g}
}
