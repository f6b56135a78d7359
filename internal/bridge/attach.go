package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/bhandras/greeter/internal/wallet"
	"github.com/bhandras/greeter/pkg/logger"
	"github.com/bhandras/greeter/pkg/wire"
	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"
)

// Attachment serves a wallet.Provider to the relay as the wallet side of a
// pairing.
type Attachment struct {
	provider wallet.Provider
	ctx      context.Context
	cancel   context.CancelFunc

	mu        sync.RWMutex
	socket    *socket.Socket
	connected bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Attach connects provider to the relay at serverURL using a wallet pairing
// token. Requests forwarded by the relay are answered by provider; its
// pushed events are forwarded to the dapp.
func Attach(serverURL, token string, provider wallet.Provider) (*Attachment, error) {
	if provider == nil {
		return nil, errors.New("nil provider")
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Attachment{provider: provider, ctx: ctx, cancel: cancel}

	opts := socket.DefaultOptions()
	opts.SetPath(wire.SocketPath)
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	opts.SetAuth(map[string]any{"token": token})

	sock, err := socket.Connect(serverURL, opts)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	a.mu.Lock()
	a.socket = sock
	a.mu.Unlock()

	sock.On(types.EventName("connect"), func(args ...any) {
		a.mu.Lock()
		a.connected = true
		a.mu.Unlock()
		logger.Debugf("Wallet attached to relay (socket %s)", sock.Id())
	})
	sock.On(types.EventName("disconnect"), func(args ...any) {
		a.mu.Lock()
		a.connected = false
		a.mu.Unlock()
		logger.Debugf("Wallet detached from relay: %s", firstString(args))
	})
	sock.On(types.EventName(wire.EventWalletRequest), func(args ...any) {
		rest, ack := splitAck(args)
		if ack == nil {
			logger.Warnf("Dropping %s without ack", wire.EventWalletRequest)
			return
		}
		var req wire.WalletRequest
		if err := decodeFirst(rest, &req); err != nil {
			ack(wire.WalletResponse{Error: &wire.ProviderError{
				Code:    wire.CodeInvalidRequest,
				Message: "invalid request",
			}})
			return
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			ack(a.serve(req))
		}()
	})

	provider.Listen(wallet.Listener{
		AccountsChanged: func(accounts []string) {
			if accounts == nil {
				accounts = []string{}
			}
			a.emit(wire.EventAccountsChanged, wire.AccountsChangedPayload{Accounts: accounts})
		},
		ChainChanged: func(chainID string) {
			a.emit(wire.EventChainChanged, wire.ChainChangedPayload{ChainID: chainID})
		},
	})

	return a, nil
}

// serve answers one forwarded request.
func (a *Attachment) serve(req wire.WalletRequest) wire.WalletResponse {
	var raw json.RawMessage
	err := a.provider.Request(a.ctx, req.Method, req.Params, &raw)
	if err == nil {
		return wire.WalletResponse{ID: req.ID, Result: raw}
	}

	logger.Debugf("wallet-request %s id=%s failed: %v", req.Method, req.ID, err)
	var rpcErr *wallet.RPCError
	if errors.As(err, &rpcErr) {
		return wire.WalletResponse{ID: req.ID, Error: &wire.ProviderError{
			Code:    rpcErr.Code,
			Message: rpcErr.Message,
			Data:    rpcErr.Data,
		}}
	}
	return wire.WalletResponse{ID: req.ID, Error: &wire.ProviderError{
		Code:    wire.CodeInternal,
		Message: err.Error(),
	}}
}

func (a *Attachment) emit(event string, payload any) {
	a.mu.RLock()
	sock := a.socket
	connected := a.connected
	a.mu.RUnlock()
	if sock == nil || !connected {
		logger.Debugf("Dropping %s while detached", event)
		return
	}
	sock.Emit(event, payload)
}

// IsConnected reports whether the relay socket is up.
func (a *Attachment) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// Close detaches from the relay and waits for in-flight requests.
func (a *Attachment) Close() error {
	a.closeOnce.Do(func() {
		a.provider.Listen(wallet.Listener{})
		a.cancel()
		a.mu.Lock()
		sock := a.socket
		a.connected = false
		a.mu.Unlock()
		if sock != nil {
			sock.Disconnect()
		}
		a.wg.Wait()
	})
	return nil
}
