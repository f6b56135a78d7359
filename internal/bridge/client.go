// Package bridge reaches a browser wallet through the greeter relay.
//
// Client is the dapp side: it implements wallet.Provider by sending each
// EIP-1193 request as an acked socket.io event and turning the wallet's
// pushed events into Listener calls. Attach is the wallet side: it serves a
// wallet.Provider to the relay, which is what the bridge page does for a real
// browser wallet.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bhandras/greeter/internal/wallet"
	"github.com/bhandras/greeter/pkg/logger"
	"github.com/bhandras/greeter/pkg/wire"
	"github.com/google/uuid"
	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"
)

// DefaultRequestTimeout bounds one relay round trip when no timeout is set.
// Wallet prompts wait on a human, so it is generous.
const DefaultRequestTimeout = 2 * time.Minute

// ErrNotConnected is returned by Request before the relay socket is up.
var ErrNotConnected = errors.New("relay not connected")

// Client is a socket.io connection to the relay acting as the dapp side of a
// pairing.
type Client struct {
	serverURL string
	token     string
	timeout   time.Duration

	mu        sync.RWMutex
	socket    *socket.Socket
	connected bool
	online    bool
	authErr   string
	listener  wallet.Listener
	closeOnce sync.Once
}

var _ wallet.Provider = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient returns a client for the relay at serverURL authenticating with
// a dapp pairing token. Call Connect to open the socket.
func NewClient(serverURL, token string, opts ...Option) *Client {
	c := &Client{
		serverURL: serverURL,
		token:     token,
		timeout:   DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the socket. Connection progress is asynchronous; use
// WaitForWallet to block until a wallet is attached.
func (c *Client) Connect() error {
	logger.Debugf("Connecting to relay: %s (path: %s)", c.serverURL, wire.SocketPath)

	opts := socket.DefaultOptions()
	opts.SetPath(wire.SocketPath)
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	opts.SetAuth(map[string]any{"token": c.token})

	sock, err := socket.Connect(c.serverURL, opts)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.mu.Lock()
	c.socket = sock
	c.mu.Unlock()

	sock.On(types.EventName("connect"), func(args ...any) {
		c.mu.Lock()
		c.connected = true
		c.authErr = ""
		c.mu.Unlock()
		logger.Debugf("Relay connected (socket %s)", sock.Id())
	})

	sock.On(types.EventName("disconnect"), func(args ...any) {
		c.mu.Lock()
		c.connected = false
		c.online = false
		c.mu.Unlock()
		logger.Debugf("Relay disconnected: %s", firstString(args))
	})

	sock.On(types.EventName("connect_error"), func(args ...any) {
		if len(args) > 0 {
			logger.Warnf("Relay connection error: %v", args[0])
		}
	})

	sock.On(types.EventName(wire.EventError), func(args ...any) {
		var payload wire.ErrorPayload
		if err := decodeFirst(args, &payload); err != nil {
			return
		}
		c.mu.Lock()
		c.authErr = payload.Message
		c.mu.Unlock()
		logger.Warnf("Relay rejected connection: %s", payload.Message)
	})

	sock.On(types.EventName(wire.EventWalletPresence), func(args ...any) {
		var payload wire.PresencePayload
		if err := decodeFirst(args, &payload); err != nil {
			logger.Warnf("Invalid %s payload: %v", wire.EventWalletPresence, err)
			return
		}
		c.mu.Lock()
		changed := c.online != payload.Online
		c.online = payload.Online
		c.mu.Unlock()
		if changed {
			logger.Infof("Wallet %s", presenceWord(payload.Online))
		}
	})

	// Wallet pushes are delivered on the socket's event goroutine, one at a
	// time, so listeners observe them in arrival order.
	sock.On(types.EventName(wire.EventAccountsChanged), func(args ...any) {
		var payload wire.AccountsChangedPayload
		if err := decodeFirst(args, &payload); err != nil {
			logger.Warnf("Invalid %s payload: %v", wire.EventAccountsChanged, err)
			return
		}
		c.mu.RLock()
		fn := c.listener.AccountsChanged
		c.mu.RUnlock()
		if fn != nil {
			fn(payload.Accounts)
		}
	})

	sock.On(types.EventName(wire.EventChainChanged), func(args ...any) {
		var payload wire.ChainChangedPayload
		if err := decodeFirst(args, &payload); err != nil {
			logger.Warnf("Invalid %s payload: %v", wire.EventChainChanged, err)
			return
		}
		c.mu.RLock()
		fn := c.listener.ChainChanged
		c.mu.RUnlock()
		if fn != nil {
			fn(payload.ChainID)
		}
	})

	return nil
}

// IsConnected reports whether the relay socket is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Available reports whether the relay is connected and a wallet page is
// attached to the pairing.
func (c *Client) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.online
}

// WaitForWallet blocks until Available, the relay rejects the token, or ctx
// ends.
func (c *Client) WaitForWallet(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		c.mu.RLock()
		ready := c.connected && c.online
		authErr := c.authErr
		c.mu.RUnlock()
		if ready {
			return nil
		}
		if authErr != "" {
			return fmt.Errorf("relay rejected connection: %s", authErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Listen installs l, replacing the previous listener.
func (c *Client) Listen(l wallet.Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

type ackResult struct {
	args []any
	err  error
}

// Request sends one wallet-request and waits for the ack, ctx, or the
// request timeout, whichever comes first.
func (c *Client) Request(ctx context.Context, method string, params []any, result any) error {
	c.mu.RLock()
	sock := c.socket
	connected := c.connected
	c.mu.RUnlock()
	if sock == nil || !connected {
		return &wallet.RPCError{Code: wire.CodeDisconnected, Message: ErrNotConnected.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := wire.WalletRequest{ID: uuid.NewString(), Method: method, Params: params}
	logger.Tracef("wallet-request %s id=%s", method, req.ID)

	done := make(chan ackResult, 1)
	sock.Emit(wire.EventWalletRequest, req, func(args []any, err error) {
		done <- ackResult{args: args, err: err}
	})

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("%s ack: %w", method, res.err)
		}
		resp, err := decodeResponse(res.args)
		if err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
		return decodeResult(resp, result)
	}
}

// Close disconnects from the relay.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		sock := c.socket
		c.connected = false
		c.online = false
		c.mu.Unlock()
		if sock != nil {
			sock.Disconnect()
		}
	})
	return nil
}

func presenceWord(online bool) string {
	if online {
		return "attached"
	}
	return "detached"
}
