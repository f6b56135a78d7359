// Package contract binds a signer to the greeter contract.
package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/bhandras/greeter/internal/wallet"
	"github.com/bhandras/greeter/pkg/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DefaultPollInterval is how often a pending receipt is re-queried.
const DefaultPollInterval = 2 * time.Second

// Backend is the read side of the chain. *ethclient.Client and
// *wallet.ProviderBackend both satisfy it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Sender submits transactions on behalf of one account.
type Sender interface {
	Address() common.Address
	SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
}

// Client reads and writes the greeting stored at a fixed address.
type Client struct {
	address      common.Address
	signer       Sender
	backend      Backend
	pollInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithPollInterval sets the receipt polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// New returns a client for the contract at address. signer may be nil for a
// read-only client.
func New(address common.Address, signer Sender, backend Backend, opts ...Option) *Client {
	c := &Client{
		address:      address,
		signer:       signer,
		backend:      backend,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Address returns the contract address.
func (c *Client) Address() common.Address { return c.address }

func (c *Client) from() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

// ReadValue returns the current greeting.
func (c *Client) ReadValue(ctx context.Context) (string, error) {
	data, err := parsedABI.Pack(methodGet)
	if err != nil {
		return "", readFailed(err)
	}
	to := c.address
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from(), To: &to, Data: data}, nil)
	if err != nil {
		return "", readFailed(err)
	}
	values, err := parsedABI.Unpack(methodGet, out)
	if err != nil {
		return "", readFailed(fmt.Errorf("decode %s: %w", methodGet, err))
	}
	if len(values) != 1 {
		return "", readFailed(fmt.Errorf("decode %s: got %d values", methodGet, len(values)))
	}
	text, ok := values[0].(string)
	if !ok {
		return "", readFailed(fmt.Errorf("decode %s: unexpected type %T", methodGet, values[0]))
	}
	return text, nil
}

// WriteValue submits text and blocks until the transaction is mined with a
// success status.
func (c *Client) WriteValue(ctx context.Context, text string) (*types.Receipt, error) {
	if strings.TrimSpace(text) == "" {
		return nil, wallet.NewError(wallet.KindEmptyInput, nil)
	}
	if c.signer == nil {
		return nil, wallet.NewError(wallet.KindNoActiveAccount, nil)
	}
	data, err := parsedABI.Pack(methodSet, text)
	if err != nil {
		return nil, writeFailed(err)
	}

	hash, err := c.signer.SendTransaction(ctx, c.address, data)
	if err != nil {
		return nil, writeFailed(err)
	}
	logger.Debugf("contract: %s submitted tx=%s", methodSet, hash.Hex())

	receipt, err := c.waitMined(ctx, hash)
	if err != nil {
		return nil, writeFailed(err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		out := wallet.NewError(wallet.KindRemoteWriteFailed, nil)
		out.Reason = c.revertReason(ctx, data, receipt)
		return nil, out
	}
	logger.Debugf("contract: tx=%s confirmed in block %v", hash.Hex(), receipt.BlockNumber)
	return receipt, nil
}

func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// revertReason replays a reverted call at its block to recover the reason.
func (c *Client) revertReason(ctx context.Context, data []byte, receipt *types.Receipt) string {
	to := c.address
	_, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from(), To: &to, Data: data}, receipt.BlockNumber)
	if err == nil {
		return "transaction reverted"
	}
	if reason := wallet.Classify(err, wallet.KindRemoteWriteFailed).Reason; reason != "" {
		return reason
	}
	return "transaction reverted"
}

func readFailed(err error) error {
	out := wallet.NewError(wallet.KindRemoteReadFailed, err)
	out.Reason = wallet.Classify(err, wallet.KindRemoteReadFailed).Reason
	return out
}

func writeFailed(err error) error {
	classified := wallet.Classify(err, wallet.KindRemoteWriteFailed)
	if classified.Kind == wallet.KindUserRejected {
		return classified
	}
	out := wallet.NewError(wallet.KindRemoteWriteFailed, err)
	out.Reason = classified.Reason
	return out
}
