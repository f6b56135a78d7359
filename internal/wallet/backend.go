package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// ProviderBackend serves contract reads and receipt lookups through the
// wallet's own RPC connection. It has the same method set as the parts of
// ethclient.Client the contract client needs.
type ProviderBackend struct {
	gateway *Gateway
}

type callRequest struct {
	From *common.Address `json:"from,omitempty"`
	To   *common.Address `json:"to"`
	Data hexutil.Bytes   `json:"data"`
}

// CallContract executes a read-only call.
func (b *ProviderBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if !b.gateway.IsAvailable() {
		return nil, NewError(KindProviderUnavailable, nil)
	}
	req := callRequest{To: msg.To, Data: msg.Data}
	if msg.From != (common.Address{}) {
		from := msg.From
		req.From = &from
	}
	block := "latest"
	if blockNumber != nil {
		block = hexutil.EncodeBig(blockNumber)
	}

	var out hexutil.Bytes
	if err := b.gateway.provider.Request(ctx, methodCall, []any{req, block}, &out); err != nil {
		return nil, fmt.Errorf("eth_call: %w", err)
	}
	return out, nil
}

// TransactionReceipt returns the receipt of a mined transaction, or
// ethereum.NotFound while it is pending.
func (b *ProviderBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if !b.gateway.IsAvailable() {
		return nil, NewError(KindProviderUnavailable, nil)
	}
	var raw json.RawMessage
	if err := b.gateway.provider.Request(ctx, methodReceipt, []any{txHash}, &raw); err != nil {
		return nil, fmt.Errorf("eth_getTransactionReceipt: %w", err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ethereum.NotFound
	}
	var receipt types.Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &receipt, nil
}
