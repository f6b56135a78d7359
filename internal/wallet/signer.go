package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Signer submits transactions from a single authorized account.
type Signer struct {
	account  common.Address
	provider Provider
}

// NewSigner binds account to p. Most callers obtain a Signer from
// Gateway.GetSigner instead.
func NewSigner(account common.Address, p Provider) *Signer {
	return &Signer{account: account, provider: p}
}

// Address returns the signing account.
func (s *Signer) Address() common.Address { return s.account }

// txRequest is the eth_sendTransaction parameter object.
type txRequest struct {
	From common.Address `json:"from"`
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

// SendTransaction asks the wallet to sign and broadcast a call to `to`.
// Errors are returned unclassified so callers can pick the failure kind.
func (s *Signer) SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if s == nil || isNilProvider(s.provider) {
		return common.Hash{}, NewError(KindNoActiveAccount, nil)
	}
	var hash common.Hash
	req := txRequest{From: s.account, To: to, Data: data}
	if err := s.provider.Request(ctx, methodSendTransaction, []any{req}, &hash); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}
	return hash, nil
}
