package wallet

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ShortAddress renders an address as a head/tail string, e.g. 0x9a36...5A7b.
func ShortAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}

// ParseAddress parses a 0x-prefixed 20-byte hex address.
func ParseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

// parseAccounts converts provider account strings, dropping malformed
// entries while keeping provider order.
func parseAccounts(raw []string) []common.Address {
	out := make([]common.Address, 0, len(raw))
	for _, s := range raw {
		addr, err := ParseAddress(s)
		if err != nil {
			continue
		}
		out = append(out, addr)
	}
	return out
}
