package session

import (
	"github.com/bhandras/greeter/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
)

// Snapshot is the read-only view of State handed to observers. It never
// carries the signer.
type Snapshot struct {
	Connection   Connection
	Account      *common.Address
	Busy         bool
	LastError    *ErrorInfo
	CachedValue  *string
	PendingInput string
}

// SnapshotOf copies the observable fields of s.
func SnapshotOf(s State) Snapshot {
	snap := Snapshot{
		Connection:   s.Connection,
		Busy:         s.Busy || s.Held != OpNone,
		PendingInput: s.PendingInput,
	}
	if s.Account != nil {
		addr := *s.Account
		snap.Account = &addr
	}
	if s.LastError != nil {
		e := *s.LastError
		snap.LastError = &e
	}
	if s.CachedValue != nil {
		v := *s.CachedValue
		snap.CachedValue = &v
	}
	return snap
}

// AccountDisplay renders the account in head/tail form, or "" when
// disconnected.
func (s Snapshot) AccountDisplay() string {
	if s.Account == nil {
		return ""
	}
	return wallet.ShortAddress(*s.Account)
}

// Value returns the cached value and whether one has been read.
func (s Snapshot) Value() (string, bool) {
	if s.CachedValue == nil {
		return "", false
	}
	return *s.CachedValue, true
}

// Equal reports whether two snapshots show the same state.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.Connection != o.Connection || s.Busy != o.Busy || s.PendingInput != o.PendingInput {
		return false
	}
	if (s.Account == nil) != (o.Account == nil) || (s.Account != nil && *s.Account != *o.Account) {
		return false
	}
	if (s.LastError == nil) != (o.LastError == nil) || (s.LastError != nil && *s.LastError != *o.LastError) {
		return false
	}
	if (s.CachedValue == nil) != (o.CachedValue == nil) || (s.CachedValue != nil && *s.CachedValue != *o.CachedValue) {
		return false
	}
	return true
}
