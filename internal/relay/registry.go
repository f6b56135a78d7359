package relay

import (
	"sync"

	"github.com/bhandras/greeter/internal/crypto"
)

// pairingSlots holds the socket ids attached to one pairing.
type pairingSlots struct {
	dapp   string
	wallet string
}

func (p *pairingSlots) get(role crypto.Role) string {
	if role == crypto.RoleWallet {
		return p.wallet
	}
	return p.dapp
}

func (p *pairingSlots) set(role crypto.Role, socketID string) {
	if role == crypto.RoleWallet {
		p.wallet = socketID
		return
	}
	p.dapp = socketID
}

// Registry tracks which socket holds each role of each pairing. It stores
// socket ids, not sockets, so lookups can be validated against the live
// connection map.
type Registry struct {
	mu       sync.RWMutex
	pairings map[string]*pairingSlots
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{pairings: make(map[string]*pairingSlots)}
}

// Join places socketID in role for pairingID and returns the socket it
// displaced, if any. A pairing admits one socket per role; the newest wins.
func (r *Registry) Join(pairingID string, role crypto.Role, socketID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slots, ok := r.pairings[pairingID]
	if !ok {
		slots = &pairingSlots{}
		r.pairings[pairingID] = slots
	}
	prev := slots.get(role)
	slots.set(role, socketID)
	return prev, prev != "" && prev != socketID
}

// Leave clears role for pairingID if socketID still holds it. It reports
// whether anything was removed.
func (r *Registry) Leave(pairingID string, role crypto.Role, socketID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	slots, ok := r.pairings[pairingID]
	if !ok || slots.get(role) != socketID {
		return false
	}
	slots.set(role, "")
	if slots.dapp == "" && slots.wallet == "" {
		delete(r.pairings, pairingID)
	}
	return true
}

// Lookup returns the socket holding role in pairingID.
func (r *Registry) Lookup(pairingID string, role crypto.Role) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slots, ok := r.pairings[pairingID]
	if !ok {
		return "", false
	}
	id := slots.get(role)
	return id, id != ""
}

// Len returns the number of pairings with at least one socket attached.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pairings)
}

// peerRole returns the other side of a pairing.
func peerRole(role crypto.Role) crypto.Role {
	if role == crypto.RoleWallet {
		return crypto.RoleDapp
	}
	return crypto.RoleWallet
}
