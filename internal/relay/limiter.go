package relay

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// evictEvery is how many Allow calls pass between idle-entry sweeps.
const evictEvery = 512

// pairingLimiter applies a token bucket per pairing id and periodically evicts
// idle entries.
type pairingLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[string]*limiterEntry
	hits  uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newPairingLimiter returns nil, which allows everything, when rps or burst is
// not positive.
func newPairingLimiter(rps float64, burst int, idleTTL time.Duration) *pairingLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &pairingLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		byKey:   make(map[string]*limiterEntry),
	}
}

// Allow reports whether the pairing may issue one more request at now.
func (l *pairingLimiter) Allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%evictEvery == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}

func (l *pairingLimiter) size() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}
