package origin

import (
	"sync"
	"time"

	"github.com/tokenized/tx-relay/bitcoin"
)

// Tracker is the process-lifetime remote origin set R: txids the engine has observed arriving via
// Nostr. The mempool poller reads it far more often than the ingress handler writes it, so reads
// take a shared lock.
//
// Ordering requirement (owned by callers, not enforced here): MarkRemote(t) must happen-before the
// Submit(tx_hex) call that could cause t to appear in the local mempool, or the poller may race,
// classify t as local, and rebroadcast it.
type Tracker struct {
	mu  sync.RWMutex
	set map[bitcoin.Hash32]time.Time

	ttl time.Duration // zero means unbounded, the spec's documented default
}

// NewTracker returns an unbounded tracker. No removal policy is specified for the default case;
// entries live for the life of the process.
func NewTracker() *Tracker {
	return &Tracker{
		set: make(map[bitcoin.Hash32]time.Time),
	}
}

// NewTrackerWithTTL returns a tracker that lazily expires entries older than ttl. This is a
// supplement to the spec's documented default (unbounded growth), opt-in via relayconfig's
// OriginTTL (ORIGIN_TTL), for long-running deployments that would otherwise leak memory indefinitely.
func NewTrackerWithTTL(ttl time.Duration) *Tracker {
	return &Tracker{
		set: make(map[bitcoin.Hash32]time.Time),
		ttl: ttl,
	}
}

// MarkRemote records that txid arrived via Nostr.
func (t *Tracker) MarkRemote(txid bitcoin.Hash32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.set[txid] = time.Now()
}

// IsRemote reports whether txid was previously marked remote and, if a TTL is configured, hasn't
// expired yet. An expired entry is treated as absent but left in place; Sweep removes it.
func (t *Tracker) IsRemote(txid bitcoin.Hash32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	markedAt, found := t.set[txid]
	if !found {
		return false
	}
	if t.ttl == 0 {
		return true
	}
	return time.Since(markedAt) < t.ttl
}

// Len returns the number of tracked entries, expired or not. Exposed for tests and metrics.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.set)
}

// TTL returns the configured expiry, or zero if the tracker is unbounded. Callers use this to
// decide whether a periodic Sweep needs to be scheduled at all.
func (t *Tracker) TTL() time.Duration {
	return t.ttl
}

// Sweep removes expired entries. A no-op when the tracker is unbounded. The engine schedules it as a
// periodic task on its scheduler when a TTL is configured.
func (t *Tracker) Sweep() int {
	if t.ttl == 0 {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	now := time.Now()
	for txid, markedAt := range t.set {
		if now.Sub(markedAt) >= t.ttl {
			delete(t.set, txid)
			removed++
		}
	}
	return removed
}
