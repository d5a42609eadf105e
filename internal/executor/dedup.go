package executor

import (
	"sync"
	"time"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// Dedup suppresses repeated signals for the same symbol and direction within
// a TTL, so a strategy that keeps firing on consecutive snapshots produces
// one order per window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func dedupKey(sig domain.Signal) string {
	return sig.Symbol.String() + ":" + sig.Type.String()
}

// IsDuplicate reports whether an equivalent signal was accepted within the
// TTL. Otherwise sig is recorded and false is returned.
func (d *Dedup) IsDuplicate(sig domain.Signal) bool {
	if d.ttl <= 0 {
		return false
	}
	key := dedupKey(sig)

	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Forget drops the record for sig so the next equivalent signal passes,
// used when the order for it never reached the exchange.
func (d *Dedup) Forget(sig domain.Signal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, dedupKey(sig))
}

// Cleanup removes expired entries.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
