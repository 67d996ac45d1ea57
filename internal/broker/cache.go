package broker

import (
	"sync"
	"time"

	"github.com/nfocore/optionengine/internal/clock"
	"github.com/nfocore/optionengine/internal/models"
)

// instrumentCacheEntry is one exchange's (or the NFO+BFO composite's)
// cached instrument list, grounded on the teacher's optionChainCacheEntry
// TTL-cache pattern in internal/strategy/strangle.go.
type instrumentCacheEntry struct {
	instruments []models.Instrument
	fetchedAt   time.Time
}

// instrumentCache holds per-exchange and composite instrument lists with a
// 30-minute TTL (spec default), its own mutex per §5's "no two components
// hold two mutexes simultaneously" rule.
type instrumentCache struct {
	mu      sync.RWMutex
	entries map[string]instrumentCacheEntry
	ttl     time.Duration
	clock   clock.Clock
}

func newInstrumentCache(ttl time.Duration, c clock.Clock) *instrumentCache {
	return &instrumentCache{entries: make(map[string]instrumentCacheEntry), ttl: ttl, clock: c}
}

func (ic *instrumentCache) get(key string) ([]models.Instrument, bool) {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	e, ok := ic.entries[key]
	if !ok || ic.clock.Now().Sub(e.fetchedAt) > ic.ttl {
		return nil, false
	}
	return e.instruments, true
}

func (ic *instrumentCache) set(key string, instruments []models.Instrument) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.entries[key] = instrumentCacheEntry{instruments: instruments, fetchedAt: ic.clock.Now()}
}

// quoteCacheEntry is one symbol's most recently fetched quote.
type quoteCacheEntry struct {
	quote     Quote
	fetchedAt time.Time
}

// quoteCache holds per-symbol quotes with a short (default 60s) TTL.
type quoteCache struct {
	mu      sync.RWMutex
	entries map[models.Symbol]quoteCacheEntry
	ttl     time.Duration
	clock   clock.Clock
}

func newQuoteCache(ttl time.Duration, c clock.Clock) *quoteCache {
	return &quoteCache{entries: make(map[models.Symbol]quoteCacheEntry), ttl: ttl, clock: c}
}

func (qc *quoteCache) get(sym models.Symbol) (Quote, bool) {
	qc.mu.RLock()
	defer qc.mu.RUnlock()
	e, ok := qc.entries[sym]
	if !ok || qc.clock.Now().Sub(e.fetchedAt) > qc.ttl {
		return Quote{}, false
	}
	return e.quote, true
}

func (qc *quoteCache) set(sym models.Symbol, q Quote) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	qc.entries[sym] = quoteCacheEntry{quote: q, fetchedAt: qc.clock.Now()}
}

// negativeCache records symbols for which a quote request returned no
// entry, so the miss is logged only once per symbol per session. GetQuote
// does not consult isKnownMissing: it still requests such symbols from the
// broker on every call.
type negativeCache struct {
	mu      sync.Mutex
	logged  map[models.Symbol]bool
}

func newNegativeCache() *negativeCache {
	return &negativeCache{logged: make(map[models.Symbol]bool)}
}

// recordMiss returns true the first time sym is recorded as unresolved in
// this session (the caller should log), false on subsequent misses.
func (nc *negativeCache) recordMiss(sym models.Symbol) (firstTime bool) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if nc.logged[sym] {
		return false
	}
	nc.logged[sym] = true
	return true
}

// isKnownMissing reports whether sym has already been recorded as
// unresolvable, letting callers short-circuit without touching the broker.
func (nc *negativeCache) isKnownMissing(sym models.Symbol) bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.logged[sym]
}
