package admit

import (
	"sync"

	"github.com/kimsuhan/cex-api/pkg/config"
	"github.com/kimsuhan/cex-api/pkg/models"
)

// SymbolState is the per-symbol admission state. Each instance carries its own
// mutex so independent symbols never contend with each other.
type SymbolState struct {
	mu              sync.Mutex
	latestPrice     float64
	hasPrice        bool
	lastUpdateAt    int64 // unix milli, wall clock of last acceptance
	updatesInWindow uint32
	lastTradeAt     int64 // unix milli, venue event time of last trade
}

// Table owns the symbol state map. The table lock only guards lazy creation;
// every read-decide-write runs under the individual symbol's lock.
type Table struct {
	mu     sync.RWMutex
	states map[string]*SymbolState

	filter        *Filter
	quietWindowMs int64
}

func NewTable(cfg config.FilterConfig) *Table {
	return &Table{
		states:        make(map[string]*SymbolState),
		filter:        NewFilter(cfg),
		quietWindowMs: cfg.QuietWindowMs,
	}
}

func (t *Table) state(symbol string) *SymbolState {
	t.mu.RLock()
	s, ok := t.states[symbol]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.states[symbol]; ok {
		return s
	}
	s = &SymbolState{}
	t.states[symbol] = s
	return s
}

// Apply runs source reconciliation and the admission filter for one
// observation under the symbol's lock. It reports whether the observation was
// accepted; on acceptance the in-memory latest price is already updated.
//
// Trades stamp lastTradeAt whether or not they are accepted. Tickers are only
// a candidate when no trade has been seen for the quiet window; otherwise they
// are dropped before reaching the filter.
func (t *Table) Apply(obs models.PriceObservation, now int64) bool {
	s := t.state(obs.Symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	if obs.Source == models.SourceTrade {
		s.lastTradeAt = obs.EventTime
	} else if obs.EventTime-s.lastTradeAt <= t.quietWindowMs {
		return false
	}

	return t.filter.decide(s, obs, now)
}

// ResetWindows zeroes the per-second update counters for all symbols. Driven
// by a free-running one-second timer, decoupled from observation arrival.
func (t *Table) ResetWindows() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.states {
		s.mu.Lock()
		s.updatesInWindow = 0
		s.mu.Unlock()
	}
}

// LatestPrice is the memory-first read of the price cache. The second return
// is false until the symbol has had at least one accepted observation.
func (t *Table) LatestPrice(symbol string) (float64, bool) {
	t.mu.RLock()
	s, ok := t.states[symbol]
	t.mu.RUnlock()
	if !ok {
		return 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestPrice, s.hasPrice
}
