package admit

import (
	"math"

	"github.com/kimsuhan/cex-api/pkg/config"
	"github.com/kimsuhan/cex-api/pkg/models"
)

// Filter holds the admission thresholds. Rules are evaluated in order and the
// first match wins; only a full pass mutates the symbol state.
type Filter struct {
	debounceMs   int64
	maxPerWindow uint32
	minChangePct float64 // 0 disables the gate
}

func NewFilter(cfg config.FilterConfig) *Filter {
	return &Filter{
		debounceMs:   cfg.DebounceMs,
		maxPerWindow: cfg.MaxUpdatesPerSec,
		minChangePct: cfg.MinChangePct,
	}
}

// decide runs the admission rules against s. Caller must hold s.mu.
func (f *Filter) decide(s *SymbolState, obs models.PriceObservation, now int64) bool {
	// 1. Identical price: nothing to record
	if s.hasPrice && s.latestPrice == obs.Price {
		return false
	}

	// 2. Debounce bursts
	if s.lastUpdateAt > 0 && now-s.lastUpdateAt < f.debounceMs {
		return false
	}

	// 3. Per-symbol rate cap inside the current one-second window
	if s.updatesInWindow >= f.maxPerWindow {
		return false
	}

	// 4. Optional minimum-change gate
	if f.minChangePct > 0 && s.hasPrice && s.latestPrice > 0 {
		change := math.Abs(obs.Price-s.latestPrice) / s.latestPrice
		if change < f.minChangePct {
			return false
		}
	}

	s.latestPrice = obs.Price
	s.hasPrice = true
	s.lastUpdateAt = now
	s.updatesInWindow++
	return true
}
