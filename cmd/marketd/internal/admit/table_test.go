package admit_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/kimsuhan/cex-api/cmd/marketd/internal/admit"
	"github.com/kimsuhan/cex-api/pkg/config"
	"github.com/kimsuhan/cex-api/pkg/models"
)

// base is an arbitrary wall-clock origin; thresholds are relative so any
// realistic epoch works.
const base = int64(1_700_000_000_000)

func defaultCfg() config.FilterConfig {
	return config.FilterConfig{
		DebounceMs:       100,
		MaxUpdatesPerSec: 10,
		QuietWindowMs:    1000,
		MinChangePct:     0,
	}
}

func trade(symbol string, price float64, eventTime int64) models.PriceObservation {
	return models.PriceObservation{Symbol: symbol, Price: price, Source: models.SourceTrade, EventTime: eventTime}
}

func ticker(symbol string, price float64, eventTime int64) models.PriceObservation {
	return models.PriceObservation{Symbol: symbol, Price: price, Source: models.SourceTicker, EventTime: eventTime}
}

func TestTable_RejectsEqualPrice(t *testing.T) {
	tbl := admit.NewTable(defaultCfg())

	if !tbl.Apply(trade("BTCUSDT", 100.0, base), base) {
		t.Fatal("First observation should be accepted")
	}
	// Well past the debounce, but same price
	if tbl.Apply(trade("BTCUSDT", 100.0, base+500), base+500) {
		t.Error("Identical price should never be accepted twice")
	}
}

func TestTable_Debounce(t *testing.T) {
	tbl := admit.NewTable(defaultCfg())

	tbl.Apply(trade("BTCUSDT", 100.0, base), base)

	if tbl.Apply(trade("BTCUSDT", 101.0, base+99), base+99) {
		t.Error("Observation inside debounce window should be rejected")
	}
	if !tbl.Apply(trade("BTCUSDT", 101.0, base+100), base+100) {
		t.Error("Observation at exactly the debounce boundary should be accepted")
	}
}

func TestTable_RateLimitPerWindow(t *testing.T) {
	cfg := defaultCfg()
	cfg.DebounceMs = 0 // isolate the rate cap
	tbl := admit.NewTable(cfg)

	accepted := 0
	for i := 0; i < 15; i++ {
		if tbl.Apply(trade("BTCUSDT", 100.0+float64(i), base+int64(i)), base+int64(i)) {
			accepted++
		}
	}

	if accepted != 10 {
		t.Errorf("Expected 10 acceptances inside one window, got %d", accepted)
	}

	// A new window allows updates again
	tbl.ResetWindows()
	if !tbl.Apply(trade("BTCUSDT", 200.0, base+1000), base+1000) {
		t.Error("Expected acceptance after window reset")
	}
}

func TestTable_TickerQuietWindow(t *testing.T) {
	tbl := admit.NewTable(defaultCfg())

	tbl.Apply(trade("BTCUSDT", 100.0, base), base)

	// Quiet window not elapsed: dropped before the filter
	if tbl.Apply(ticker("BTCUSDT", 105.0, base+999), base+999) {
		t.Error("Ticker inside quiet window should be dropped")
	}
	if tbl.Apply(ticker("BTCUSDT", 105.0, base+1000), base+1000) {
		t.Error("Ticker at exactly the quiet window should still be dropped")
	}
	if !tbl.Apply(ticker("BTCUSDT", 105.0, base+1001), base+1001) {
		t.Error("Ticker past the quiet window should be considered")
	}
}

func TestTable_TradeStampsLastTradeTimeEvenWhenRejected(t *testing.T) {
	tbl := admit.NewTable(defaultCfg())

	tbl.Apply(trade("BTCUSDT", 100.0, base), base)
	// Rejected (same price), but must still refresh lastTradeAt
	tbl.Apply(trade("BTCUSDT", 100.0, base+500), base+500)

	// 1000ms after the rejected trade, still within its quiet window
	if tbl.Apply(ticker("BTCUSDT", 105.0, base+1400), base+1400) {
		t.Error("Rejected trades must still push the quiet window forward")
	}
}

func TestTable_MinChangeGate(t *testing.T) {
	cfg := defaultCfg()
	cfg.MinChangePct = 0.01 // 1%
	tbl := admit.NewTable(cfg)

	tbl.Apply(trade("BTCUSDT", 100.0, base), base)

	if tbl.Apply(trade("BTCUSDT", 100.5, base+200), base+200) {
		t.Error("Sub-threshold change should be rejected when the gate is enabled")
	}
	if !tbl.Apply(trade("BTCUSDT", 102.0, base+400), base+400) {
		t.Error("Above-threshold change should be accepted")
	}
}

func TestTable_MinChangeGateDisabledByDefault(t *testing.T) {
	tbl := admit.NewTable(defaultCfg())

	tbl.Apply(trade("BTCUSDT", 100.0, base), base)
	if !tbl.Apply(trade("BTCUSDT", 100.0000001, base+200), base+200) {
		t.Error("Tiny change should be accepted while the gate is disabled")
	}
}

func TestTable_Scenario_TwoTradesThenDuplicate(t *testing.T) {
	tbl := admit.NewTable(defaultCfg())

	if !tbl.Apply(trade("BTCUSDT", 100.0, base), base) {
		t.Fatal("t=0 trade should be accepted")
	}
	if !tbl.Apply(trade("BTCUSDT", 101.0, base+200), base+200) {
		t.Fatal("t=200ms trade with a new price should be accepted")
	}
	if tbl.Apply(trade("BTCUSDT", 101.0, base+210), base+210) {
		t.Error("t=210ms duplicate inside debounce should be rejected")
	}

	price, ok := tbl.LatestPrice("BTCUSDT")
	if !ok || price != 101.0 {
		t.Errorf("Expected latest price 101.0, got %v (known=%v)", price, ok)
	}
}

func TestTable_LatestPrice_UnknownSymbol(t *testing.T) {
	tbl := admit.NewTable(defaultCfg())
	if _, ok := tbl.LatestPrice("NOPEUSDT"); ok {
		t.Error("Unknown symbol should report no price")
	}
}

func TestTable_SymbolsAreIndependent(t *testing.T) {
	tbl := admit.NewTable(defaultCfg())

	tbl.Apply(trade("BTCUSDT", 100.0, base), base)
	// ETHUSDT has its own debounce clock
	if !tbl.Apply(trade("ETHUSDT", 50.0, base+10), base+10) {
		t.Error("Independent symbol should not share debounce state")
	}
}

func TestTable_ConcurrentApply(t *testing.T) {
	// Run with `go test -race ./...`
	cfg := defaultCfg()
	cfg.DebounceMs = 0
	cfg.MaxUpdatesPerSec = 1 << 30
	tbl := admit.NewTable(cfg)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				sym := fmt.Sprintf("SYM%dUSDT", i%3)
				tbl.Apply(trade(sym, float64(g*1000+i), base+int64(i)), base+int64(i))
			}
		}(g)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			tbl.ResetWindows()
		}
	}()
	wg.Wait()
}
