package pipeline_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kimsuhan/cex-api/cmd/marketd/internal/admit"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/hub"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/pipeline"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/store"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/testutils"
	"github.com/kimsuhan/cex-api/pkg/config"
	"github.com/kimsuhan/cex-api/pkg/models"
)

type fixture struct {
	source *testutils.StubSource
	table  *admit.Table
	hub    *hub.Hub
	mr     *miniredis.Miniredis
	pipe   *pipeline.Pipeline
}

func setup(t *testing.T) *fixture {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	// Debounce off so back-to-back test observations are not time-coupled
	table := admit.NewTable(config.FilterConfig{
		DebounceMs:       0,
		MaxUpdatesPerSec: 10,
		QuietWindowMs:    1000,
	})

	source := testutils.NewStubSource()
	h := hub.NewHub(zap.NewNop())
	pipe := pipeline.NewPipeline(
		config.IngestConfig{NumWorkers: 2, WriteQueueSize: 64},
		zap.NewNop(), source, table, store.NewRedisStore(rdb, time.Hour), h,
	)

	return &fixture{source: source, table: table, hub: h, mr: mr, pipe: pipe}
}

func run(t *testing.T, f *fixture) (cancel func()) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.pipe.Run(ctx)
		close(done)
	}()
	return func() {
		cancelCtx()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Pipeline did not shut down")
		}
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPipeline_AcceptedTradeIsStoredAndPublished(t *testing.T) {
	f := setup(t)
	sub := f.hub.Subscribe(hub.PriceTopic("BTCUSDT"))
	defer sub.Close()

	stop := run(t, f)
	defer stop()

	f.source.TradeCh <- models.PriceObservation{
		Symbol: "BTCUSDT", Price: 101.5, Source: models.SourceTrade, EventTime: time.Now().UnixMilli(),
	}

	select {
	case msg := <-sub.C:
		var upd hub.PriceUpdate
		if err := json.Unmarshal(msg, &upd); err != nil || upd.Price != 101.5 {
			t.Errorf("Unexpected publish payload %s (err=%v)", msg, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a price.BTCUSDT publish")
	}

	waitFor(t, func() bool { return f.mr.Exists("price:BTCUSDT") }, "Durable detail record was not written")
	if got := f.mr.HGet("prices:latest", "BTCUSDT"); got != "101.5" {
		t.Errorf("Expected latest table entry 101.5, got %q", got)
	}

	if price, ok := f.table.LatestPrice("BTCUSDT"); !ok || price != 101.5 {
		t.Errorf("Memory state should hold 101.5, got %v (known=%v)", price, ok)
	}
}

func TestPipeline_DuplicatePriceNotRepublished(t *testing.T) {
	f := setup(t)
	sub := f.hub.Subscribe(hub.PriceTopic("BTCUSDT"))
	defer sub.Close()

	stop := run(t, f)
	defer stop()

	now := time.Now().UnixMilli()
	f.source.TradeCh <- models.PriceObservation{Symbol: "BTCUSDT", Price: 100, Source: models.SourceTrade, EventTime: now}
	f.source.TradeCh <- models.PriceObservation{Symbol: "BTCUSDT", Price: 100, Source: models.SourceTrade, EventTime: now + 10}

	select {
	case <-sub.C:
	case <-time.After(2 * time.Second):
		t.Fatal("First acceptance should publish")
	}

	select {
	case msg := <-sub.C:
		t.Errorf("Duplicate price must not publish again, got %s", msg)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestPipeline_TickerDroppedInsideQuietWindow(t *testing.T) {
	f := setup(t)
	sub := f.hub.Subscribe(hub.PriceTopic("BTCUSDT"))
	defer sub.Close()

	stop := run(t, f)
	defer stop()

	now := time.Now().UnixMilli()
	f.source.TradeCh <- models.PriceObservation{Symbol: "BTCUSDT", Price: 100, Source: models.SourceTrade, EventTime: now}

	select {
	case <-sub.C:
	case <-time.After(2 * time.Second):
		t.Fatal("Trade should publish")
	}

	// 500ms of venue time after the trade: inside the quiet window
	f.source.TickerCh <- models.PriceObservation{Symbol: "BTCUSDT", Price: 105, Source: models.SourceTicker, EventTime: now + 500}

	select {
	case msg := <-sub.C:
		t.Errorf("Quiet-window ticker must be dropped, got %s", msg)
	case <-time.After(300 * time.Millisecond):
	}

	// Past the quiet window the ticker is trusted again
	f.source.TickerCh <- models.PriceObservation{Symbol: "BTCUSDT", Price: 105, Source: models.SourceTicker, EventTime: now + 1500}

	select {
	case msg := <-sub.C:
		var upd hub.PriceUpdate
		json.Unmarshal(msg, &upd)
		if upd.Price != 105 {
			t.Errorf("Expected ticker price 105, got %v", upd.Price)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Post-quiet-window ticker should publish")
	}
}

func TestPipeline_UnrelatedSymbolDoesNotLeak(t *testing.T) {
	f := setup(t)
	btc := f.hub.Subscribe(hub.PriceTopic("BTCUSDT"))
	defer btc.Close()

	stop := run(t, f)
	defer stop()

	f.source.TradeCh <- models.PriceObservation{Symbol: "ETHUSDT", Price: 50, Source: models.SourceTrade, EventTime: time.Now().UnixMilli()}

	waitFor(t, func() bool { return f.mr.Exists("price:ETHUSDT") }, "ETH write should land")

	select {
	case msg := <-btc.C:
		t.Errorf("BTC subscriber received ETH update: %s", msg)
	default:
	}
}

func TestPipeline_DurableWriteFailureKeepsMemoryAuthoritative(t *testing.T) {
	f := setup(t)
	sub := f.hub.Subscribe(hub.PriceTopic("BTCUSDT"))
	defer sub.Close()

	stop := run(t, f)
	defer stop()

	f.mr.SetError("redis is down")

	f.source.TradeCh <- models.PriceObservation{Symbol: "BTCUSDT", Price: 100, Source: models.SourceTrade, EventTime: time.Now().UnixMilli()}

	// Publish still happens and memory still updates
	select {
	case <-sub.C:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish must not be conditioned on write success")
	}
	waitFor(t, func() bool {
		price, ok := f.table.LatestPrice("BTCUSDT")
		return ok && price == 100
	}, "Memory state should survive a durable-write failure")
}
