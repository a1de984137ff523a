package sched_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kimsuhan/cex-api/cmd/marketd/internal/hub"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/sched"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/store"
	"github.com/kimsuhan/cex-api/pkg/config"
	"github.com/kimsuhan/cex-api/pkg/models"
)

func setup(t *testing.T) (*sched.Scheduler, *store.RedisStore, *hub.Hub, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rs := store.NewRedisStore(rdb, time.Hour)
	h := hub.NewHub(zap.NewNop())

	s, err := sched.NewScheduler(config.ChartConfig{
		SnapshotSpec: "* * * * * *",
		SweepSpec:    "0 0 0 * * *",
		Retention:    24 * time.Hour,
	}, zap.NewNop(), rs, h)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	return s, rs, h, mr
}

func TestSnapshot_AppendsAndPublishesPerSymbol(t *testing.T) {
	s, rs, h, _ := setup(t)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	rs.SavePrice(ctx, models.PriceObservation{Symbol: "BTCUSDT", Price: 101, Source: models.SourceTrade, EventTime: now}, now)
	rs.SavePrice(ctx, models.PriceObservation{Symbol: "ETHUSDT", Price: 50, Source: models.SourceTrade, EventTime: now}, now)

	btc := h.Subscribe(hub.ChartTopic("BTCUSDT"))
	defer btc.Close()
	eth := h.Subscribe(hub.ChartTopic("ETHUSDT"))
	defer eth.Close()

	s.Snapshot()

	for _, sub := range map[string]*hub.Subscription{"BTCUSDT": btc, "ETHUSDT": eth} {
		select {
		case msg := <-sub.C:
			var upd hub.ChartUpdate
			if err := json.Unmarshal(msg, &upd); err != nil {
				t.Fatalf("Invalid chart payload: %v", err)
			}
			if upd.Time == 0 {
				t.Error("Chart update should carry the tick timestamp")
			}
		case <-time.After(time.Second):
			t.Fatal("Expected one chart update per symbol")
		}
	}

	points, err := rs.ChartRange(ctx, "BTCUSDT", 0, now+5000)
	if err != nil {
		t.Fatalf("ChartRange failed: %v", err)
	}
	if len(points) != 1 || points[0].Price != 101 {
		t.Errorf("Expected one appended point at 101, got %+v", points)
	}
}

func TestSnapshot_NoPricesNoPublish(t *testing.T) {
	s, _, h, _ := setup(t)

	sub := h.Subscribe(hub.ChartTopic("BTCUSDT"))
	defer sub.Close()

	s.Snapshot()

	select {
	case msg := <-sub.C:
		t.Errorf("Empty cache should publish nothing, got %s", msg)
	default:
	}
}

func TestSweep_EnforcesRetention(t *testing.T) {
	s, rs, _, _ := setup(t)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	dayMs := 24 * int64(time.Hour/time.Millisecond)
	rs.AppendChartPoints(ctx, now-dayMs-10_000, []models.SymbolPrice{{Symbol: "BTCUSDT", Price: 90}})
	rs.AppendChartPoints(ctx, now-1000, []models.SymbolPrice{{Symbol: "BTCUSDT", Price: 100}})

	s.Sweep()

	points, err := rs.ChartRange(ctx, "BTCUSDT", 0, now)
	if err != nil {
		t.Fatalf("ChartRange failed: %v", err)
	}
	for _, p := range points {
		if p.Time < now-dayMs {
			t.Errorf("Sweep left a point beyond the retention horizon: %+v", p)
		}
	}
	if len(points) != 1 {
		t.Errorf("Expected exactly the fresh point to survive, got %+v", points)
	}
}
