package pipeline

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kimsuhan/cex-api/cmd/marketd/internal/admit"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/feed"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/hub"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/store"
	"github.com/kimsuhan/cex-api/pkg/config"
	"github.com/kimsuhan/cex-api/pkg/models"
)

// Pipeline ties the feed streams to the admission table, the durable store and
// the hub. Observations are sharded by symbol so one symbol is always decided
// in arrival order, while distinct symbols run fully in parallel. Durable
// writes and publishes run on per-shard writer goroutines so the admission
// path never waits on I/O.
type Pipeline struct {
	logger *zap.Logger
	source feed.Source
	table  *admit.Table
	store  store.PriceStore
	hub    *hub.Hub

	numWorkers int
	queueSize  int
	nowFn      func() int64
}

func NewPipeline(cfg config.IngestConfig, logger *zap.Logger, source feed.Source, table *admit.Table, priceStore store.PriceStore, h *hub.Hub) *Pipeline {
	return &Pipeline{
		logger:     logger,
		source:     source,
		table:      table,
		store:      priceStore,
		hub:        h,
		numWorkers: cfg.NumWorkers,
		queueSize:  cfg.WriteQueueSize,
		nowFn:      func() int64 { return time.Now().UnixMilli() },
	}
}

// Run blocks until ctx is cancelled, then drains the shard and write queues
// before returning.
func (p *Pipeline) Run(ctx context.Context) error {
	admitChans := make([]chan models.PriceObservation, p.numWorkers)
	writeChans := make([]chan models.PriceObservation, p.numWorkers)
	var workerWg, writerWg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		admitChans[i] = make(chan models.PriceObservation, 100)
		writeChans[i] = make(chan models.PriceObservation, p.queueSize)

		workerWg.Add(1)
		go p.worker(admitChans[i], writeChans[i], &workerWg)

		writerWg.Add(1)
		go p.writer(i, writeChans[i], &writerWg)
	}

	// Free-running window reset, decoupled from observation arrival
	resetDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.table.ResetWindows()
			case <-resetDone:
				return
			}
		}
	}()

	var consumerWg sync.WaitGroup
	consumerWg.Add(2)
	go p.consume(ctx, p.source.Trades(), admitChans, &consumerWg)
	go p.consume(ctx, p.source.Tickers(), admitChans, &consumerWg)

	p.logger.Info("Pipeline Started", zap.Int("workers", p.numWorkers))

	<-ctx.Done()
	p.logger.Info("Shutdown signal received, stopping pipeline...")

	consumerWg.Wait()
	for _, ch := range admitChans {
		close(ch)
	}
	workerWg.Wait()
	for _, ch := range writeChans {
		close(ch)
	}
	writerWg.Wait()
	close(resetDone)

	return nil
}

func (p *Pipeline) consume(ctx context.Context, in <-chan models.PriceObservation, shards []chan models.PriceObservation, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case obs, ok := <-in:
			if !ok {
				return
			}

			// Deterministic sharding: same symbol always goes to same worker
			id := shardID(obs.Symbol, len(shards))
			select {
			case shards[id] <- obs:
			case <-ctx.Done():
				return
			default:
				// NON-BLOCKING: a lagging shard drops the packet.
				// For live prices, "latest" beats "all".
				p.logger.Warn("Dropping slow packet", zap.String("symbol", obs.Symbol), zap.Int("worker_id", id))
			}
		}
	}
}

func (p *Pipeline) worker(in <-chan models.PriceObservation, out chan<- models.PriceObservation, wg *sync.WaitGroup) {
	defer wg.Done()

	for obs := range in {
		if !p.table.Apply(obs, p.nowFn()) {
			continue
		}

		// Fire-and-forget: the admission path never waits for the store
		select {
		case out <- obs:
		default:
			// Memory state is already updated and stays authoritative;
			// the next accepted observation will overwrite the durable row.
			p.logger.Warn("Dropping durable write, queue full", zap.String("symbol", obs.Symbol))
		}
	}
}

func (p *Pipeline) writer(id int, in <-chan models.PriceObservation, wg *sync.WaitGroup) {
	defer wg.Done()
	ctx := context.Background() // Background context prevents cancellation mid-Redis write

	for obs := range in {
		if err := p.store.SavePrice(ctx, obs, p.nowFn()); err != nil {
			p.logger.Error("Durable Write Error", zap.Error(err), zap.String("symbol", obs.Symbol))
		}

		// Published whether or not the write landed; subscribers follow the
		// in-memory state, not the durable copy.
		p.hub.Publish(hub.PriceTopic(obs.Symbol), hub.PriceUpdate{Price: obs.Price})
		p.logger.Debug("Processed", zap.String("symbol", obs.Symbol), zap.Int("worker_id", id))
	}
}

func shardID(symbol string, numWorkers int) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32()) % numWorkers
}
