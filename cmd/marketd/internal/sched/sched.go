package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kimsuhan/cex-api/cmd/marketd/internal/hub"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/store"
	"github.com/kimsuhan/cex-api/pkg/config"
)

// Scheduler runs the two background jobs: the per-second snapshot that copies
// current prices into the chart time-series, and the daily retention sweep.
// Each job skips its next run while a previous run is still going, so a slow
// sweep can never pile up, and neither job touches the ingestion path.
type Scheduler struct {
	cron      *cron.Cron
	store     store.PriceStore
	hub       *hub.Hub
	logger    *zap.Logger
	retention time.Duration
}

func NewScheduler(cfg config.ChartConfig, logger *zap.Logger, priceStore store.PriceStore, h *hub.Hub) (*Scheduler, error) {
	s := &Scheduler{
		store:     priceStore,
		hub:       h,
		logger:    logger,
		retention: cfg.Retention,
	}

	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(cfg.SnapshotSpec, s.Snapshot); err != nil {
		return nil, fmt.Errorf("register snapshot job: %w", err)
	}
	if _, err := c.AddFunc(cfg.SweepSpec, s.Sweep); err != nil {
		return nil, fmt.Errorf("register sweep job: %w", err)
	}
	s.cron = c

	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler Started")
}

// Stop waits for any in-flight job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler Stopped")
}

// Snapshot reads the latest-price overview, appends one chart point per
// symbol in a single batch, and publishes one chart update per symbol. The
// publish is not conditioned on the batch landing.
func (s *Scheduler) Snapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UnixMilli()
	prices, err := s.store.AllPrices(ctx)
	if err != nil {
		s.logger.Error("Snapshot Read Error", zap.Error(err))
		return
	}
	if len(prices) == 0 {
		return
	}

	if err := s.store.AppendChartPoints(ctx, now, prices); err != nil {
		s.logger.Error("Snapshot Write Error", zap.Error(err))
	}

	for _, p := range prices {
		s.hub.Publish(hub.ChartTopic(p.Symbol), hub.ChartUpdate{Price: p.Price, Time: now})
	}
}

// Sweep evicts chart points older than the retention horizon.
func (s *Scheduler) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.retention).UnixMilli()
	if err := s.store.SweepChart(ctx, cutoff); err != nil {
		s.logger.Error("Sweep Error", zap.Error(err))
		return
	}
	s.logger.Info("Chart sweep complete", zap.Int64("cutoff", cutoff))
}
