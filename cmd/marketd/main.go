package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kimsuhan/cex-api/cmd/marketd/internal/admit"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/api"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/feed"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/hub"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/pipeline"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/quotes"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/sched"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/store"
	"github.com/kimsuhan/cex-api/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	priceStore := store.NewRedisStore(rdb, cfg.Chart.DetailTTL)
	table := admit.NewTable(cfg.Filter)
	priceHub := hub.NewHub(logger)
	quoteSvc := quotes.NewService(table, priceStore, cfg.Chart.Retention, logger)

	var source feed.Source
	switch cfg.Feed.Source {
	case "kafka":
		source = feed.NewKafkaSource(cfg.Kafka, logger)
	default:
		source = feed.NewBinanceSource("", cfg.Feed.Symbols, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := source.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Feed source stopped", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pipeline.NewPipeline(cfg.Ingest, logger, source, table, priceStore, priceHub).Run(ctx); err != nil {
			logger.Error("Pipeline stopped", zap.Error(err))
		}
	}()

	scheduler, err := sched.NewScheduler(cfg.Chart, logger, priceStore, priceHub)
	if err != nil {
		logger.Fatal("Failed to build scheduler", zap.Error(err))
	}
	scheduler.Start()

	srv := &http.Server{
		Addr:    cfg.App.Port,
		Handler: api.NewServer(quoteSvc, priceStore, priceHub, logger, cfg.Feed.Symbols).Router(),
	}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port), zap.String("feed", cfg.Feed.Source))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutdown signal received, stopping marketd...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	scheduler.Stop()

	cancel()
	wg.Wait()

	logger.Info("Closing Redis...")
	rdb.Close()

	logger.Info("marketd exited cleanly")
}
