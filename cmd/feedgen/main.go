package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kimsuhan/cex-api/cmd/feedgen/internal/generator"
	"github.com/kimsuhan/cex-api/pkg/config"
)

// Rough levels to start each walk from, so generated charts sit in a
// familiar range. Symbols not listed start at 100.
var basePrices = map[string]float64{
	"BTCUSDT":  65000.0,
	"ETHUSDT":  3400.0,
	"SOLUSDT":  150.0,
	"XRPUSDT":  0.52,
	"DOGEUSDT": 0.12,
	"ADAUSDT":  0.45,
	"DOTUSDT":  6.8,
	"LINKUSDT": 14.5,
	"BCHUSDT":  480.0,
	"LTCUSDT":  72.0,
}

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

	clock := generator.RealClock{}
	dialer := &generator.RealKafkaDialer{Dialer: kafka.DefaultDialer}

	tc := generator.NewTopicCreator(logger, dialer, clock)
	tc.Create(cfg.Kafka.Brokers, cfg.Kafka.TradeTopic)
	tc.Create(cfg.Kafka.Brokers, cfg.Kafka.TickerTopic)

	tradeWriter := newWriter(cfg.Kafka.Brokers, cfg.Kafka.TradeTopic)
	tickerWriter := newWriter(cfg.Kafka.Brokers, cfg.Kafka.TickerTopic)

	prices := make(map[string]float64, len(cfg.Feed.Symbols))
	for _, s := range cfg.Feed.Symbols {
		if base, ok := basePrices[s]; ok {
			prices[s] = base
		} else {
			prices[s] = 100.0
		}
	}

	rnd := generator.RealRand{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
	gen := generator.NewMarketGenerator(logger, tradeWriter, tickerWriter, cfg.Feed.Symbols, prices, rnd, clock)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go gen.Run(ctx)

	<-sigChan
	logger.Info("Shutdown signal received")
	cancel()

	// Flush buffered batches before exit.
	if err := tradeWriter.Close(); err != nil {
		logger.Error("Error closing trade writer", zap.Error(err))
	}
	if err := tickerWriter.Close(); err != nil {
		logger.Error("Error closing ticker writer", zap.Error(err))
	}
	logger.Info("feedgen exited cleanly")
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
		// Batch to reduce network IO.
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}
}
