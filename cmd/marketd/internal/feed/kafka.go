package feed

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kimsuhan/cex-api/pkg/config"
	"github.com/kimsuhan/cex-api/pkg/models"
)

// KafkaReader abstracts the input stream
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaSource consumes decoded observations from two topics, one per stream.
// Each topic is read by its own goroutine, so trades and tickers stay
// independent producers just like the live feed.
type KafkaSource struct {
	tradeReader  KafkaReader
	tickerReader KafkaReader
	logger       *zap.Logger

	trades  chan models.PriceObservation
	tickers chan models.PriceObservation
}

func NewKafkaSource(cfg config.KafkaConfig, logger *zap.Logger) *KafkaSource {
	newReader := func(topic string) *kafka.Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    topic,
			GroupID:  cfg.GroupID,
			MinBytes: 200,
			MaxBytes: 10e6,
			MaxWait:  200 * time.Millisecond,
		})
	}
	return NewKafkaSourceWithReaders(newReader(cfg.TradeTopic), newReader(cfg.TickerTopic), logger)
}

func NewKafkaSourceWithReaders(tradeReader, tickerReader KafkaReader, logger *zap.Logger) *KafkaSource {
	return &KafkaSource{
		tradeReader:  tradeReader,
		tickerReader: tickerReader,
		logger:       logger,
		trades:       make(chan models.PriceObservation, streamBuffer),
		tickers:      make(chan models.PriceObservation, streamBuffer),
	}
}

func (k *KafkaSource) Trades() <-chan models.PriceObservation  { return k.trades }
func (k *KafkaSource) Tickers() <-chan models.PriceObservation { return k.tickers }

func (k *KafkaSource) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		k.consume(ctx, k.tradeReader, models.SourceTrade, k.trades)
	}()
	go func() {
		defer wg.Done()
		k.consume(ctx, k.tickerReader, models.SourceTicker, k.tickers)
	}()
	wg.Wait()

	if err := k.tradeReader.Close(); err != nil {
		k.logger.Error("Error closing trade reader", zap.Error(err))
	}
	if err := k.tickerReader.Close(); err != nil {
		k.logger.Error("Error closing ticker reader", zap.Error(err))
	}
	return nil
}

func (k *KafkaSource) consume(ctx context.Context, reader KafkaReader, source models.Source, out chan<- models.PriceObservation) {
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			k.logger.Error("Kafka Read Error", zap.String("source", string(source)), zap.Error(err))
			continue
		}

		obs, err := decodeWireMessage(m.Value, source)
		if err != nil {
			k.logger.Warn("Dropping malformed message", zap.String("source", string(source)), zap.Error(err))
			continue
		}

		select {
		case out <- obs:
		case <-ctx.Done():
			return
		}
	}
}

func decodeWireMessage(payload []byte, source models.Source) (models.PriceObservation, error) {
	var symbol, rawPrice string
	var eventTime int64

	switch source {
	case models.SourceTrade:
		var msg models.TradeMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return models.PriceObservation{}, err
		}
		symbol, rawPrice, eventTime = msg.Symbol, msg.Price, msg.EventTime
	default:
		var msg models.TickerMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return models.PriceObservation{}, err
		}
		symbol, rawPrice, eventTime = msg.Symbol, msg.CurDayClose, msg.EventTime
	}

	if symbol == "" {
		return models.PriceObservation{}, errors.New("message without symbol")
	}
	price, err := strconv.ParseFloat(rawPrice, 64)
	if err != nil {
		return models.PriceObservation{}, err
	}

	return models.PriceObservation{
		Symbol:    symbol,
		Price:     price,
		Source:    source,
		EventTime: eventTime,
	}, nil
}
