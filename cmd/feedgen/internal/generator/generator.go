package generator

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kimsuhan/cex-api/pkg/models"
)

// tickerEvery is how many trades a symbol accrues before a 24h ticker
// snapshot is emitted for it. Real venues push tickers far less often than
// trades; this keeps the same ratio in local runs.
const tickerEvery = 10

// MarketGenerator emits synthetic trade and ticker messages in the venue
// wire format. Trades follow a bounded random walk per symbol so charts look
// plausible; tickers report the walk's current level.
type MarketGenerator struct {
	logger       *zap.Logger
	tradeWriter  KafkaWriter
	tickerWriter KafkaWriter
	symbols      []string
	prices       map[string]float64
	tradeCounts  map[string]int
	rand         Rand
	clock        Clock
}

func NewMarketGenerator(
	logger *zap.Logger,
	tradeWriter KafkaWriter,
	tickerWriter KafkaWriter,
	symbols []string,
	basePrices map[string]float64,
	rnd Rand,
	clock Clock,
) *MarketGenerator {
	prices := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		prices[s] = basePrices[s]
	}
	return &MarketGenerator{
		logger:       logger,
		tradeWriter:  tradeWriter,
		tickerWriter: tickerWriter,
		symbols:      symbols,
		prices:       prices,
		tradeCounts:  make(map[string]int),
		rand:         rnd,
		clock:        clock,
	}
}

func (mg *MarketGenerator) Run(ctx context.Context) {
	mg.logger.Info("Generator Started", zap.Strings("symbols", mg.symbols))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if len(mg.symbols) == 0 {
				mg.clock.Sleep(1 * time.Second)
				continue
			}

			symbol := mg.symbols[mg.rand.Intn(len(mg.symbols))]
			now := mg.clock.Now().UnixMilli()

			// Random walk: step up to +/-0.5% of the current level.
			step := (mg.rand.Float64() - 0.5) * 0.01 * mg.prices[symbol]
			mg.prices[symbol] += step
			mg.tradeCounts[symbol]++

			mg.emitTrade(ctx, symbol, now)

			if mg.tradeCounts[symbol]%tickerEvery == 0 {
				mg.emitTicker(ctx, symbol, now)
			}

			mg.clock.Sleep(100 * time.Millisecond)
		}
	}
}

func (mg *MarketGenerator) emitTrade(ctx context.Context, symbol string, now int64) {
	trade := models.TradeMessage{
		Symbol:    symbol,
		EventTime: now,
		Price:     formatPrice(mg.prices[symbol]),
	}

	payload, _ := json.Marshal(trade)

	err := mg.tradeWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(symbol), // Key ensures partition ordering
		Value: payload,
	})
	if err != nil {
		mg.logger.Error("Kafka Write Error", zap.Error(err), zap.String("stream", "trade"))
	}
}

func (mg *MarketGenerator) emitTicker(ctx context.Context, symbol string, now int64) {
	ticker := models.TickerMessage{
		Symbol:      symbol,
		EventTime:   now,
		CurDayClose: formatPrice(mg.prices[symbol]),
	}

	payload, _ := json.Marshal(ticker)

	err := mg.tickerWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(symbol),
		Value: payload,
	})
	if err != nil {
		mg.logger.Error("Kafka Write Error", zap.Error(err), zap.String("stream", "ticker"))
	}
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 8, 64)
}
