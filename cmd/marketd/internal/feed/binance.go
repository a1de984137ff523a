package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kimsuhan/cex-api/pkg/models"
)

const defaultBinanceURL = "wss://stream.binance.com:9443/stream"

// binanceEvent is the payload half of a combined-stream message. Trade events
// carry the price in "p", 24h ticker events carry the current close in "c".
type binanceEvent struct {
	EventType   string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	Price       string `json:"p"`
	CurDayClose string `json:"c"`
}

type binanceStreamMessage struct {
	Stream string       `json:"stream"`
	Data   binanceEvent `json:"data"`
}

// BinanceSource consumes the Binance combined websocket stream for a set of
// symbols, pairing the raw trade stream with the 24h ticker stream.
type BinanceSource struct {
	url     string
	symbols []string
	logger  *zap.Logger

	trades  chan models.PriceObservation
	tickers chan models.PriceObservation
}

func NewBinanceSource(baseURL string, symbols []string, logger *zap.Logger) *BinanceSource {
	if baseURL == "" {
		baseURL = defaultBinanceURL
	}
	return &BinanceSource{
		url:     baseURL,
		symbols: symbols,
		logger:  logger,
		trades:  make(chan models.PriceObservation, streamBuffer),
		tickers: make(chan models.PriceObservation, streamBuffer),
	}
}

func (b *BinanceSource) Trades() <-chan models.PriceObservation  { return b.trades }
func (b *BinanceSource) Tickers() <-chan models.PriceObservation { return b.tickers }

func (b *BinanceSource) streamURL() string {
	names := make([]string, 0, len(b.symbols)*2)
	for _, sym := range b.symbols {
		lower := strings.ToLower(sym)
		names = append(names, lower+"@trade", lower+"@ticker")
	}
	return b.url + "?streams=" + strings.Join(names, "/")
}

// Run dials the venue and pumps decoded observations until ctx is cancelled.
// Connection drops are retried with a short delay; subscribers simply see a
// gap in the stream while reconnecting.
func (b *BinanceSource) Run(ctx context.Context) error {
	url := b.streamURL()

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Error("Binance connection error", zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return nil
			}
			continue
		}

		b.logger.Info("Connected to Binance stream", zap.Int("symbols", len(b.symbols)))
		b.readLoop(ctx, conn)
		conn.Close()

		if !sleepCtx(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (b *BinanceSource) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadMessage when the context ends
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				b.logger.Error("Binance read error", zap.Error(err))
			}
			return
		}

		obs, err := DecodeStreamEvent(raw)
		if err != nil {
			b.logger.Warn("Dropping malformed stream message", zap.Error(err))
			continue
		}

		out := b.trades
		if obs.Source == models.SourceTicker {
			out = b.tickers
		}
		select {
		case out <- obs:
		case <-ctx.Done():
			return
		}
	}
}

// DecodeStreamEvent parses one combined-stream frame into an observation.
func DecodeStreamEvent(raw []byte) (models.PriceObservation, error) {
	var msg binanceStreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return models.PriceObservation{}, fmt.Errorf("decode stream message: %w", err)
	}

	var source models.Source
	var rawPrice string
	switch msg.Data.EventType {
	case "trade":
		source, rawPrice = models.SourceTrade, msg.Data.Price
	case "24hrTicker":
		source, rawPrice = models.SourceTicker, msg.Data.CurDayClose
	default:
		return models.PriceObservation{}, fmt.Errorf("unknown event type %q", msg.Data.EventType)
	}

	if msg.Data.Symbol == "" {
		return models.PriceObservation{}, fmt.Errorf("stream message without symbol")
	}
	price, err := strconv.ParseFloat(rawPrice, 64)
	if err != nil {
		return models.PriceObservation{}, fmt.Errorf("parse price %q: %w", rawPrice, err)
	}

	return models.PriceObservation{
		Symbol:    msg.Data.Symbol,
		Price:     price,
		Source:    source,
		EventTime: msg.Data.EventTime,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
