package quotes

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kimsuhan/cex-api/cmd/marketd/internal/admit"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/store"
	"github.com/kimsuhan/cex-api/pkg/models"
)

// Service is the read side of the price cache and the chart store, the surface
// handed to the API layer. Unknown symbols never error: callers get 0 for a
// current price and an empty slice for a chart, and must treat 0 as "no quote".
type Service struct {
	table     *admit.Table
	store     store.PriceStore
	logger    *zap.Logger
	retention time.Duration
}

func NewService(table *admit.Table, priceStore store.PriceStore, retention time.Duration, logger *zap.Logger) *Service {
	return &Service{
		table:     table,
		store:     priceStore,
		logger:    logger,
		retention: retention,
	}
}

// CurrentPrice is memory-first: the in-process admission state wins, the
// durable detail record is the fallback for symbols this process has not seen.
func (s *Service) CurrentPrice(ctx context.Context, symbol string) float64 {
	if price, ok := s.table.LatestPrice(symbol); ok {
		return price
	}

	price, ok, err := s.store.LatestPrice(ctx, symbol)
	if err != nil {
		s.logger.Error("Price Fallback Read Error", zap.String("symbol", symbol), zap.Error(err))
		return 0
	}
	if !ok {
		return 0
	}
	return price
}

// AllPrices is served from the durable overview table only; it reflects the
// symbols whose accepted updates have actually been written.
func (s *Service) AllPrices(ctx context.Context) ([]models.SymbolPrice, error) {
	return s.store.AllPrices(ctx)
}

// ChartPrices returns the trailing retention window, ascending by time.
func (s *Service) ChartPrices(ctx context.Context, symbol string) ([]models.ChartPoint, error) {
	now := time.Now().UnixMilli()
	return s.store.ChartRange(ctx, symbol, now-s.retention.Milliseconds(), now)
}
