package store

import (
	"context"

	"github.com/kimsuhan/cex-api/pkg/models"
)

// PriceStore is the durable side of the price cache plus the chart
// time-series. Writes are best-effort: the in-memory state stays authoritative
// whether or not they land.
type PriceStore interface {
	// SavePrice upserts the per-symbol detail record (rolling TTL) and the
	// latest-price overview entry in a single round trip.
	SavePrice(ctx context.Context, obs models.PriceObservation, ingestedAt int64) error

	// LatestPrice reads the detail record for one symbol. ok is false when the
	// symbol is unknown or expired.
	LatestPrice(ctx context.Context, symbol string) (price float64, ok bool, err error)

	// AllPrices is the bulk read of the latest-price overview table.
	AllPrices(ctx context.Context) ([]models.SymbolPrice, error)

	// AppendChartPoints inserts one point per symbol, all scored with ts, in a
	// single round trip.
	AppendChartPoints(ctx context.Context, ts int64, prices []models.SymbolPrice) error

	// ChartRange returns the points for symbol with from <= timestamp <= to,
	// ascending by timestamp.
	ChartRange(ctx context.Context, symbol string, from, to int64) ([]models.ChartPoint, error)

	// SweepChart drops every point older than cutoff across all symbols.
	SweepChart(ctx context.Context, cutoff int64) error

	Ping(ctx context.Context) error
	Close() error
}
