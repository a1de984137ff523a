package feed

import (
	"context"

	"github.com/kimsuhan/cex-api/pkg/models"
)

// Source is the feed adapter boundary. Implementations own their connection
// lifecycle (dialing, reconnecting, decoding) and emit already-decoded
// observations on two independent streams. A silent gap in either stream is
// normal and needs no handling downstream.
type Source interface {
	// Trades emits one observation per venue trade.
	Trades() <-chan models.PriceObservation
	// Tickers emits one observation per 24h ticker update.
	Tickers() <-chan models.PriceObservation
	// Run blocks until ctx is cancelled, feeding both channels.
	Run(ctx context.Context) error
}

const streamBuffer = 256
