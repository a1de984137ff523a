package models

// Source identifies which venue stream produced an observation.
type Source string

const (
	SourceTrade  Source = "trade"
	SourceTicker Source = "ticker"
)

// PriceObservation is one decoded price update from the venue.
// Immutable; one per inbound message.
type PriceObservation struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Source    Source  `json:"source"`
	EventTime int64   `json:"eventTime"` // unix milli
}

// TradeMessage is the wire form of a trade stream message.
type TradeMessage struct {
	Symbol    string `json:"symbol"`
	EventTime int64  `json:"eventTime"`
	Price     string `json:"price"`
}

// TickerMessage is the wire form of a 24h ticker stream message.
type TickerMessage struct {
	Symbol      string `json:"symbol"`
	EventTime   int64  `json:"eventTime"`
	CurDayClose string `json:"curDayClose"`
}

// SymbolPrice is one row of the latest-price overview table.
type SymbolPrice struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// ChartPoint is one time-series sample served to chart consumers.
type ChartPoint struct {
	Price float64 `json:"price"`
	Time  int64   `json:"time"` // unix milli
}
