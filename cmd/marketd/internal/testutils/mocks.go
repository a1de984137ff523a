package testutils

import (
	"context"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/kimsuhan/cex-api/pkg/models"
)

// MockKafkaReader replays a fixed message list, then reports
// context.DeadlineExceeded so consumer loops stop cleanly in tests.
type MockKafkaReader struct {
	Messages []kafka.Message
	Index    int
	Mu       sync.Mutex
	// Closed simulates a closed connection or end of stream
	Closed bool
}

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if m.Closed {
		return kafka.Message{}, io.EOF
	}

	if m.Index >= len(m.Messages) {
		return kafka.Message{}, context.DeadlineExceeded
	}

	msg := m.Messages[m.Index]
	m.Index++
	return msg, nil
}

func (m *MockKafkaReader) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

// StubSource is a hand-driven feed adapter for pipeline tests.
type StubSource struct {
	TradeCh  chan models.PriceObservation
	TickerCh chan models.PriceObservation
}

func NewStubSource() *StubSource {
	return &StubSource{
		TradeCh:  make(chan models.PriceObservation, 64),
		TickerCh: make(chan models.PriceObservation, 64),
	}
}

func (s *StubSource) Trades() <-chan models.PriceObservation  { return s.TradeCh }
func (s *StubSource) Tickers() <-chan models.PriceObservation { return s.TickerCh }

func (s *StubSource) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
