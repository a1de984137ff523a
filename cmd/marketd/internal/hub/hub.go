package hub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Topic names, one channel per symbol and update kind.
const (
	priceTopicPrefix = "price."
	chartTopicPrefix = "chart."
)

func PriceTopic(symbol string) string { return priceTopicPrefix + symbol }
func ChartTopic(symbol string) string { return chartTopicPrefix + symbol }

// PriceUpdate is the payload published on price.<symbol>.
type PriceUpdate struct {
	Price float64 `json:"price"`
}

// ChartUpdate is the payload published on chart.<symbol>.
type ChartUpdate struct {
	Price float64 `json:"price"`
	Time  int64   `json:"time"`
}

// Subscription is one consumer's attachment to a topic. Close is idempotent
// and detaches only this consumer.
type Subscription struct {
	C chan []byte

	hub   *Hub
	topic string
	once  sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.detach(s)
	})
}

// Hub is the in-process topic registry. Delivery is best-effort: with no
// subscribers a publish is dropped, and a subscriber whose buffer is full
// loses the message instead of blocking the publisher.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}

	logger  *zap.Logger
	bufSize int
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		topics:  make(map[string]map[*Subscription]struct{}),
		logger:  logger,
		bufSize: 16,
	}
}

func (h *Hub) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		C:     make(chan []byte, h.bufSize),
		hub:   h,
		topic: topic,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Subscription]struct{})
	}
	h.topics[topic][sub] = struct{}{}
	return sub
}

// Publish broadcasts payload to every current subscriber of topic. Failures
// never reach the caller: marshal errors and slow consumers are logged here.
func (h *Hub) Publish(topic string, payload interface{}) {
	b, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Publish Marshal Error", zap.String("topic", topic), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.topics[topic] {
		select {
		case sub.C <- b:
		default:
			h.logger.Warn("Dropping message for slow subscriber", zap.String("topic", topic))
		}
	}
}

func (h *Hub) detach(sub *Subscription) {
	h.mu.Lock()
	if subs, ok := h.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, sub.topic)
		}
	}
	h.mu.Unlock()

	// Safe to close here: publishers only send while holding the read lock,
	// so no send can race this close once the subscription is removed.
	close(sub.C)
}

// Subscribers reports the current attachment count for a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
