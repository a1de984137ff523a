package hub_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kimsuhan/cex-api/cmd/marketd/internal/hub"
)

func TestHub_PublishReachesSubscriber(t *testing.T) {
	h := hub.NewHub(zap.NewNop())
	sub := h.Subscribe(hub.PriceTopic("BTCUSDT"))
	defer sub.Close()

	h.Publish(hub.PriceTopic("BTCUSDT"), hub.PriceUpdate{Price: 101.5})

	select {
	case msg := <-sub.C:
		var upd hub.PriceUpdate
		if err := json.Unmarshal(msg, &upd); err != nil {
			t.Fatalf("Invalid payload: %v", err)
		}
		if upd.Price != 101.5 {
			t.Errorf("Expected price 101.5, got %v", upd.Price)
		}
	case <-time.After(time.Second):
		t.Fatal("Subscriber did not receive the message")
	}

	// Exactly one message
	select {
	case msg := <-sub.C:
		t.Errorf("Unexpected extra message: %s", msg)
	default:
	}
}

func TestHub_UnrelatedTopicGetsNothing(t *testing.T) {
	h := hub.NewHub(zap.NewNop())
	sub := h.Subscribe(hub.PriceTopic("BTCUSDT"))
	defer sub.Close()

	h.Publish(hub.PriceTopic("ETHUSDT"), hub.PriceUpdate{Price: 50})

	select {
	case msg := <-sub.C:
		t.Errorf("Subscriber received a message for another symbol: %s", msg)
	default:
	}
}

func TestHub_PublishWithoutSubscribersIsDropped(t *testing.T) {
	h := hub.NewHub(zap.NewNop())
	// Must not panic or block
	h.Publish(hub.ChartTopic("BTCUSDT"), hub.ChartUpdate{Price: 1, Time: 2})
}

func TestHub_CloseIsLocal(t *testing.T) {
	h := hub.NewHub(zap.NewNop())
	a := h.Subscribe(hub.PriceTopic("BTCUSDT"))
	b := h.Subscribe(hub.PriceTopic("BTCUSDT"))
	defer b.Close()

	a.Close()
	a.Close() // idempotent

	h.Publish(hub.PriceTopic("BTCUSDT"), hub.PriceUpdate{Price: 100})

	select {
	case _, ok := <-a.C:
		if ok {
			t.Error("Closed subscription should not receive messages")
		}
	default:
		t.Error("Closed subscription channel should be closed")
	}

	select {
	case <-b.C:
	case <-time.After(time.Second):
		t.Error("Remaining subscriber should still receive messages")
	}

	if h.Subscribers(hub.PriceTopic("BTCUSDT")) != 1 {
		t.Errorf("Expected 1 remaining subscriber, got %d", h.Subscribers(hub.PriceTopic("BTCUSDT")))
	}
}

func TestHub_SlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	h := hub.NewHub(zap.NewNop())
	sub := h.Subscribe(hub.PriceTopic("BTCUSDT"))
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		// Far more messages than the subscription buffer holds; nobody reads.
		for i := 0; i < 1000; i++ {
			h.Publish(hub.PriceTopic("BTCUSDT"), hub.PriceUpdate{Price: float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publisher blocked on a slow subscriber")
	}
}

func TestHub_ConcurrentSubscribePublishClose(t *testing.T) {
	// Run with `go test -race ./...`
	h := hub.NewHub(zap.NewNop())
	topic := hub.PriceTopic("BTCUSDT")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sub := h.Subscribe(topic)
				h.Publish(topic, hub.PriceUpdate{Price: float64(j)})
				sub.Close()
			}
		}()
	}
	wg.Wait()

	if h.Subscribers(topic) != 0 {
		t.Errorf("Expected no subscribers left, got %d", h.Subscribers(topic))
	}
}
