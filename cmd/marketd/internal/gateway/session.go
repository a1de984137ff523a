package gateway

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kimsuhan/cex-api/cmd/marketd/internal/hub"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/protocol"
)

// Client is the transport seam a session talks back through.
type Client interface {
	ID() string
	SendJSON(v interface{})
	SendUpdate(topic string, payload []byte)
	Close()
}

// Session owns one connected client's hub subscriptions. Everything here is
// local to the client: dropping a session never disturbs the hub's other
// subscribers or the publishers.
type Session struct {
	client       Client
	hub          *hub.Hub
	logger       *zap.Logger
	validSymbols map[string]bool

	mu    sync.Mutex
	subs  map[string]*hub.Subscription // topic -> live subscription
	pumps sync.WaitGroup
}

func NewSession(client Client, h *hub.Hub, logger *zap.Logger, validSymbols map[string]bool) *Session {
	return &Session{
		client:       client,
		hub:          h,
		logger:       logger,
		validSymbols: validSymbols,
		subs:         make(map[string]*hub.Subscription),
	}
}

func (s *Session) HandleCommand(req protocol.WSRequest) {
	switch req.Action {
	case protocol.ActionSubscribe:
		s.handleSubscribe(req)
	case protocol.ActionUnsubscribe:
		s.handleUnsubscribe(req)
	case protocol.ActionUnsubscribeAll:
		s.handleUnsubscribeAll(req)
	default:
		s.sendError(req.ID, "Unknown action: "+req.Action)
	}
}

func topicFor(kind, symbol string) (string, bool) {
	switch kind {
	case protocol.KindPrice:
		return hub.PriceTopic(symbol), true
	case protocol.KindChart:
		return hub.ChartTopic(symbol), true
	default:
		return "", false
	}
}

func (s *Session) handleSubscribe(req protocol.WSRequest) {
	if _, ok := topicFor(req.Payload.Kind, ""); !ok {
		s.sendError(req.ID, "Unknown kind: "+req.Payload.Kind)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var added []string
	for _, sym := range req.Payload.Symbols {
		if !s.validSymbols[sym] {
			continue
		}
		topic, _ := topicFor(req.Payload.Kind, sym)
		// Idempotency: Ignore if already subscribed
		if _, ok := s.subs[topic]; ok {
			continue
		}

		sub := s.hub.Subscribe(topic)
		s.subs[topic] = sub
		s.pumps.Add(1)
		go s.pump(topic, sub)
		added = append(added, sym)
	}

	if len(added) == 0 {
		s.sendError(req.ID, "No valid/new symbols provided")
		return
	}
	s.sendAck(req.ID, fmt.Sprintf("Subscribed to %s %v", req.Payload.Kind, added))
}

func (s *Session) handleUnsubscribe(req protocol.WSRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for _, sym := range req.Payload.Symbols {
		topic, ok := topicFor(req.Payload.Kind, sym)
		if !ok {
			continue
		}
		if sub, subscribed := s.subs[topic]; subscribed {
			sub.Close()
			delete(s.subs, topic)
			removed = append(removed, sym)
		}
	}

	if len(removed) == 0 {
		s.sendError(req.ID, fmt.Sprintf("Not subscribed to: %v", req.Payload.Symbols))
		return
	}
	s.sendAck(req.ID, fmt.Sprintf("Unsubscribed from %v", removed))
}

func (s *Session) handleUnsubscribeAll(req protocol.WSRequest) {
	s.mu.Lock()
	for topic, sub := range s.subs {
		sub.Close()
		delete(s.subs, topic)
	}
	s.mu.Unlock()

	s.sendAck(req.ID, "Unsubscribed from all topics")
}

// Shutdown tears the session down after a disconnect. The client channel is
// only closed once every pump has drained, so no pump ever writes to a dead
// client.
func (s *Session) Shutdown() {
	s.mu.Lock()
	for topic, sub := range s.subs {
		sub.Close()
		delete(s.subs, topic)
	}
	s.mu.Unlock()

	s.pumps.Wait()
	s.client.Close()
}

// pump forwards one subscription's messages to the client until the
// subscription closes.
func (s *Session) pump(topic string, sub *hub.Subscription) {
	defer s.pumps.Done()
	for msg := range sub.C {
		s.client.SendUpdate(topic, msg)
	}
}

func (s *Session) sendAck(id, msg string) {
	s.client.SendJSON(protocol.WSResponse{Type: "ack", ID: id, Status: "success", Message: msg})
}

func (s *Session) sendError(id, msg string) {
	s.client.SendJSON(protocol.WSResponse{Type: "error", ID: id, Message: msg})
}
