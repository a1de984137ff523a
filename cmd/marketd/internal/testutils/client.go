package testutils

import (
	"sync"

	"github.com/kimsuhan/cex-api/cmd/marketd/internal/protocol"
)

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal    string
	Messages []protocol.WSResponse // ack/error responses
	Updates  []MockUpdate          // pushed topic updates
	Closed   bool
	Mu       sync.Mutex
}

type MockUpdate struct {
	Topic   string
	Payload string
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if resp, ok := v.(protocol.WSResponse); ok {
		m.Messages = append(m.Messages, resp)
	}
}

func (m *MockClient) SendUpdate(topic string, payload []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Updates = append(m.Updates, MockUpdate{Topic: topic, Payload: string(payload)})
}

func (m *MockClient) LastMsgType() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Type
}

func (m *MockClient) UpdateCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Updates)
}
