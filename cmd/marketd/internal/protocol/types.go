package protocol

import "encoding/json"

const (
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionUnsubscribeAll = "unsubscribe_all"
)

// Update kinds a client can attach to.
const (
	KindPrice = "price" // one message per accepted observation
	KindChart = "chart" // one message per snapshot tick
)

type WSRequest struct {
	Action  string         `json:"action"`
	Payload RequestPayload `json:"payload"`
	ID      string         `json:"id,omitempty"`
}

type RequestPayload struct {
	Kind    string   `json:"kind"`
	Symbols []string `json:"symbols"`
}

type WSResponse struct {
	Type    string          `json:"type"`             // "ack", "error", "update"
	ID      string          `json:"id,omitempty"`     // Matches request ID
	Status  string          `json:"status,omitempty"` // "success", "error"
	Topic   string          `json:"topic,omitempty"`  // Set on updates
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}
