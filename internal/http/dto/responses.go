package dto

import "time"

type ErrorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type NotificationListResponse struct {
	Items       any `json:"items"`
	UnreadCount int `json:"unreadCount"`
}

type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

type ConnectionResponse struct {
	State      string `json:"state"`
	Connected  bool   `json:"connected"`
	Transport  string `json:"transport"`
	Dispatched uint64 `json:"dispatched"`
	Dropped    uint64 `json:"dropped"`
	Faults     uint64 `json:"faults"`
}

// StreamMessage is one frame of the terminal UI websocket.
type StreamMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

const (
	StreamPaymentState = "payment_state"
	StreamFeed         = "feed"
	StreamConnection   = "connection"
)

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type IdentityResponse struct {
	TerminalID      string `json:"terminal_id"`
	Role            string `json:"role"`
	PushConnections int    `json:"push_connections"`
}
