package gateway

import "context"

// HeaderProvider allows injecting per-request headers.
type HeaderProvider func() map[string]string

// EventType discriminates frames delivered over the gateway stream.
type EventType string

const (
	EventMessage  EventType = "message"
	EventReaction EventType = "reaction"
)

// Event is a single frame from the gateway: either a chat message or a
// reaction added to a previously sent message.
type Event struct {
	Type     EventType `json:"type"`
	Message  *Message  `json:"message,omitempty"`
	Reaction *Reaction `json:"reaction,omitempty"`
}

// Member identifies a chat user referenced by a message.
type Member struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	IsBot bool   `json:"is_bot,omitempty"`
}

// Message is an inbound chat message.
type Message struct {
	Room     string   `json:"room"`
	UserID   string   `json:"user_id"`
	Sender   string   `json:"sender,omitempty"`
	Text     string   `json:"text"`
	IsBot    bool     `json:"is_bot,omitempty"`
	Mentions []Member `json:"mentions,omitempty"`
}

// Reaction is an acknowledgement emoji added by a user to a bot message.
type Reaction struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// Outbound payloads.
type sendRequest struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Data string `json:"data"`
}

type directRequest struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Data   string `json:"data"`
}

type reactRequest struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

type EventCallback func(event *Event)

type StateCallback func(state WebSocketState)

type WebSocketState string

const (
	WSStateDisconnected WebSocketState = "disconnected"
	WSStateConnecting   WebSocketState = "connecting"
	WSStateConnected    WebSocketState = "connected"
	WSStateReconnecting WebSocketState = "reconnecting"
	WSStateFailed       WebSocketState = "failed"
)

// WSClient is the consumer-facing surface of the gateway stream.
type WSClient interface {
	Connect(ctx context.Context) error
	OnEvent(cb EventCallback) int
	RemoveEventCallback(id int)
	OnStateChange(cb StateCallback) int
	RemoveStateCallback(id int)
	Close(ctx context.Context) error
}
