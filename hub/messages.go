package hub

// MessageType is the closed set of frame kinds exchanged with UI
// clients over the WebSocket.
type MessageType string

const (
	// Server to client.
	TypeStatus          MessageType = "status"
	TypePong            MessageType = "pong"
	TypeAdvisorKeywords MessageType = "advisor_keywords"

	// Client to server.
	TypePing   MessageType = "ping"
	TypePause  MessageType = "pause"
	TypeResume MessageType = "resume"
)

// StatusMessage reports connection state and the hub-wide pause flag.
type StatusMessage struct {
	Type      MessageType `json:"type"`
	Status    string      `json:"status"`
	Paused    bool        `json:"paused"`
	Timestamp int64       `json:"timestamp"`
}

// AdvisorMessage carries one advisory answer. The millisecond
// timestamp lets clients discard stale frames.
type AdvisorMessage struct {
	Type      MessageType `json:"type"`
	Text      string      `json:"text"`
	Timestamp int64       `json:"timestamp"`
}

type PongMessage struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

// InboundMessage is what clients send; only the type matters today.
type InboundMessage struct {
	Type MessageType `json:"type"`
}
