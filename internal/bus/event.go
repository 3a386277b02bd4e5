package bus

import "time"

// Event is a domain event carried on the bus. Kind uses dotted
// namespaces: "message.sent", "network.up", "engine.status_changed".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the engine. Subscribers filter on the dotted
// prefix ("message.", "network.") or match a kind exactly.
const (
	MessageQueued     = "message.queued"
	MessageSending    = "message.sending"
	MessageSent       = "message.sent"
	MessageSendFailed = "message.send_failed"
	MessageCanceled   = "message.canceled"
	SyncPassCompleted = "sync.pass_completed"
	NetworkUp         = "network.up"
	NetworkDown       = "network.down"
	StatusChanged     = "engine.status_changed"
)

// MessageRef identifies a queued message in message.* event payloads.
type MessageRef struct {
	MessageID      string
	ConversationID string
}
