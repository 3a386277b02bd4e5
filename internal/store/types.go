package store

// Status is the delivery state of a queued message.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSending  Status = "sending"
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// MessageType mirrors the remote messageType field.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeLocation MessageType = "location"
	TypeAudio    MessageType = "audio"
)

// Location is an optional geo attachment on a queued message.
type Location struct {
	Latitude  float64
	Longitude float64
	Name      string
}

// QueuedMessage is one outbound message awaiting delivery. Rows are
// created by Enqueue, mutated only by the retry scheduler, and deleted
// on confirmed remote acceptance. Canceled rows are kept for manual
// inspection.
type QueuedMessage struct {
	ID             string
	ConversationID string
	Text           string
	Type           MessageType
	MediaURL       string
	MediaLocalPath string
	Location       *Location
	Status         Status
	RetryCount     int
	MaxRetries     int
	LastRetryAt    int64 // epoch millis, 0 = never attempted
	CreatedAt      int64 // epoch millis
	UpdatedAt      int64
}
