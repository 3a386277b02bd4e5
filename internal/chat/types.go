package chat

import (
	"time"

	"github.com/vigilapp/vigil/internal/store"
)

// LastMessage is the snapshot embedded in a conversation document.
type LastMessage struct {
	Text      string    `firestore:"text"`
	Sender    string    `firestore:"sender"`
	Timestamp time.Time `firestore:"timestamp"`
	Read      bool      `firestore:"read"`
}

// Conversation is the wire shape of conversations/{id}. Local copies
// are read-only projections refreshed by subscription.
type Conversation struct {
	ID           string       `firestore:"-"`
	Participants []string     `firestore:"participants"`
	CreatedAt    time.Time    `firestore:"createdAt"`
	UpdatedAt    time.Time    `firestore:"updatedAt"`
	LastMessage  *LastMessage `firestore:"lastMessage"`
	IsGroup      bool         `firestore:"isGroup"`
	GroupName    string       `firestore:"groupName"`
	GroupAdmin   string       `firestore:"groupAdmin"`
}

// Location is the geo attachment on a message document.
type Location struct {
	Latitude     float64 `firestore:"latitude"`
	Longitude    float64 `firestore:"longitude"`
	LocationName string  `firestore:"locationName"`
}

// Message is the wire shape of messages/{id}. Immutable once created
// except for read/readBy.
type Message struct {
	ID             string    `firestore:"-"`
	ConversationID string    `firestore:"conversationId"`
	Sender         string    `firestore:"sender"`
	Text           string    `firestore:"text"`
	Timestamp      time.Time `firestore:"timestamp"`
	Read           bool      `firestore:"read"`
	ReadBy         []string  `firestore:"readBy"`
	Type           string    `firestore:"messageType"`
	MediaURL       string    `firestore:"mediaUrl"`
	Location       *Location `firestore:"location"`
	DeliveryStatus string    `firestore:"deliveryStatus"`
}

// ChatSummary is one entry in a user's userChats document. The
// per-conversation entries are kept in a map keyed by conversation id
// so unread counters are single atomic increments.
type ChatSummary struct {
	UnreadCount  int64     `firestore:"unreadCount"`
	LastAccessed time.Time `firestore:"lastAccessed"`
}

// UserChats is the wire shape of userChats/{userId}.
type UserChats struct {
	UserID        string                 `firestore:"userId"`
	Conversations map[string]ChatSummary `firestore:"conversations"`
}

func wireLocation(loc *store.Location) *Location {
	if loc == nil {
		return nil
	}
	return &Location{Latitude: loc.Latitude, Longitude: loc.Longitude, LocationName: loc.Name}
}

// preview is the lastMessage text shown in conversation lists.
func preview(text string, msgType store.MessageType) string {
	if text != "" {
		return text
	}
	switch msgType {
	case store.TypeImage:
		return "Photo"
	case store.TypeLocation:
		return "Location"
	case store.TypeAudio:
		return "Voice message"
	}
	return text
}
