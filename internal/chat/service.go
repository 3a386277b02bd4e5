// Package chat is the remote conversation/message sync layer. It owns
// the Firestore collections of the wire contract and translates their
// change notifications into ordered, de-duplicated snapshots for local
// observers.
package chat

import (
	"slices"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/vigilapp/vigil/internal/identity"
	"github.com/vigilapp/vigil/internal/presence"
	"go.uber.org/zap"
)

// Service wraps the Firestore client for chat operations.
type Service struct {
	fs       *firestore.Client
	users    identity.Provider
	presence *presence.Service
	logger   *zap.Logger
}

// NewService creates the remote sync layer on a shared Firestore client.
func NewService(fs *firestore.Client, users identity.Provider, pres *presence.Service, logger *zap.Logger) *Service {
	return &Service{fs: fs, users: users, presence: pres, logger: logger}
}

func (s *Service) conversations() *firestore.CollectionRef { return s.fs.Collection("conversations") }
func (s *Service) messages() *firestore.CollectionRef      { return s.fs.Collection("messages") }
func (s *Service) userChats() *firestore.CollectionRef     { return s.fs.Collection("userChats") }

func (s *Service) currentUser() (string, error) {
	uid := s.users.CurrentUserID()
	if uid == "" {
		return "", ErrNotAuthenticated
	}
	return uid, nil
}

// summaryEntry addresses one per-conversation summary entry inside a
// userChats document.
func summaryEntry(conversationID string) firestore.FieldPath {
	return firestore.FieldPath{"conversations", conversationID}
}

// sameParticipants reports set equality of two participant lists.
func sameParticipants(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := slices.Clone(a)
	bs := slices.Clone(b)
	sort.Strings(as)
	sort.Strings(bs)
	return slices.Equal(as, bs)
}

// dedupeByID drops repeated message ids, keeping the first occurrence.
// Snapshot order is preserved.
func dedupeByID(msgs []Message) []Message {
	seen := make(map[string]struct{}, len(msgs))
	out := msgs[:0]
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// dedupeConversations drops repeated conversation ids, preserving order.
func dedupeConversations(convs []Conversation) []Conversation {
	seen := make(map[string]struct{}, len(convs))
	out := convs[:0]
	for _, c := range convs {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}
