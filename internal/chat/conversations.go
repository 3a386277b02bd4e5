package chat

import (
	"context"
	"fmt"
	"slices"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/vigilapp/vigil/internal/stream"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
)

// deleteChunk keeps batched message deletions under Firestore's
// 500-write batch limit.
const deleteChunk = 400

// ObserveConversations emits the user's conversation list as complete
// snapshots ordered by updatedAt descending. Opening the subscription
// also refreshes the caller's presence.
func (s *Service) ObserveConversations(ctx context.Context, userID string) (*stream.Subscription[[]Conversation], error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.presence.Refresh(ctx, userID); err != nil {
			s.logger.Warn("presence refresh on subscribe failed", zap.Error(err))
		}
	}()

	run := func(ctx context.Context, emit func([]Conversation)) error {
		q := s.conversations().
			Where("participants", "array-contains", userID).
			OrderBy("updatedAt", firestore.Desc)
		for {
			it := q.Snapshots(ctx)
			for {
				snap, err := it.Next()
				if err != nil {
					it.Stop()
					if ctx.Err() != nil {
						return nil
					}
					if fatalSubscriptionCode(err) {
						return classify("observe conversations", err)
					}
					s.logger.Warn("conversation listener error, reopening",
						zap.String("user", userID), zap.Error(err))
					if !sleepCtx(ctx, reopenDelay) {
						return nil
					}
					break
				}

				var convs []Conversation
				docs := snap.Documents
				for {
					doc, err := docs.Next()
					if err == iterator.Done {
						break
					}
					if err != nil {
						s.logger.Warn("conversation doc iteration failed", zap.Error(err))
						break
					}
					var c Conversation
					if err := doc.DataTo(&c); err != nil {
						continue
					}
					c.ID = doc.Ref.ID
					convs = append(convs, c)
				}
				emit(dedupeConversations(convs))
			}
		}
	}

	return stream.New(ctx, run, nil), nil
}

// CreateConversation creates a conversation with the given participants
// (the current user is always included), plus a summary entry for each
// participant. For 1:1 conversations an existing conversation with the
// same two participants is reused.
func (s *Service) CreateConversation(ctx context.Context, participantIDs []string, isGroup bool, groupName string) (string, error) {
	uid, err := s.currentUser()
	if err != nil {
		return "", err
	}

	participants := slices.Clone(participantIDs)
	if !slices.Contains(participants, uid) {
		participants = append(participants, uid)
	}
	if len(participants) < 2 {
		return "", fmt.Errorf("create conversation: need at least two participants: %w", ErrInvalidState)
	}

	if !isGroup {
		existing, err := s.findDirectConversation(ctx, uid, participants)
		if err != nil {
			return "", err
		}
		if existing != "" {
			return existing, nil
		}
	}

	now := time.Now()
	ref := s.conversations().NewDoc()
	conv := Conversation{
		Participants: participants,
		CreatedAt:    now,
		UpdatedAt:    now,
		IsGroup:      isGroup,
		GroupName:    groupName,
	}
	if isGroup {
		conv.GroupAdmin = uid
	}

	b := s.fs.Batch()
	b.Set(ref, conv)
	for _, p := range participants {
		b.Set(s.userChats().Doc(p), map[string]any{
			"userId": p,
			"conversations": map[string]any{ref.ID: map[string]any{
				"unreadCount":  0,
				"lastAccessed": now,
			}},
		}, firestore.MergeAll)
	}
	if _, err := b.Commit(ctx); err != nil {
		return "", classify("create conversation", err)
	}
	return ref.ID, nil
}

// findDirectConversation searches the caller's 1:1 conversations for an
// exact participant-set match.
func (s *Service) findDirectConversation(ctx context.Context, uid string, participants []string) (string, error) {
	docs, err := s.conversations().
		Where("isGroup", "==", false).
		Where("participants", "array-contains", uid).
		Documents(ctx).GetAll()
	if err != nil {
		return "", classify("find direct conversation", err)
	}
	for _, doc := range docs {
		var c Conversation
		if err := doc.DataTo(&c); err != nil {
			continue
		}
		if sameParticipants(c.Participants, participants) {
			return doc.Ref.ID, nil
		}
	}
	return "", nil
}

// MarkConversationAsRead marks every unread received message as read
// and resets the caller's unread counter. Idempotent.
func (s *Service) MarkConversationAsRead(ctx context.Context, conversationID string) error {
	uid, err := s.currentUser()
	if err != nil {
		return err
	}

	docs, err := s.messages().
		Where("conversationId", "==", conversationID).
		Where("read", "==", false).
		Documents(ctx).GetAll()
	if err != nil {
		return classify("mark conversation as read", err)
	}

	b := s.fs.Batch()
	marked := false
	for _, doc := range docs {
		var m Message
		if err := doc.DataTo(&m); err != nil {
			continue
		}
		if m.Sender == uid {
			continue
		}
		b.Update(doc.Ref, []firestore.Update{
			{Path: "read", Value: true},
			{Path: "readBy", Value: firestore.ArrayUnion(uid)},
		})
		marked = true
	}
	if marked {
		b.Update(s.conversations().Doc(conversationID), []firestore.Update{
			{Path: "lastMessage.read", Value: true},
		})
	}
	b.Set(s.userChats().Doc(uid), map[string]any{
		"userId": uid,
		"conversations": map[string]any{conversationID: map[string]any{
			"unreadCount":  0,
			"lastAccessed": time.Now(),
		}},
	}, firestore.MergeAll)

	if _, err := b.Commit(ctx); err != nil {
		return classify("mark conversation as read", err)
	}
	return nil
}

// DeleteConversation removes the caller from a group conversation that
// still has other participants (reassigning admin if needed), or
// deletes the conversation and all of its messages outright. The
// caller's summary entry is removed either way.
func (s *Service) DeleteConversation(ctx context.Context, conversationID string) error {
	uid, err := s.currentUser()
	if err != nil {
		return err
	}

	convRef := s.conversations().Doc(conversationID)
	snap, err := convRef.Get(ctx)
	if err != nil {
		return classify("delete conversation", err)
	}
	var conv Conversation
	if err := snap.DataTo(&conv); err != nil {
		return fmt.Errorf("decode conversation: %w", err)
	}
	if !slices.Contains(conv.Participants, uid) {
		return fmt.Errorf("delete conversation: not a participant: %w", ErrPermissionDenied)
	}

	if conv.IsGroup && len(conv.Participants) > 1 {
		updates := []firestore.Update{
			{Path: "participants", Value: firestore.ArrayRemove(uid)},
			{Path: "updatedAt", Value: time.Now()},
		}
		if conv.GroupAdmin == uid {
			if next := nextAdmin(conv.Participants, uid); next != "" {
				updates = append(updates, firestore.Update{Path: "groupAdmin", Value: next})
			}
		}
		b := s.fs.Batch()
		b.Update(convRef, updates)
		b.Update(s.userChats().Doc(uid), []firestore.Update{
			{FieldPath: summaryEntry(conversationID), Value: firestore.Delete},
		})
		if _, err := b.Commit(ctx); err != nil {
			return classify("leave conversation", err)
		}
		return nil
	}

	if err := s.deleteConversationMessages(ctx, conversationID); err != nil {
		return err
	}
	b := s.fs.Batch()
	b.Delete(convRef)
	b.Update(s.userChats().Doc(uid), []firestore.Update{
		{FieldPath: summaryEntry(conversationID), Value: firestore.Delete},
	})
	if _, err := b.Commit(ctx); err != nil {
		return classify("delete conversation", err)
	}
	return nil
}

// nextAdmin picks the first remaining participant after the leaver.
func nextAdmin(participants []string, leaving string) string {
	for _, p := range participants {
		if p != leaving {
			return p
		}
	}
	return ""
}

func (s *Service) deleteConversationMessages(ctx context.Context, conversationID string) error {
	for {
		docs, err := s.messages().
			Where("conversationId", "==", conversationID).
			Limit(deleteChunk).
			Documents(ctx).GetAll()
		if err != nil {
			return classify("list conversation messages", err)
		}
		if len(docs) == 0 {
			return nil
		}
		b := s.fs.Batch()
		for _, doc := range docs {
			b.Delete(doc.Ref)
		}
		if _, err := b.Commit(ctx); err != nil {
			return classify("delete conversation messages", err)
		}
		if len(docs) < deleteChunk {
			return nil
		}
	}
}
