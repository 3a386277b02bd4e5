package chat

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/vigilapp/vigil/internal/store"
	"github.com/vigilapp/vigil/internal/stream"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
)

const reopenDelay = 2 * time.Second

// SendMessage validates the conversation and writes the message, the
// conversation's lastMessage snapshot, the sender's typing clear and
// presence refresh, and every other participant's unread increment as
// one atomic batch. Returns the remote message id.
//
// Implements the retry scheduler's RemoteSender contract.
func (s *Service) SendMessage(ctx context.Context, conversationID, text string, msgType store.MessageType, mediaURL string, loc *store.Location) (string, error) {
	uid, err := s.currentUser()
	if err != nil {
		return "", err
	}

	convRef := s.conversations().Doc(conversationID)
	snap, err := convRef.Get(ctx)
	if err != nil {
		return "", classify("send message", err)
	}
	var conv Conversation
	if err := snap.DataTo(&conv); err != nil {
		return "", fmt.Errorf("decode conversation: %w", err)
	}
	if !slices.Contains(conv.Participants, uid) {
		return "", fmt.Errorf("send message: user %s is not a participant: %w", uid, ErrPermissionDenied)
	}

	now := time.Now()
	msgRef := s.messages().NewDoc()
	b := s.fs.Batch()
	b.Set(msgRef, Message{
		ConversationID: conversationID,
		Sender:         uid,
		Text:           text,
		Timestamp:      now,
		Read:           false,
		ReadBy:         []string{},
		Type:           string(msgType),
		MediaURL:       mediaURL,
		Location:       wireLocation(loc),
		DeliveryStatus: "sent",
	})
	b.Update(convRef, []firestore.Update{
		{Path: "lastMessage", Value: &LastMessage{Text: preview(text, msgType), Sender: uid, Timestamp: now, Read: false}},
		{Path: "updatedAt", Value: now},
	})
	s.presence.ClearTypingInBatch(b, conversationID, uid)
	s.presence.RefreshInBatch(b, uid)

	for _, p := range conv.Participants {
		entry := map[string]any{"lastAccessed": now}
		if p != uid {
			entry = map[string]any{"unreadCount": firestore.Increment(1)}
		}
		b.Set(s.userChats().Doc(p), map[string]any{
			"userId":        p,
			"conversations": map[string]any{conversationID: entry},
		}, firestore.MergeAll)
	}

	if _, err := b.Commit(ctx); err != nil {
		return "", classify("send message", err)
	}
	return msgRef.ID, nil
}

// DeleteMessage removes a message. Only the sender may delete; the
// conversation's lastMessage is recomputed from the newest remaining
// message afterwards.
func (s *Service) DeleteMessage(ctx context.Context, messageID string) error {
	uid, err := s.currentUser()
	if err != nil {
		return err
	}

	msgRef := s.messages().Doc(messageID)
	snap, err := msgRef.Get(ctx)
	if err != nil {
		return classify("delete message", err)
	}
	var m Message
	if err := snap.DataTo(&m); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if m.Sender != uid {
		return fmt.Errorf("delete message: only the sender may delete: %w", ErrPermissionDenied)
	}

	if _, err := msgRef.Delete(ctx); err != nil {
		return classify("delete message", err)
	}

	// Recompute the lastMessage snapshot from what remains.
	docs, err := s.messages().
		Where("conversationId", "==", m.ConversationID).
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return classify("recompute last message", err)
	}

	var last *LastMessage
	if len(docs) > 0 {
		var newest Message
		if err := docs[0].DataTo(&newest); err != nil {
			return fmt.Errorf("decode newest message: %w", err)
		}
		last = &LastMessage{
			Text:      preview(newest.Text, store.MessageType(newest.Type)),
			Sender:    newest.Sender,
			Timestamp: newest.Timestamp,
			Read:      newest.Read,
		}
	}
	_, err = s.conversations().Doc(m.ConversationID).Update(ctx, []firestore.Update{
		{Path: "lastMessage", Value: last},
	})
	if err != nil {
		return classify("rewrite last message", err)
	}
	return nil
}

// GetOlderMessages fetches one page of history before the given
// timestamp, returned oldest-first.
func (s *Service) GetOlderMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	docs, err := s.messages().
		Where("conversationId", "==", conversationID).
		Where("timestamp", "<", before).
		OrderBy("timestamp", firestore.Desc).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, classify("get older messages", err)
	}

	msgs := make([]Message, 0, len(docs))
	for _, doc := range docs {
		var m Message
		if err := doc.DataTo(&m); err != nil {
			continue
		}
		m.ID = doc.Ref.ID
		msgs = append(msgs, m)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// ObserveMessages emits the conversation's messages as complete
// snapshots ordered by timestamp ascending. Each emission triggers a
// fire-and-forget read-receipt pass for messages the current user has
// not read; receipts never block or delay emission.
func (s *Service) ObserveMessages(ctx context.Context, conversationID string) (*stream.Subscription[[]Message], error) {
	uid, err := s.currentUser()
	if err != nil {
		return nil, err
	}

	var receiptBusy atomic.Bool
	run := func(ctx context.Context, emit func([]Message)) error {
		q := s.messages().
			Where("conversationId", "==", conversationID).
			OrderBy("timestamp", firestore.Asc)
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
						return classify("observe messages", err)
					}
					s.logger.Warn("message listener error, reopening",
						zap.String("conversation", conversationID), zap.Error(err))
					if !sleepCtx(ctx, reopenDelay) {
						return nil
					}
					break
				}

				msgs := s.decodeMessageSnapshot(snap.Documents)
				emit(msgs)

				if receiptBusy.CompareAndSwap(false, true) {
					go func(msgs []Message) {
						defer receiptBusy.Store(false)
						s.acknowledgeRead(conversationID, uid, msgs)
					}(msgs)
				}
			}
		}
	}

	return stream.New(ctx, run, nil), nil
}

func (s *Service) decodeMessageSnapshot(docs *firestore.DocumentIterator) []Message {
	var msgs []Message
	for {
		doc, err := docs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			s.logger.Warn("message doc iteration failed", zap.Error(err))
			break
		}
		var m Message
		if err := doc.DataTo(&m); err != nil {
			continue
		}
		m.ID = doc.Ref.ID
		msgs = append(msgs, m)
	}
	return dedupeByID(msgs)
}

// acknowledgeRead marks every unread received message as read and
// resets the reader's unread counter, all in one batch. Failures are
// logged; the next snapshot retries naturally.
func (s *Service) acknowledgeRead(conversationID, uid string, msgs []Message) {
	var unread []Message
	for _, m := range msgs {
		if !m.Read && m.Sender != uid {
			unread = append(unread, m)
		}
	}
	if len(unread) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b := s.fs.Batch()
	for _, m := range unread {
		b.Update(s.messages().Doc(m.ID), []firestore.Update{
			{Path: "read", Value: true},
			{Path: "readBy", Value: firestore.ArrayUnion(uid)},
		})
	}
	b.Update(s.conversations().Doc(conversationID), []firestore.Update{
		{Path: "lastMessage.read", Value: true},
	})
	b.Set(s.userChats().Doc(uid), map[string]any{
		"userId": uid,
		"conversations": map[string]any{conversationID: map[string]any{
			"unreadCount":  0,
			"lastAccessed": time.Now(),
		}},
	}, firestore.MergeAll)

	if _, err := b.Commit(ctx); err != nil {
		s.logger.Warn("read receipt batch failed",
			zap.String("conversation", conversationID),
			zap.Int("messages", len(unread)),
			zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
