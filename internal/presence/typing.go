package presence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vigilapp/vigil/internal/stream"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
)

// SetTypingStatus upserts the current user's typing entry with a fresh
// TTL, or deletes it when isTyping is false. While writing, expired
// entries for the same conversation are purged opportunistically.
// Errors are surfaced to the caller.
func (s *Service) SetTypingStatus(ctx context.Context, conversationID string, isTyping bool) error {
	uid, err := s.currentUser()
	if err != nil {
		return err
	}

	if !isTyping {
		if _, err := s.typingRef(conversationID, uid).Delete(ctx); err != nil {
			return fmt.Errorf("clear typing: %w", err)
		}
		return nil
	}

	now := time.Now()
	b := s.fs.Batch()
	b.Set(s.typingRef(conversationID, uid), TypingStatus{
		ConversationID: conversationID,
		UserID:         uid,
		Timestamp:      now,
		ExpiresAt:      now.Add(typingTTL),
	})

	stale, err := s.fs.Collection("typing").
		Where("conversationId", "==", conversationID).
		Where("expiresAt", "<=", now).
		Documents(ctx).GetAll()
	if err == nil {
		for _, doc := range stale {
			if doc.Ref.ID != conversationID+"_"+uid {
				b.Delete(doc.Ref)
			}
		}
	} else {
		// Purge is best-effort; the upsert still goes through.
		s.logger.Debug("stale typing query failed", zap.Error(err))
	}

	if _, err := b.Commit(ctx); err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	return nil
}

// ObserveTypingStatus emits the set of users currently typing in the
// conversation, never including entries past their TTL and never the
// observer. Canceling the subscription deletes the observer's own
// typing entry.
func (s *Service) ObserveTypingStatus(ctx context.Context, conversationID string) (*stream.Subscription[[]string], error) {
	uid, err := s.currentUser()
	if err != nil {
		return nil, err
	}

	run := func(ctx context.Context, emit func([]string)) error {
		snapCh := make(chan []TypingStatus, 1)
		errCh := make(chan error, 1)
		go s.watchTyping(ctx, conversationID, snapCh, errCh)

		// Entries expire between snapshots, so re-filter on a timer
		// armed for the earliest upcoming expiry.
		expiry := time.NewTimer(time.Hour)
		defer expiry.Stop()
		var entries []TypingStatus

		refresh := func() {
			active, next := activeTypists(entries, time.Now(), uid)
			emit(active)
			if !expiry.Stop() {
				select {
				case <-expiry.C:
				default:
				}
			}
			if !next.IsZero() {
				expiry.Reset(time.Until(next))
			}
		}

		for {
			select {
			case entries = <-snapCh:
				refresh()
			case <-expiry.C:
				refresh()
			case err := <-errCh:
				return err
			case <-ctx.Done():
				return nil
			}
		}
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupWait)
		defer cancel()
		if _, err := s.typingRef(conversationID, uid).Delete(ctx); err != nil {
			s.logger.Warn("clear typing on cancel failed", zap.Error(err))
		}
	}

	return stream.New(ctx, run, cleanup), nil
}

// watchTyping feeds decoded typing snapshots into snapCh, reopening the
// listener on transient errors and reporting fatal ones on errCh.
func (s *Service) watchTyping(ctx context.Context, conversationID string, snapCh chan<- []TypingStatus, errCh chan<- error) {
	q := s.fs.Collection("typing").Where("conversationId", "==", conversationID)
	for {
		it := q.Snapshots(ctx)
		for {
			snap, err := it.Next()
			if err != nil {
				it.Stop()
				if ctx.Err() != nil {
					return
				}
				if fatalWatchErr(err) {
					errCh <- fmt.Errorf("typing subscription: %w", err)
					return
				}
				s.logger.Warn("typing listener error, reopening", zap.Error(err))
				if !sleep(ctx, reopenDelay) {
					return
				}
				break
			}

			var entries []TypingStatus
			docs := snap.Documents
			for {
				doc, err := docs.Next()
				if err == iterator.Done {
					break
				}
				if err != nil {
					s.logger.Warn("typing doc decode failed", zap.Error(err))
					break
				}
				var ts TypingStatus
				if err := doc.DataTo(&ts); err != nil {
					continue
				}
				entries = append(entries, ts)
			}

			select {
			case snapCh <- entries:
			case <-ctx.Done():
				it.Stop()
				return
			}
		}
	}
}

// activeTypists filters entries down to users whose TTL has not passed,
// excluding self, and returns the earliest future expiry among them.
func activeTypists(entries []TypingStatus, now time.Time, self string) ([]string, time.Time) {
	var users []string
	var next time.Time
	for _, e := range entries {
		if e.UserID == self || !e.ExpiresAt.After(now) {
			continue
		}
		users = append(users, e.UserID)
		if next.IsZero() || e.ExpiresAt.Before(next) {
			next = e.ExpiresAt
		}
	}
	sort.Strings(users)
	return users, next
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
