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

// statusQueryLimit caps the users covered by one watch query. Firestore
// rejects "in" filters with more than 30 values.
const statusQueryLimit = 30

// statusChunk is one watch goroutine's latest snapshot.
type statusChunk struct {
	idx      int
	statuses []UserStatus
}

// ObserveOnlineStatus emits the set of conversation participants
// currently considered online (isOnline and lastActive within the
// staleness threshold). Large participant lists are split across
// several watch queries and merged before each emission. While the
// subscription is active a heartbeat keeps the observer's own status
// fresh; canceling marks the observer offline before returning.
func (s *Service) ObserveOnlineStatus(ctx context.Context, conversationID string) (*stream.Subscription[[]string], error) {
	uid, err := s.currentUser()
	if err != nil {
		return nil, err
	}

	snap, err := s.fs.Collection("conversations").Doc(conversationID).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	var conv struct {
		Participants []string `firestore:"participants"`
	}
	if err := snap.DataTo(&conv); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	chunks := chunkUsers(conv.Participants, statusQueryLimit)

	run := func(ctx context.Context, emit func([]string)) error {
		snapCh := make(chan statusChunk, len(chunks))
		errCh := make(chan error, len(chunks))
		for i, chunk := range chunks {
			go s.watchStatuses(ctx, i, chunk, snapCh, errCh)
		}

		if err := s.Refresh(ctx, uid); err != nil {
			s.logger.Warn("initial heartbeat failed", zap.Error(err))
		}
		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		byChunk := make([][]UserStatus, len(chunks))
		merged := func() []UserStatus {
			var all []UserStatus
			for _, c := range byChunk {
				all = append(all, c...)
			}
			return all
		}

		for {
			select {
			case cs := <-snapCh:
				byChunk[cs.idx] = cs.statuses
				emit(onlineUsers(merged(), time.Now()))
			case <-heartbeat.C:
				if err := s.Refresh(ctx, uid); err != nil {
					s.logger.Warn("heartbeat failed", zap.Error(err))
				}
				// Staleness can flip a user offline without any
				// document change; re-evaluate on each beat.
				emit(onlineUsers(merged(), time.Now()))
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
		if err := s.SetUserOffline(ctx); err != nil {
			s.logger.Warn("set offline on cancel failed", zap.Error(err))
		}
	}

	return stream.New(ctx, run, cleanup), nil
}

// watchStatuses feeds decoded userStatus snapshots for one chunk of
// users into snapCh, reopening on transient errors.
func (s *Service) watchStatuses(ctx context.Context, idx int, userIDs []string, snapCh chan<- statusChunk, errCh chan<- error) {
	q := s.fs.Collection("userStatus").Where("userId", "in", userIDs)
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
					errCh <- fmt.Errorf("status subscription: %w", err)
					return
				}
				s.logger.Warn("status listener error, reopening", zap.Error(err))
				if !sleep(ctx, reopenDelay) {
					return
				}
				break
			}

			var statuses []UserStatus
			docs := snap.Documents
			for {
				doc, err := docs.Next()
				if err == iterator.Done {
					break
				}
				if err != nil {
					s.logger.Warn("status doc decode failed", zap.Error(err))
					break
				}
				var us UserStatus
				if err := doc.DataTo(&us); err != nil {
					continue
				}
				statuses = append(statuses, us)
			}

			select {
			case snapCh <- statusChunk{idx: idx, statuses: statuses}:
			case <-ctx.Done():
				it.Stop()
				return
			}
		}
	}
}

// chunkUsers splits ids into groups small enough for one "in" filter.
func chunkUsers(ids []string, size int) [][]string {
	var chunks [][]string
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	return append(chunks, ids)
}

// onlineUsers applies the staleness threshold: online means isOnline
// and a heartbeat within the last two minutes.
func onlineUsers(statuses []UserStatus, now time.Time) []string {
	var users []string
	for _, st := range statuses {
		if st.IsOnline && now.Sub(st.LastActive) <= stalenessThreshold {
			users = append(users, st.UserID)
		}
	}
	sort.Strings(users)
	return users
}
