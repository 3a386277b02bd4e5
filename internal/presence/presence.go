// Package presence publishes and observes typing indicators and
// online/offline status on the remote store, sharing the engine's
// Firestore connection.
package presence

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/vigilapp/vigil/internal/identity"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	typingTTL          = 10 * time.Second
	heartbeatInterval  = 30 * time.Second
	stalenessThreshold = 120 * time.Second

	lifecycleAttempts = 2
	lifecycleDelay    = 500 * time.Millisecond

	reopenDelay = 2 * time.Second
	cleanupWait = 3 * time.Second
)

// TypingStatus is the wire shape of typing/{conversationId_userId}.
type TypingStatus struct {
	ConversationID string    `firestore:"conversationId"`
	UserID         string    `firestore:"userId"`
	Timestamp      time.Time `firestore:"timestamp"`
	ExpiresAt      time.Time `firestore:"expiresAt"`
}

// UserStatus is the wire shape of userStatus/{userId}.
type UserStatus struct {
	UserID     string    `firestore:"userId"`
	IsOnline   bool      `firestore:"isOnline"`
	LastActive time.Time `firestore:"lastActive"`
	LastSeen   time.Time `firestore:"lastSeen"`
	DeviceInfo string    `firestore:"deviceInfo"`
}

// Service is the presence/typing subsystem.
type Service struct {
	fs     *firestore.Client
	users  identity.Provider
	logger *zap.Logger
}

// NewService creates the presence service on a shared Firestore client.
func NewService(fs *firestore.Client, users identity.Provider, logger *zap.Logger) *Service {
	return &Service{fs: fs, users: users, logger: logger}
}

func (s *Service) currentUser() (string, error) {
	uid := s.users.CurrentUserID()
	if uid == "" {
		return "", identity.ErrNotAuthenticated
	}
	return uid, nil
}

func (s *Service) typingRef(conversationID, userID string) *firestore.DocumentRef {
	return s.fs.Collection("typing").Doc(conversationID + "_" + userID)
}

func (s *Service) statusRef(userID string) *firestore.DocumentRef {
	return s.fs.Collection("userStatus").Doc(userID)
}

// Refresh marks userID online and bumps lastActive. Used by the
// heartbeat and folded into message-send batches via RefreshInBatch.
func (s *Service) Refresh(ctx context.Context, userID string) error {
	return s.withRetry(ctx, "refresh presence", func(ctx context.Context) error {
		_, err := s.statusRef(userID).Set(ctx, statusOnline(userID), firestore.MergeAll)
		return err
	})
}

// UpdateOnlineStatus is the app-foreground lifecycle hook: marks the
// current user online with bounded retry.
func (s *Service) UpdateOnlineStatus(ctx context.Context) error {
	uid, err := s.currentUser()
	if err != nil {
		return err
	}
	return s.Refresh(ctx, uid)
}

// SetUserOffline is the app-background lifecycle hook: marks the
// current user offline and stamps lastSeen, with bounded retry.
func (s *Service) SetUserOffline(ctx context.Context) error {
	uid, err := s.currentUser()
	if err != nil {
		return err
	}
	return s.withRetry(ctx, "set offline", func(ctx context.Context) error {
		now := time.Now()
		_, err := s.statusRef(uid).Set(ctx, map[string]any{
			"userId":   uid,
			"isOnline": false,
			"lastSeen": now,
		}, firestore.MergeAll)
		return err
	})
}

// RefreshInBatch appends the presence refresh write to an atomic batch.
func (s *Service) RefreshInBatch(b *firestore.WriteBatch, userID string) {
	b.Set(s.statusRef(userID), statusOnline(userID), firestore.MergeAll)
}

// ClearTypingInBatch appends the typing-entry delete to an atomic batch.
func (s *Service) ClearTypingInBatch(b *firestore.WriteBatch, conversationID, userID string) {
	b.Delete(s.typingRef(conversationID, userID))
}

func statusOnline(userID string) map[string]any {
	return map[string]any{
		"userId":     userID,
		"isOnline":   true,
		"lastActive": time.Now(),
		"deviceInfo": "vigild/" + runtime.GOOS,
	}
}

// fatalWatchErr reports whether a listener error must close the
// subscription rather than reopen it: authorization failures, and
// malformed queries that reopening would only resubmit unchanged.
func fatalWatchErr(err error) bool {
	switch status.Code(err) {
	case codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.InvalidArgument:
		return true
	}
	return false
}

// withRetry runs op with a short fixed delay between attempts. Failures
// of these writes are non-critical: callers log them rather than
// surfacing hard errors to the UI.
func (s *Service) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= lifecycleAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt < lifecycleAttempts {
			s.logger.Warn("presence write failed, retrying",
				zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
			select {
			case <-time.After(lifecycleDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
