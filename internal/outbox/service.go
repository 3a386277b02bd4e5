package outbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vigilapp/vigil/internal/bus"
	"github.com/vigilapp/vigil/internal/chat"
	"github.com/vigilapp/vigil/internal/media"
	"github.com/vigilapp/vigil/internal/store"
	"go.uber.org/zap"
)

// RemoteSender delivers a queued message to the remote store and
// returns the remote message id.
type RemoteSender interface {
	SendMessage(ctx context.Context, conversationID, text string, msgType store.MessageType, mediaURL string, loc *store.Location) (string, error)
}

// Connectivity reports whether the network is currently usable.
type Connectivity interface {
	IsAvailable() bool
}

// Service owns the offline queue: it enqueues outbound messages,
// reacts to connectivity restoration, and drives retries with
// exponential backoff until delivery succeeds or the retry budget is
// exhausted.
type Service struct {
	db       *store.DB
	sender   RemoteSender
	uploader media.Uploader
	conn     Connectivity
	bus      *bus.Bus
	logger   *zap.Logger
	grace    time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopping bool
	wg       sync.WaitGroup
	inFlight map[string]struct{}
}

// NewService creates the sync service. uploader may be media.Disabled{}
// when no storage bucket is configured.
func NewService(db *store.DB, sender RemoteSender, uploader media.Uploader, conn Connectivity, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		sender:   sender,
		uploader: uploader,
		conn:     conn,
		bus:      b,
		logger:   logger,
		grace:    2 * time.Second,
		inFlight: make(map[string]struct{}),
	}
}

// SetGraceDelay overrides the pause between marking a row sent and
// deleting it. Zero deletes synchronously.
func (s *Service) SetGraceDelay(d time.Duration) { s.grace = d }

// Enqueue persists a pending message and returns its id. When the
// network is available an immediate delivery attempt is started in the
// background; the caller never blocks on the remote store.
func (s *Service) Enqueue(ctx context.Context, conversationID, text string, msgType store.MessageType, mediaLocalPath string, loc *store.Location) (string, error) {
	m := &store.QueuedMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Text:           text,
		Type:           msgType,
		MediaLocalPath: mediaLocalPath,
		Location:       loc,
		Status:         store.StatusPending,
		MaxRetries:     DefaultMaxRetries,
	}
	if err := s.db.Enqueue(m); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	s.bus.Emit(bus.MessageQueued, bus.MessageRef{MessageID: m.ID, ConversationID: conversationID})

	if s.conn.IsAvailable() && s.track() {
		go func() {
			defer s.wg.Done()
			s.deliver(context.WithoutCancel(ctx), m)
		}()
	}
	return m.ID, nil
}

// track registers one background task with the shutdown WaitGroup.
// Returns false while Stop is draining, in which case no goroutine may
// be spawned: the row stays pending and the next sync pass picks it up.
func (s *Service) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.wg.Add(1)
	return true
}

// Start subscribes to connectivity events and runs a sync pass on each
// transition to available. Calling Start on a running service is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.stopping = false
	ctx, s.cancel = context.WithCancel(ctx)

	ch, unsub := s.bus.Subscribe("network.", 16)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsub()
		if s.conn.IsAvailable() {
			s.SyncPass(ctx)
		}
		for {
			select {
			case evt := <-ch:
				if evt.Kind == bus.NetworkUp {
					s.SyncPass(ctx)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels background work. In-flight sends complete or fail
// naturally; the queue store is left consistent. Idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	if cancel != nil {
		// Block new Adds on the WaitGroup before waiting on it.
		s.stopping = true
	}
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.mu.Lock()
	s.stopping = false
	s.mu.Unlock()
}

// SyncPass processes every pending message, then every failed message
// whose backoff window has elapsed. Rows past their retry budget are
// canceled. Delivery errors never fail the pass.
func (s *Service) SyncPass(ctx context.Context) {
	pending, err := s.db.ListByStatus(store.StatusPending)
	if err != nil {
		s.logger.Error("list pending failed", zap.Error(err))
		return
	}
	for i := range pending {
		if ctx.Err() != nil {
			return
		}
		s.deliver(ctx, &pending[i])
	}

	failed, err := s.db.ListByStatus(store.StatusFailed)
	if err != nil {
		s.logger.Error("list failed rows failed", zap.Error(err))
		return
	}
	now := time.Now()
	for i := range failed {
		if ctx.Err() != nil {
			return
		}
		m := &failed[i]
		if m.RetryCount > m.MaxRetries {
			s.cancelMessage(m)
			continue
		}
		if retryEligible(m.RetryCount, m.LastRetryAt, now) {
			s.deliver(ctx, m)
		}
	}

	s.bus.Emit(bus.SyncPassCompleted, nil)
}

// RetryAll resets every failed message to pending with a fresh retry
// budget and runs a sync pass. Explicit user action.
func (s *Service) RetryAll(ctx context.Context) error {
	n, err := s.db.ResetAllFailed()
	if err != nil {
		return fmt.Errorf("reset failed rows: %w", err)
	}
	s.logger.Info("retrying failed messages", zap.Int64("count", n))
	s.SyncPass(ctx)
	return nil
}

// RetryOne resets a single failed message and attempts delivery.
// Returns false if the message is not among the failed entries.
func (s *Service) RetryOne(ctx context.Context, id string) (bool, error) {
	ok, err := s.db.ResetForRetry(id)
	if err != nil {
		return false, fmt.Errorf("reset %s: %w", id, err)
	}
	if !ok {
		return false, nil
	}
	m, err := s.db.Get(id)
	if err != nil {
		return false, err
	}
	if m != nil {
		s.deliver(ctx, m)
	}
	return true, nil
}

// deliver attempts one remote send for a queued row. Rows already being
// delivered by another task are skipped, as are rows whose status moved
// on since they were listed.
func (s *Service) deliver(ctx context.Context, m *store.QueuedMessage) {
	s.mu.Lock()
	if _, busy := s.inFlight[m.ID]; busy {
		s.mu.Unlock()
		return
	}
	s.inFlight[m.ID] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, m.ID)
		s.mu.Unlock()
	}()

	current, err := s.db.Get(m.ID)
	if err != nil {
		s.logger.Error("load queued message failed", zap.Error(err), zap.String("id", m.ID))
		return
	}
	if current == nil {
		// Already delivered and deleted: re-processing is a no-op.
		return
	}
	if current.Status != store.StatusPending && current.Status != store.StatusFailed {
		return
	}
	m = current

	if m.MediaLocalPath != "" && m.MediaURL == "" {
		url, err := s.uploadMedia(ctx, m)
		if err != nil {
			s.logger.Warn("media upload failed", zap.Error(err), zap.String("id", m.ID))
			s.fail(m, err)
			return
		}
		if err := s.db.SetMediaURL(m.ID, url); err != nil {
			s.logger.Error("persist media url failed", zap.Error(err), zap.String("id", m.ID))
			return
		}
		m.MediaURL = url
	}

	if err := s.db.MarkSending(m.ID); err != nil {
		s.logger.Error("mark sending failed", zap.Error(err), zap.String("id", m.ID))
		return
	}
	s.bus.Emit(bus.MessageSending, bus.MessageRef{MessageID: m.ID, ConversationID: m.ConversationID})

	remoteID, err := s.sender.SendMessage(ctx, m.ConversationID, m.Text, m.Type, m.MediaURL, m.Location)
	if err != nil {
		s.logger.Warn("send failed", zap.Error(err), zap.String("id", m.ID), zap.Int("retry_count", m.RetryCount))
		s.fail(m, err)
		return
	}

	if err := s.db.MarkSent(m.ID); err != nil {
		s.logger.Error("mark sent failed", zap.Error(err), zap.String("id", m.ID))
	}
	s.logger.Info("message delivered",
		zap.String("id", m.ID),
		zap.String("remote_id", remoteID),
		zap.String("conversation", m.ConversationID))
	s.bus.Emit(bus.MessageSent, bus.MessageRef{MessageID: m.ID, ConversationID: m.ConversationID})

	// Keep the sent row visible briefly so observers can render the
	// terminal state, then drop it from the queue.
	if s.grace <= 0 || !s.track() {
		s.deleteRow(m.ID)
		return
	}
	go func() {
		defer s.wg.Done()
		select {
		case <-time.After(s.grace):
		case <-ctx.Done():
		}
		s.deleteRow(m.ID)
	}()
}

func (s *Service) uploadMedia(ctx context.Context, m *store.QueuedMessage) (string, error) {
	f, err := os.Open(m.MediaLocalPath)
	if err != nil {
		return "", fmt.Errorf("open media file: %w", err)
	}
	defer func() { _ = f.Close() }()

	objectPath := fmt.Sprintf("chat_media/%s/%s%s", m.ConversationID, m.ID, filepath.Ext(m.MediaLocalPath))
	return s.uploader.Upload(ctx, f, objectPath)
}

// fail records a delivery failure. Permanent (authorization/existence)
// errors cancel the row outright; transient errors consume one retry
// and cancel once the budget is exhausted.
func (s *Service) fail(m *store.QueuedMessage, cause error) {
	if chat.IsPermanent(cause) {
		s.cancelMessage(m)
		return
	}
	if err := s.db.MarkFailed(m.ID); err != nil {
		s.logger.Error("mark failed failed", zap.Error(err), zap.String("id", m.ID))
		return
	}
	if m.RetryCount+1 > m.MaxRetries {
		s.cancelMessage(m)
		return
	}
	s.bus.Emit(bus.MessageSendFailed, bus.MessageRef{MessageID: m.ID, ConversationID: m.ConversationID})
}

func (s *Service) cancelMessage(m *store.QueuedMessage) {
	if err := s.db.MarkCanceled(m.ID); err != nil {
		s.logger.Error("mark canceled failed", zap.Error(err), zap.String("id", m.ID))
		return
	}
	s.logger.Warn("message canceled", zap.String("id", m.ID), zap.Int("retry_count", m.RetryCount))
	s.bus.Emit(bus.MessageCanceled, bus.MessageRef{MessageID: m.ID, ConversationID: m.ConversationID})
}

func (s *Service) deleteRow(id string) {
	if err := s.db.Delete(id); err != nil {
		s.logger.Error("delete queued message failed", zap.Error(err), zap.String("id", id))
	}
}
