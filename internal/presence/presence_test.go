package presence

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestActiveTypistsFiltersExpired(t *testing.T) {
	now := time.Now()
	entries := []TypingStatus{
		{UserID: "alice", ExpiresAt: now.Add(5 * time.Second)},
		{UserID: "bob", ExpiresAt: now.Add(-1 * time.Second)},
		{UserID: "carol", ExpiresAt: now.Add(9 * time.Second)},
	}

	active, next := activeTypists(entries, now, "me")
	if !reflect.DeepEqual(active, []string{"alice", "carol"}) {
		t.Errorf("active = %v, want [alice carol]", active)
	}
	if !next.Equal(now.Add(5 * time.Second)) {
		t.Errorf("next expiry = %v, want alice's", next)
	}
}

func TestActiveTypistsExcludesSelf(t *testing.T) {
	now := time.Now()
	entries := []TypingStatus{
		{UserID: "me", ExpiresAt: now.Add(5 * time.Second)},
	}
	active, next := activeTypists(entries, now, "me")
	if len(active) != 0 {
		t.Errorf("active = %v, want empty", active)
	}
	if !next.IsZero() {
		t.Errorf("next = %v, want zero", next)
	}
}

func TestActiveTypistsTTLBoundary(t *testing.T) {
	t0 := time.Now()
	entry := []TypingStatus{{UserID: "alice", ExpiresAt: t0.Add(10 * time.Second)}}

	// Observer at t0+5s sees the typist.
	active, _ := activeTypists(entry, t0.Add(5*time.Second), "me")
	if len(active) != 1 {
		t.Error("typist missing before TTL")
	}

	// The same observer at t0+11s does not.
	active, _ = activeTypists(entry, t0.Add(11*time.Second), "me")
	if len(active) != 0 {
		t.Error("typist reported after TTL")
	}
}

func TestOnlineUsersStaleness(t *testing.T) {
	now := time.Now()
	statuses := []UserStatus{
		{UserID: "fresh", IsOnline: true, LastActive: now.Add(-30 * time.Second)},
		{UserID: "stale", IsOnline: true, LastActive: now.Add(-3 * time.Minute)},
		{UserID: "offline", IsOnline: false, LastActive: now},
	}

	got := onlineUsers(statuses, now)
	if !reflect.DeepEqual(got, []string{"fresh"}) {
		t.Errorf("online = %v, want [fresh]", got)
	}
}

func TestOnlineUsersEmpty(t *testing.T) {
	if got := onlineUsers(nil, time.Now()); len(got) != 0 {
		t.Errorf("online = %v, want empty", got)
	}
}

func TestChunkUsersRespectsQueryLimit(t *testing.T) {
	ids := make([]string, 71)
	for i := range ids {
		ids[i] = fmt.Sprintf("user-%02d", i)
	}

	chunks := chunkUsers(ids, statusQueryLimit)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	var total int
	for i, c := range chunks {
		if len(c) > statusQueryLimit {
			t.Errorf("chunk %d has %d ids, exceeds limit %d", i, len(c), statusQueryLimit)
		}
		total += len(c)
	}
	if total != len(ids) {
		t.Errorf("chunks cover %d ids, want %d", total, len(ids))
	}
	if chunks[0][0] != "user-00" || chunks[2][len(chunks[2])-1] != "user-70" {
		t.Error("chunking must preserve order")
	}
}

func TestChunkUsersSmallListStaysWhole(t *testing.T) {
	chunks := chunkUsers([]string{"a", "b"}, statusQueryLimit)
	if len(chunks) != 1 || len(chunks[0]) != 2 {
		t.Fatalf("chunks = %v, want one chunk of 2", chunks)
	}

	exact := make([]string, statusQueryLimit)
	for i := range exact {
		exact[i] = fmt.Sprintf("u%d", i)
	}
	if chunks := chunkUsers(exact, statusQueryLimit); len(chunks) != 1 {
		t.Fatalf("a list at exactly the limit must stay one chunk, got %d", len(chunks))
	}
}

func TestOnlineUsersAcrossMergedChunks(t *testing.T) {
	now := time.Now()
	chunkA := []UserStatus{{UserID: "zoe", IsOnline: true, LastActive: now}}
	chunkB := []UserStatus{{UserID: "amy", IsOnline: true, LastActive: now}}

	var merged []UserStatus
	merged = append(merged, chunkA...)
	merged = append(merged, chunkB...)
	got := onlineUsers(merged, now)
	if !reflect.DeepEqual(got, []string{"amy", "zoe"}) {
		t.Errorf("online = %v, want [amy zoe]", got)
	}
}

func TestFatalWatchErr(t *testing.T) {
	if !fatalWatchErr(status.Error(codes.PermissionDenied, "no")) {
		t.Error("permission denied should close the watch")
	}
	if !fatalWatchErr(status.Error(codes.InvalidArgument, "too many disjunctions")) {
		t.Error("a rejected query should close the watch, not reopen it unchanged")
	}
	if fatalWatchErr(status.Error(codes.Unavailable, "retry")) {
		t.Error("unavailable should keep the watch alive")
	}
}

func TestWithRetrySucceedsOnSecondAttempt(t *testing.T) {
	s := &Service{logger: zap.NewNop()}
	calls := 0
	err := s.withRetry(context.Background(), "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestWithRetryGivesUpAfterBudget(t *testing.T) {
	s := &Service{logger: zap.NewNop()}
	calls := 0
	boom := errors.New("still down")
	err := s.withRetry(context.Background(), "op", func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if calls != lifecycleAttempts {
		t.Errorf("calls = %d, want %d", calls, lifecycleAttempts)
	}
}

func TestWithRetryStopsOnCanceledContext(t *testing.T) {
	s := &Service{logger: zap.NewNop()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.withRetry(ctx, "op", func(context.Context) error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
