package chat

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		code codes.Code
		want error
	}{
		{codes.NotFound, ErrNotFound},
		{codes.PermissionDenied, ErrPermissionDenied},
		{codes.Unauthenticated, ErrNotAuthenticated},
		{codes.FailedPrecondition, ErrInvalidState},
	}
	for _, tt := range tests {
		err := classify("send", status.Error(tt.code, "boom"))
		if !errors.Is(err, tt.want) {
			t.Errorf("classify(%v) = %v, want %v", tt.code, err, tt.want)
		}
	}
}

func TestClassifyTransientPassesThrough(t *testing.T) {
	raw := status.Error(codes.Unavailable, "transport closing")
	err := classify("send", raw)
	if IsPermanent(err) {
		t.Errorf("unavailable classified as permanent: %v", err)
	}
	if err == nil {
		t.Fatal("expected wrapped error")
	}
}

func TestClassifyNil(t *testing.T) {
	if err := classify("send", nil); err != nil {
		t.Errorf("classify(nil) = %v", err)
	}
}

func TestIsPermanent(t *testing.T) {
	if !IsPermanent(ErrPermissionDenied) {
		t.Error("ErrPermissionDenied should be permanent")
	}
	if IsPermanent(errors.New("connection reset")) {
		t.Error("plain network error should not be permanent")
	}
}

func TestFatalSubscriptionCode(t *testing.T) {
	if !fatalSubscriptionCode(status.Error(codes.PermissionDenied, "no")) {
		t.Error("permission denied should close the subscription")
	}
	if fatalSubscriptionCode(status.Error(codes.Unavailable, "retry")) {
		t.Error("unavailable should keep the subscription alive")
	}
}
