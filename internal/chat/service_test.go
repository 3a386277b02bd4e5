package chat

import (
	"testing"

	"github.com/vigilapp/vigil/internal/store"
)

func TestSameParticipants(t *testing.T) {
	cases := []struct {
		name string
		a, b []string
		want bool
	}{
		{"identical", []string{"a", "b"}, []string{"a", "b"}, true},
		{"order independent", []string{"b", "a"}, []string{"a", "b"}, true},
		{"different member", []string{"a", "c"}, []string{"a", "b"}, false},
		{"different length", []string{"a"}, []string{"a", "b"}, false},
		{"both empty", nil, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sameParticipants(tc.a, tc.b); got != tc.want {
				t.Fatalf("sameParticipants(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestDedupeByID(t *testing.T) {
	msgs := []Message{
		{ID: "m1", Text: "first"},
		{ID: "m2", Text: "second"},
		{ID: "m1", Text: "duplicate"},
		{ID: "m3", Text: "third"},
	}
	got := dedupeByID(msgs)
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].ID != "m1" || got[1].ID != "m2" || got[2].ID != "m3" {
		t.Fatalf("unexpected order: %v", got)
	}
	if got[0].Text != "first" {
		t.Fatalf("dedupe should keep the first occurrence, got %q", got[0].Text)
	}
}

func TestDedupeConversations(t *testing.T) {
	convs := []Conversation{
		{ID: "c1"},
		{ID: "c2"},
		{ID: "c2"},
	}
	got := dedupeConversations(convs)
	if len(got) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(got))
	}
	if got[0].ID != "c1" || got[1].ID != "c2" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestPreview(t *testing.T) {
	cases := []struct {
		text    string
		msgType store.MessageType
		want    string
	}{
		{"hello", store.TypeText, "hello"},
		{"caption wins", store.TypeImage, "caption wins"},
		{"", store.TypeImage, "Photo"},
		{"", store.TypeLocation, "Location"},
		{"", store.TypeAudio, "Voice message"},
		{"", store.TypeText, ""},
	}
	for _, tc := range cases {
		if got := preview(tc.text, tc.msgType); got != tc.want {
			t.Errorf("preview(%q, %s) = %q, want %q", tc.text, tc.msgType, got, tc.want)
		}
	}
}

func TestWireLocation(t *testing.T) {
	if wireLocation(nil) != nil {
		t.Fatal("nil location should stay nil")
	}
	got := wireLocation(&store.Location{Latitude: 1.5, Longitude: -2.5, Name: "Home"})
	if got.Latitude != 1.5 || got.Longitude != -2.5 || got.LocationName != "Home" {
		t.Fatalf("unexpected wire location: %+v", got)
	}
}

func TestNextAdmin(t *testing.T) {
	if got := nextAdmin([]string{"admin", "u2", "u3"}, "admin"); got != "u2" {
		t.Fatalf("expected u2, got %q", got)
	}
	if got := nextAdmin([]string{"admin"}, "admin"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
