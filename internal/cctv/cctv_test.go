package cctv

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"statusbot/internal/notify"
	"statusbot/internal/registry"
)

type recordingNotifier struct {
	mu       sync.Mutex
	category []registry.Category
	messages []string
}

func (r *recordingNotifier) Notify(_ context.Context, c registry.Category, message string) notify.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.category = append(r.category, c)
	r.messages = append(r.messages, message)
	return notify.Report{ID: "test", Attempted: 1, Delivered: 1}
}

func TestParseEvent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		payload string
		want    Event
	}{
		{"Alice logged in", Event{Name: "alice", Direction: In}},
		{"BOB has logged OUT", Event{Name: "bob", Direction: Out}},
		{"carol out", Event{Name: "carol", Direction: Out}},
	}
	for _, tc := range cases {
		got, err := ParseEvent([]byte(tc.payload))
		if err != nil {
			t.Fatalf("parse %q: %v", tc.payload, err)
		}
		if got != tc.want {
			t.Fatalf("parse %q: got %+v, want %+v", tc.payload, got, tc.want)
		}
	}

	for _, payload := range []string{"", "alice", "alice logged sideways"} {
		if _, err := ParseEvent([]byte(payload)); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("parse %q: expected ErrMalformedEvent, got %v", payload, err)
		}
	}
}

func TestRosterSession(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 9, 8, 5, 7, 0, time.UTC))
	roster := NewRoster(mock)

	if _, done := roster.Apply(Event{Name: "alice", Direction: In}); done {
		t.Fatal("login must not finish a session")
	}
	online := roster.Online()
	if len(online) != 1 || online[0].Name != "alice" {
		t.Fatalf("unexpected online members: %+v", online)
	}

	mock.Add(90 * time.Minute)
	session, done := roster.Apply(Event{Name: "alice", Direction: Out})
	if !done {
		t.Fatal("logout must finish a session")
	}
	want := "\U0001F4F8 <b>Alice</b> CCTV Login Time:\n[09/03/24] 08:05:07 - 09:35:07"
	if got := FormatSession(session); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if len(roster.Online()) != 0 {
		t.Fatal("member still online after logout")
	}
}

func TestRosterLogoutWithoutLogin(t *testing.T) {
	t.Parallel()

	roster := NewRoster(clock.NewMock())
	session, done := roster.Apply(Event{Name: "bob", Direction: Out})
	if !done {
		t.Fatal("expected a session")
	}
	if !strings.Contains(FormatSession(session), "--:--:-- - ") {
		t.Fatalf("unexpected session text: %q", FormatSession(session))
	}
}

func TestFormatOnlineSorted(t *testing.T) {
	t.Parallel()

	roster := NewRoster(clock.NewMock())
	roster.Apply(Event{Name: "zed", Direction: In})
	roster.Apply(Event{Name: "amy", Direction: In})

	text := FormatOnline(roster.Online())
	if strings.Index(text, "Amy") > strings.Index(text, "Zed") {
		t.Fatalf("expected members sorted by name: %q", text)
	}
	if FormatOnline(nil) == "" {
		t.Fatal("expected placeholder for empty roster")
	}
}

func TestFeedHandleNotifiesOnLogout(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	feed := &Feed{roster: NewRoster(clock.NewMock()), notifier: notifier, logger: discardLogger()}

	ctx := context.Background()
	feed.Handle(ctx, []byte("alice logged in"))
	feed.Handle(ctx, []byte("garbage"))
	feed.Handle(ctx, []byte("alice logged out"))

	if len(notifier.messages) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.messages))
	}
	if notifier.category[0] != registry.CategoryCCTV {
		t.Fatalf("expected cctv category, got %s", notifier.category[0])
	}
	if !strings.Contains(notifier.messages[0], "<b>Alice</b>") {
		t.Fatalf("unexpected message: %q", notifier.messages[0])
	}
}

func TestBrokerURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                      "",
		"broker.lan":            "tcp://broker.lan:1883",
		"broker.lan:1884":       "tcp://broker.lan:1884",
		"ssl://broker.lan:8883": "ssl://broker.lan:8883",
		"10.0.0.5":              "tcp://10.0.0.5:1883",
	}
	for in, want := range cases {
		if got := BrokerURL(in); got != want {
			t.Fatalf("BrokerURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
