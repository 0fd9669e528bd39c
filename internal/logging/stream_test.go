package logging

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestStreamHandlerCapturesSubjectFields(t *testing.T) {
	hub := NewStreamHub(100)
	handler := newStreamHandler(slog.NewTextHandler(discardWriter{}, nil), hub)

	logger := slog.New(handler).
		With(slog.String(FieldComponent, "ingest")).
		With(slog.String(FieldSessionID, "s-1"))
	logger.Info("file stored",
		slog.String(FieldDevice, "Rotary Motor"),
		slog.String(FieldChannel, "CH2"),
		slog.String("path", "/data/x.csv"),
	)

	events, _ := hub.Tail(10)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	evt := events[0]
	if evt.Component != "ingest" || evt.SessionID != "s-1" {
		t.Fatalf("logger attrs not captured: %+v", evt)
	}
	if evt.Device != "Rotary Motor" || evt.Channel != "CH2" {
		t.Fatalf("call-site attrs not captured: %+v", evt)
	}
	if evt.Fields["path"] != "/data/x.csv" {
		t.Fatalf("expected path in fields, got %v", evt.Fields)
	}
	if evt.Level != "INFO" {
		t.Fatalf("expected INFO level, got %q", evt.Level)
	}
}

func TestStreamHandlerCallSiteOverridesWithAttrs(t *testing.T) {
	hub := NewStreamHub(100)
	handler := newStreamHandler(slog.NewTextHandler(discardWriter{}, nil), hub)

	logger := slog.New(handler).With(slog.String(FieldDevice, "original"))
	logger.Info("message", slog.String(FieldDevice, "overridden"))

	events, _ := hub.Tail(10)
	if got := events[0].Device; got != "overridden" {
		t.Fatalf("expected device='overridden', got %q", got)
	}
}

func TestStreamHubEvictsOldest(t *testing.T) {
	hub := NewStreamHub(3)
	for i := 0; i < 5; i++ {
		hub.Publish(LogEvent{Message: string(rune('a' + i))})
	}
	events, next := hub.Tail(10)
	if len(events) != 3 {
		t.Fatalf("expected capacity-bounded buffer, got %d events", len(events))
	}
	if events[0].Message != "c" || events[2].Message != "e" {
		t.Fatalf("unexpected retained events: %+v", events)
	}
	if next != 5 {
		t.Fatalf("expected next sequence 5, got %d", next)
	}
}

func TestStreamHubFetchSince(t *testing.T) {
	hub := NewStreamHub(10)
	for i := 0; i < 4; i++ {
		hub.Publish(LogEvent{Message: "m"})
	}
	events, next, err := hub.Fetch(context.Background(), 2, 0, false)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(events) != 2 || events[0].Sequence != 3 {
		t.Fatalf("unexpected events: %+v", events)
	}
	if next != 4 {
		t.Fatalf("expected next=4, got %d", next)
	}
}

func TestStreamHubFetchWaitsForPublish(t *testing.T) {
	hub := NewStreamHub(10)
	done := make(chan []LogEvent, 1)
	go func() {
		events, _, _ := hub.Fetch(context.Background(), 0, 0, true)
		done <- events
	}()

	time.Sleep(20 * time.Millisecond)
	hub.Publish(LogEvent{Message: "late"})

	select {
	case events := <-done:
		if len(events) != 1 || events[0].Message != "late" {
			t.Fatalf("unexpected events: %+v", events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch did not wake on publish")
	}
}

func TestStreamHubFetchHonorsCancel(t *testing.T) {
	hub := NewStreamHub(10)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := hub.Fetch(ctx, 0, 0, true)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch did not return after cancel")
	}
}

func TestPlainText(t *testing.T) {
	cases := map[string]string{
		"plain ascii":         "plain ascii",
		"⚠️ disk low":         "[WARN] disk low",
		"✓ saved":             "[OK] saved",
		"🚀 launched":          " launched",
		"미수신":                 "미수신",
		"❌ failed to bind 21": "[ERROR] failed to bind 21",
	}
	for in, want := range cases {
		if got := PlainText(in); got != want {
			t.Errorf("PlainText(%q) = %q, want %q", in, got, want)
		}
	}
}
