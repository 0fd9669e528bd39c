package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func collect(b *Bridge) (*[]Event, chan error) {
	var (
		mu  sync.Mutex
		got []Event
	)
	done := make(chan error, 1)
	go func() {
		done <- b.Run(context.Background(), ConsumerFunc(func(e Event) {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
		}))
	}()
	return &got, done
}

func TestBridgeDeliversInOrderAndDrainsOnClose(t *testing.T) {
	b := NewBridge(4)
	got, done := collect(b)

	for i := 0; i < 100; i++ {
		if err := b.Publish(Log(LevelInfo, "s1", fmt.Sprintf("line %d", i))); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	b.Close()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if len(*got) != 100 {
		t.Fatalf("delivered %d events, want 100", len(*got))
	}
	for i, e := range *got {
		if e.Text != fmt.Sprintf("line %d", i) {
			t.Fatalf("event %d out of order: %q", i, e.Text)
		}
	}
}

func TestBridgePerProducerOrder(t *testing.T) {
	b := NewBridge(8)
	got, done := collect(b)

	const producers = 8
	const perProducer = 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			session := fmt.Sprintf("s%d", p)
			for i := 0; i < perProducer; i++ {
				if err := b.Publish(Log(LevelInfo, session, fmt.Sprint(i))); err != nil {
					t.Errorf("Publish: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()
	b.Close()
	<-done

	next := map[string]int{}
	for _, e := range *got {
		want := fmt.Sprint(next[e.SessionID])
		if e.Text != want {
			t.Fatalf("session %s: got %q, want %q", e.SessionID, e.Text, want)
		}
		next[e.SessionID]++
	}
	if len(*got) != producers*perProducer {
		t.Fatalf("delivered %d events", len(*got))
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	b := NewBridge(1)
	b.Close()
	b.Close()
	if err := b.Publish(ServerStopped()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCloseWakesBlockedPublisher(t *testing.T) {
	b := NewBridge(1)
	if err := b.Publish(ServerStopped()); err != nil {
		t.Fatal(err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- b.Publish(ServerStopped()) }()

	select {
	case err := <-errCh:
		t.Fatalf("Publish should block on a full queue, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	b.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked publisher not released by Close")
	}
	if b.Pending() != 1 {
		t.Fatalf("accepted event should still be queued, pending=%d", b.Pending())
	}
}

func TestRunStopsOnContextAndDrains(t *testing.T) {
	b := NewBridge(4)
	_ = b.Publish(ServerStarted(":2121"))
	_ = b.Publish(ServerStopped())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var kinds []Kind
	err := b.Run(ctx, ConsumerFunc(func(e Event) { kinds = append(kinds, e.Kind) }))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if len(kinds) != 2 || kinds[0] != KindServerStarted || kinds[1] != KindServerStopped {
		t.Fatalf("unexpected delivered kinds %v", kinds)
	}
	if err := b.Publish(ServerStopped()); !errors.Is(err, ErrClosed) {
		t.Fatalf("bridge should be closed after Run exits, got %v", err)
	}
}

func TestSecondConsumerRejected(t *testing.T) {
	b := NewBridge(1)
	_, done := collect(b)
	for !b.running.Load() {
		time.Sleep(time.Millisecond)
	}
	if err := b.Run(context.Background(), ConsumerFunc(func(Event) {})); !errors.Is(err, ErrConsumerRunning) {
		t.Fatalf("expected ErrConsumerRunning, got %v", err)
	}
	b.Close()
	<-done
}

func TestIngestOutcomeLevels(t *testing.T) {
	cases := map[Outcome]Level{Stored: LevelInfo, StoredUnclassified: LevelWarn, Failed: LevelError}
	for outcome, want := range cases {
		e := IngestOutcome(IngestedFile{Outcome: outcome})
		if e.Level != want || e.File == nil || e.File.Outcome != outcome {
			t.Fatalf("IngestOutcome(%s) = %+v", outcome, e)
		}
	}
}
