package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"telegate/internal/classify"
	"telegate/internal/clock"
	"telegate/internal/events"
	"telegate/internal/liveness"
	"telegate/internal/logging"
	"telegate/internal/storage"
)

type sinkRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *sinkRecorder) Publish(evt events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *sinkRecorder) kinds(kind events.Kind) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, evt := range s.events {
		if evt.Kind == kind {
			out = append(out, evt)
		}
	}
	return out
}

type failureRecorder struct {
	mu    sync.Mutex
	files []events.IngestedFile
	roots []string
}

func (f *failureRecorder) RecordFailure(_ context.Context, file events.IngestedFile, root string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, file)
	f.roots = append(f.roots, root)
	return nil
}

type routerFunc func(root, device, channel, filename, source string, now time.Time) (string, error)

func (f routerFunc) Route(root, device, channel, filename, source string, now time.Time) (string, error) {
	return f(root, device, channel, filename, source, now)
}

type fixture struct {
	endpoint *Endpoint
	sink     *sinkRecorder
	failures *failureRecorder
	tracker  *liveness.Tracker
	clock    *clock.FakeClock
	root     string
	tmp      string
}

func newFixture(t *testing.T, router Router) *fixture {
	t.Helper()
	fc := clock.Fake(time.Date(2025, 3, 14, 9, 30, 0, 0, time.Local))
	names := []string{"Main FAN", "Rotary Motor"}
	tracker := liveness.NewTracker(names, liveness.Options{Debounce: 500 * time.Millisecond, Clock: fc})
	t.Cleanup(tracker.Close)
	if router == nil {
		router = storage.NewRouter(storage.PolicyOverwrite, logging.NewNop())
	}
	f := &fixture{
		sink:     &sinkRecorder{},
		failures: &failureRecorder{},
		tracker:  tracker,
		clock:    fc,
		root:     t.TempDir(),
		tmp:      t.TempDir(),
	}
	f.endpoint = New(Options{
		Known:    classify.NewKnown(names),
		Router:   router,
		Tracker:  tracker,
		Sink:     f.sink,
		Failures: f.failures,
		Logger:   logging.NewNop(),
		Clock:    fc,
	})
	return f
}

func (f *fixture) upload(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.tmp, name+".part")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	return path
}

func (f *fixture) session() *Session {
	s := f.endpoint.OnConnect("192.0.2.10:40112")
	f.endpoint.OnLogin(s, "user", f.root)
	return s
}

func TestOnFileReceivedStoresKnownDevice(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session()
	src := f.upload(t, "a", "payload")

	got := f.endpoint.OnFileReceived(s, "[Main FAN]_CH0_x.csv", src)

	want := filepath.Join(f.root, "Main FAN", "20250314", "CH0", "[Main FAN]_CH0_x.csv")
	if got.Outcome != events.Stored {
		t.Fatalf("outcome = %s, want stored (err %v)", got.Outcome, got.Err)
	}
	if got.DestinationPath != want {
		t.Fatalf("destination = %q, want %q", got.DestinationPath, want)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "payload" {
		t.Fatalf("stored content = %q, %v", data, err)
	}
	d, _ := f.tracker.Get("Main FAN")
	if d.LastSeen.IsZero() || d.State != liveness.StateActive {
		t.Fatalf("device not marked seen: %+v", d)
	}
	if n := len(f.sink.kinds(events.KindIngestOutcome)); n != 1 {
		t.Fatalf("outcome events = %d, want 1", n)
	}
	if n := len(f.sink.kinds(events.KindDeviceSeen)); n != 1 {
		t.Fatalf("device seen events = %d, want 1", n)
	}
}

func TestOnFileReceivedUnknownDeviceStillStored(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session()
	src := f.upload(t, "b", "x")

	got := f.endpoint.OnFileReceived(s, "[Spare Pump]_CH1_y.csv", src)

	if got.Outcome != events.StoredUnclassified {
		t.Fatalf("outcome = %s, want stored_unclassified", got.Outcome)
	}
	if got.Device != classify.UnknownDevice {
		t.Fatalf("device = %q", got.Device)
	}
	if len(got.Warnings) != 1 {
		t.Fatalf("warnings = %v, want one", got.Warnings)
	}
	if _, err := os.Stat(filepath.Join(f.root, classify.UnknownDevice, "20250314", "CH1", "[Spare Pump]_CH1_y.csv")); err != nil {
		t.Fatalf("stat stored file: %v", err)
	}
	d, ok := f.tracker.Get(classify.UnknownDevice)
	if !ok || d.LastSeen.IsZero() {
		t.Fatalf("sentinel device should be tracked once seen: %+v ok=%v", d, ok)
	}
}

func TestOnFileReceivedStorageFailure(t *testing.T) {
	storeErr := &storage.Error{Op: storage.OpMove, Err: errors.New("disk full")}
	f := newFixture(t, routerFunc(func(string, string, string, string, string, time.Time) (string, error) {
		return "", storeErr
	}))
	s := f.session()
	src := f.upload(t, "c", "x")

	got := f.endpoint.OnFileReceived(s, "[Main FAN]_CH0_z.csv", src)

	if got.Outcome != events.Failed || !errors.Is(got.Err, storage.ErrStorage) {
		t.Fatalf("got outcome %s err %v", got.Outcome, got.Err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("temp file should remain: %v", err)
	}
	d, _ := f.tracker.Get("Main FAN")
	if !d.LastSeen.IsZero() {
		t.Fatalf("failed upload must not mark device seen")
	}
	if len(f.failures.files) != 1 || f.failures.roots[0] != f.root {
		t.Fatalf("failure not recorded: %+v", f.failures.files)
	}
	if n := len(f.sink.kinds(events.KindDeviceSeen)); n != 0 {
		t.Fatalf("device seen events = %d, want 0", n)
	}
	outcomes := f.sink.kinds(events.KindIngestOutcome)
	if len(outcomes) != 1 || outcomes[0].Level != events.LevelError {
		t.Fatalf("outcome events = %+v", outcomes)
	}
}

func TestOnFileReceivedRecoversPanic(t *testing.T) {
	f := newFixture(t, routerFunc(func(string, string, string, string, string, time.Time) (string, error) {
		panic("boom")
	}))
	s := f.session()

	got := f.endpoint.OnFileReceived(s, "[Main FAN]_CH0_p.csv", f.upload(t, "p", "x"))

	var unexpected *UnexpectedError
	if !errors.As(got.Err, &unexpected) || unexpected.Panic != "boom" {
		t.Fatalf("err = %v, want recovered panic", got.Err)
	}
	if !errors.Is(got.Err, ErrUnexpected) {
		t.Fatalf("err should match ErrUnexpected")
	}
	if n := len(f.sink.kinds(events.KindIngestOutcome)); n != 1 {
		t.Fatalf("outcome events = %d, want 1", n)
	}
}

type panickingTracker struct{}

func (panickingTracker) MarkSeen(string, time.Time) liveness.Device {
	panic("tracker exploded")
}

func TestOnFileReceivedPanicAfterRouteKeepsStoredOutcome(t *testing.T) {
	f := newFixture(t, nil)
	f.endpoint = New(Options{
		Known:    classify.NewKnown([]string{"Main FAN"}),
		Router:   storage.NewRouter(storage.PolicyOverwrite, logging.NewNop()),
		Tracker:  panickingTracker{},
		Sink:     f.sink,
		Failures: f.failures,
		Logger:   logging.NewNop(),
		Clock:    f.clock,
	})
	s := f.session()
	src := f.upload(t, "r", "payload")

	got := f.endpoint.OnFileReceived(s, "[Main FAN]_CH0_r.csv", src)

	want := filepath.Join(f.root, "Main FAN", "20250314", "CH0", "[Main FAN]_CH0_r.csv")
	if got.Outcome != events.Stored || got.DestinationPath != want {
		t.Fatalf("got outcome %s dest %q err %v, want stored at %q", got.Outcome, got.DestinationPath, got.Err, want)
	}
	if data, err := os.ReadFile(want); err != nil || string(data) != "payload" {
		t.Fatalf("stored content = %q, %v", data, err)
	}
	if len(f.failures.files) != 0 {
		t.Fatalf("stored upload must not reach the failure ledger: %+v", f.failures.files)
	}
	outcomes := f.sink.kinds(events.KindIngestOutcome)
	if len(outcomes) != 1 || outcomes[0].File.Outcome != events.Stored {
		t.Fatalf("outcome events = %+v", outcomes)
	}
}

func TestOnFileReceivedWrapsForeignErrors(t *testing.T) {
	f := newFixture(t, routerFunc(func(string, string, string, string, string, time.Time) (string, error) {
		return "", errors.New("odd")
	}))
	s := f.session()

	got := f.endpoint.OnFileReceived(s, "[Main FAN]_CH0_q.csv", f.upload(t, "q", "x"))
	if !errors.Is(got.Err, ErrUnexpected) {
		t.Fatalf("err = %v, want ErrUnexpected", got.Err)
	}
}

func TestSessionsLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session()
	f.endpoint.OnFileReceived(s, "[Main FAN]_CH0_1.csv", f.upload(t, "1", "x"))

	sessions := f.endpoint.Sessions()
	if len(sessions) != 1 || sessions[0].Username != "user" || sessions[0].Uploads != 1 {
		t.Fatalf("sessions = %+v", sessions)
	}
	if !s.LoggedIn() {
		t.Fatalf("session should be logged in")
	}

	other := f.endpoint.OnConnect("192.0.2.11:1000")
	f.endpoint.OnLoginFailed(other, "intruder")
	f.endpoint.OnDisconnect(other)
	f.endpoint.OnDisconnect(s)
	if n := len(f.endpoint.Sessions()); n != 0 {
		t.Fatalf("sessions after disconnect = %d", n)
	}
	if other.LoggedIn() {
		t.Fatalf("failed login must not mark session logged in")
	}
}

func TestConcurrentUploadsOneOutcomeEach(t *testing.T) {
	f := newFixture(t, nil)
	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		s := f.session()
		src := f.upload(t, "u"+string(rune('a'+i)), "x")
		name := "[Rotary Motor]_CH2_" + string(rune('a'+i)) + ".csv"
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.endpoint.OnFileReceived(s, name, src)
		}()
	}
	wg.Wait()
	f.endpoint.Wait()

	if got := len(f.sink.kinds(events.KindIngestOutcome)); got != n {
		t.Fatalf("outcomes = %d, want %d", got, n)
	}
	entries, err := os.ReadDir(filepath.Join(f.root, "Rotary Motor", "20250314", "CH2"))
	if err != nil || len(entries) != n {
		t.Fatalf("stored files = %d, %v", len(entries), err)
	}
}
