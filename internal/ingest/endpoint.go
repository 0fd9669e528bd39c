// Package ingest implements the per-session upload handling: classify the
// filename, route the file into storage, mark the device seen, and report one
// outcome per upload to the event sink.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"telegate/internal/classify"
	"telegate/internal/clock"
	"telegate/internal/events"
	"telegate/internal/liveness"
	"telegate/internal/logging"
	"telegate/internal/storage"
)

const failureRecordTimeout = 5 * time.Second

// Router places a received file into storage.
type Router interface {
	Route(root, device, channel, filename, source string, now time.Time) (string, error)
}

// Tracker records device activity.
type Tracker interface {
	MarkSeen(label string, now time.Time) liveness.Device
}

// Sink receives events for the monitoring consumer.
type Sink interface {
	Publish(events.Event) error
}

// FailureRecorder persists uploads that could not be stored.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, file events.IngestedFile, root string) error
}

// Options wires an Endpoint. Known, Router, Tracker and Sink are required.
type Options struct {
	Known    classify.Known
	Router   Router
	Tracker  Tracker
	Sink     Sink
	Failures FailureRecorder
	Logger   *slog.Logger
	Clock    clock.Clock
}

// Session is one connected FTP client. It is used only from that client's
// goroutine.
type Session struct {
	ID          string
	RemoteAddr  string
	Username    string
	Root        string
	ConnectedAt time.Time
	loggedIn    bool
}

// SessionInfo is a read-only view of a session for status reporting.
type SessionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	Username    string    `json:"username,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	Uploads     int       `json:"uploads"`
}

// Endpoint handles session callbacks. Its collaborators are fixed at
// construction.
type Endpoint struct {
	known    classify.Known
	router   Router
	tracker  Tracker
	sink     Sink
	failures FailureRecorder
	logger   *slog.Logger
	clock    clock.Clock

	inflight sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*SessionInfo
}

// New constructs an Endpoint.
func New(opts Options) *Endpoint {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Endpoint{
		known:    opts.Known,
		router:   opts.Router,
		tracker:  opts.Tracker,
		sink:     opts.Sink,
		failures: opts.Failures,
		logger:   logging.NewComponentLogger(opts.Logger, "ingest"),
		clock:    opts.Clock,
		sessions: make(map[string]*SessionInfo),
	}
}

// OnConnect opens a session for a new client.
func (e *Endpoint) OnConnect(remoteAddr string) *Session {
	s := &Session{ID: uuid.NewString(), RemoteAddr: remoteAddr, ConnectedAt: e.clock.Now()}
	e.mu.Lock()
	e.sessions[s.ID] = &SessionInfo{ID: s.ID, RemoteAddr: remoteAddr, ConnectedAt: s.ConnectedAt}
	e.mu.Unlock()

	e.logger.Info("ftp client connected",
		logging.String(logging.FieldSessionID, s.ID),
		logging.String(logging.FieldRemoteAddr, remoteAddr),
		logging.String(logging.FieldEventType, "session_connected"),
	)
	e.publish(events.Log(events.LevelInfo, s.ID, "[+] connected from "+remoteAddr))
	return s
}

// OnLogin records a successful login and the root it grants.
func (e *Endpoint) OnLogin(s *Session, username, root string) {
	s.Username = username
	s.Root = root
	s.loggedIn = true
	e.mu.Lock()
	if info, ok := e.sessions[s.ID]; ok {
		info.Username = username
	}
	e.mu.Unlock()

	e.logger.Info("ftp login succeeded",
		logging.String(logging.FieldSessionID, s.ID),
		logging.String(logging.FieldUsername, username),
		logging.String(logging.FieldEventType, "login_succeeded"),
	)
	e.publish(events.Log(events.LevelInfo, s.ID, "[+] login succeeded: "+username))
}

// OnLoginFailed records a rejected login. The attempted password is never
// passed in.
func (e *Endpoint) OnLoginFailed(s *Session, username string) {
	logging.WarnWithContext(e.logger, "ftp login failed", "login_failed",
		logging.String(logging.FieldSessionID, s.ID),
		logging.String(logging.FieldUsername, username),
		logging.String(logging.FieldRemoteAddr, s.RemoteAddr),
		logging.String(logging.FieldImpact, "client cannot upload until it logs in"),
		logging.String(logging.FieldErrorHint, "check the instrument's FTP credentials"),
	)
	e.publish(events.Log(events.LevelWarn, s.ID, "[!] login failed: "+username))
}

// OnFileReceived handles one completed upload whose bytes are at tempPath. It
// always returns the outcome it reported; it never panics.
func (e *Endpoint) OnFileReceived(s *Session, filename, tempPath string) (file events.IngestedFile) {
	e.inflight.Add(1)
	defer e.inflight.Done()

	now := e.clock.Now()
	file = events.IngestedFile{
		SessionID:        s.ID,
		OriginalFilename: filename,
		ReceivedAt:       now,
		SourcePath:       tempPath,
	}
	e.countUpload(s.ID)

	defer func() {
		if r := recover(); r != nil {
			err := &UnexpectedError{Filename: filename, Panic: r, Stack: debug.Stack()}
			if file.DestinationPath != "" {
				// The file already left the temp path; it is stored.
				e.storedWithError(s, &file, err)
				return
			}
			e.fail(s, &file, err)
		}
	}()

	res := classify.Classify(filename, e.known)
	file.Device, file.Channel = res.Device, res.Channel
	for _, w := range res.Warnings {
		file.Warnings = append(file.Warnings, w.Error())
		logging.WarnWithContext(e.logger, "filename classification degraded", "classify_warning",
			logging.String(logging.FieldSessionID, s.ID),
			logging.String(logging.FieldFilename, filename),
			logging.String("kind", string(w.Kind)),
			logging.String("detail", w.Error()),
			logging.String(logging.FieldImpact, "file stored under a fallback label"),
			logging.String(logging.FieldErrorHint, "check the instrument's filename pattern or devices.names"),
		)
		e.publish(events.Log(events.LevelWarn, s.ID, "[!] Warning: "+w.Error()))
	}

	dest, err := e.router.Route(s.Root, res.Device, res.Channel, filepath.Base(filename), tempPath, now)
	if err != nil {
		if !errors.Is(err, storage.ErrStorage) {
			err = &UnexpectedError{Filename: filename, Cause: err}
		}
		e.fail(s, &file, err)
		return file
	}
	file.DestinationPath = dest
	file.Outcome = events.Stored
	if res.Unclassified() {
		file.Outcome = events.StoredUnclassified
	}

	e.tracker.MarkSeen(res.Device, now)
	e.publish(events.DeviceSeen(res.Device, now))

	e.logger.Info("✓ file saved",
		logging.String(logging.FieldSessionID, s.ID),
		logging.String(logging.FieldDevice, res.Device),
		logging.String(logging.FieldChannel, res.Channel),
		logging.String("path", dest),
		logging.String("outcome", string(file.Outcome)),
		logging.String(logging.FieldEventType, "file_stored"),
	)
	e.publish(events.IngestOutcome(file))
	return file
}

// storedWithError handles a panic raised after the file was routed. The
// outcome stays stored and nothing goes to the failure ledger, since the temp
// path no longer exists.
func (e *Endpoint) storedWithError(s *Session, file *events.IngestedFile, err *UnexpectedError) {
	logging.ErrorWithContext(e.logger, "unexpected error after upload was stored", "ingest_unexpected",
		logging.String(logging.FieldSessionID, s.ID),
		logging.String(logging.FieldFilename, file.OriginalFilename),
		logging.String(logging.FieldDevice, file.Device),
		logging.String("path", file.DestinationPath),
		logging.Error(err),
		logging.String("stack", string(err.Stack)),
	)
	e.publish(events.IngestOutcome(*file))
}

func (e *Endpoint) fail(s *Session, file *events.IngestedFile, err error) {
	file.Outcome = events.Failed
	file.Err = err
	file.DestinationPath = ""

	attrs := []logging.Attr{
		logging.String(logging.FieldSessionID, s.ID),
		logging.String(logging.FieldFilename, file.OriginalFilename),
		logging.String(logging.FieldDevice, file.Device),
		logging.String(logging.FieldChannel, file.Channel),
		logging.String("source_path", file.SourcePath),
		logging.Error(err),
		logging.Alert("ingest_failed"),
	}
	var unexpected *UnexpectedError
	if errors.As(err, &unexpected) {
		if unexpected.Stack != nil {
			attrs = append(attrs, logging.String("stack", string(unexpected.Stack)))
		}
		logging.ErrorWithContext(e.logger, "unexpected error handling upload", "ingest_unexpected", attrs...)
	} else {
		attrs = append(attrs, logging.String(logging.FieldErrorHint, "check permissions and free space under the storage root"))
		logging.ErrorWithContext(e.logger, "file could not be stored; left at temporary path", "ingest_storage_failed", attrs...)
	}

	if e.failures != nil {
		ctx, cancel := context.WithTimeout(context.Background(), failureRecordTimeout)
		defer cancel()
		if rerr := e.failures.RecordFailure(ctx, *file, s.Root); rerr != nil {
			logging.ErrorWithContext(e.logger, "failed to record ingest failure", "ledger_write_failed",
				logging.String(logging.FieldFilename, file.OriginalFilename),
				logging.Error(rerr),
			)
		}
	}
	e.publish(events.IngestOutcome(*file))
}

// OnDisconnect closes the session.
func (e *Endpoint) OnDisconnect(s *Session) {
	e.mu.Lock()
	delete(e.sessions, s.ID)
	e.mu.Unlock()

	e.logger.Info("ftp client disconnected",
		logging.String(logging.FieldSessionID, s.ID),
		logging.String(logging.FieldRemoteAddr, s.RemoteAddr),
		logging.String(logging.FieldEventType, "session_disconnected"),
	)
	e.publish(events.Log(events.LevelInfo, s.ID, "[-] disconnected: "+s.RemoteAddr))
}

// Wait blocks until every upload being handled has finished.
func (e *Endpoint) Wait() {
	e.inflight.Wait()
}

// Sessions lists connected clients ordered by connect time.
func (e *Endpoint) Sessions() []SessionInfo {
	e.mu.Lock()
	out := make([]SessionInfo, 0, len(e.sessions))
	for _, info := range e.sessions {
		out = append(out, *info)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

func (e *Endpoint) countUpload(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if info, ok := e.sessions[id]; ok {
		info.Uploads++
	}
}

func (e *Endpoint) publish(evt events.Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Publish(evt); err != nil && !errors.Is(err, events.ErrClosed) {
		e.logger.Debug("event publish failed", logging.String("kind", string(evt.Kind)), logging.Error(err))
	}
}

// LoggedIn reports whether the session completed a login.
func (s *Session) LoggedIn() bool { return s.loggedIn }

func (s *Session) String() string {
	return fmt.Sprintf("%s(%s)", s.ID, s.RemoteAddr)
}
