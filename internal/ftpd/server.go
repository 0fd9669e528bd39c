// Package ftpd runs the FTP listener that delivers uploads to the ingest
// endpoint. It owns the server lifecycle: a start either reaches the serving
// state or reports a BindError, and stop is idempotent.
package ftpd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	ftpserver "github.com/fclairamb/ftpserverlib"

	"telegate/internal/auth"
	"telegate/internal/events"
	"telegate/internal/ingest"
	"telegate/internal/logging"
)

// State is the lifecycle position of the server.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Options configures a Server.
type Options struct {
	ListenHost       string
	Port             int
	PassivePortStart int
	PassivePortEnd   int
	PublicHost       string
	Banner           string
	IdleTimeout      time.Duration

	Auth     auth.Authenticator
	Endpoint *ingest.Endpoint
	Sink     ingest.Sink
	Logger   *slog.Logger
}

// Server wraps an ftpserverlib instance with start/stop semantics.
type Server struct {
	opts     Options
	auth     auth.Authenticator
	endpoint *ingest.Endpoint
	sink     ingest.Sink
	logger   *slog.Logger
	banner   string
	listen   func(network, addr string) (net.Listener, error)

	mu        sync.Mutex
	state     State
	accepting bool
	addr      string
	ftp       *ftpserver.FtpServer
	serveDone chan struct{}
	clients   map[uint32]*client
	sessions  *sync.WaitGroup
}

// New constructs a stopped server.
func New(opts Options) *Server {
	return &Server{
		opts:     opts,
		auth:     opts.Auth,
		endpoint: opts.Endpoint,
		sink:     opts.Sink,
		logger:   logging.NewComponentLogger(opts.Logger, "ftpd"),
		banner:   opts.Banner,
		listen:   net.Listen,
		state:    StateStopped,
		clients:  make(map[uint32]*client),
	}
}

// ListenAddr is the configured control address.
func (s *Server) ListenAddr() string {
	return net.JoinHostPort(s.opts.ListenHost, strconv.Itoa(s.opts.Port))
}

// Addr returns the bound address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// State reports the lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Clients reports the number of connected sessions.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Start binds the control port and begins serving. Calling Start on a server
// that is not stopped is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.state != StateStopped {
		state := s.state
		s.mu.Unlock()
		s.logger.Info("ftp server already running", logging.String("state", string(state)))
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	addr := s.ListenAddr()
	s.logger.Info("starting ftp server", logging.String("addr", addr))

	ln, err := s.listen("tcp", addr)
	if err != nil {
		return s.startFailed(&BindError{Addr: addr, Err: err})
	}

	settings := &ftpserver.Settings{
		Listener:    ln,
		ListenAddr:  addr,
		PublicHost:  s.opts.PublicHost,
		Banner:      s.banner,
		IdleTimeout: int(s.opts.IdleTimeout / time.Second),
	}
	if s.opts.PassivePortStart > 0 && s.opts.PassivePortEnd >= s.opts.PassivePortStart {
		settings.PassiveTransferPortRange = &ftpserver.PortRange{
			Start: s.opts.PassivePortStart,
			End:   s.opts.PassivePortEnd,
		}
	}
	ftp := ftpserver.NewFtpServer(&driver{server: s, settings: settings})
	if err := ftp.Listen(); err != nil {
		_ = ln.Close()
		return s.startFailed(&BindError{Addr: addr, Err: err})
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.ftp = ftp
	s.serveDone = done
	s.sessions = &sync.WaitGroup{}
	s.addr = ln.Addr().String()
	s.accepting = true
	s.state = StateRunning
	bound := s.addr
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := ftp.Serve(); err != nil && s.State() == StateRunning {
			logging.ErrorWithContext(s.logger, "ftp server stopped unexpectedly", "ftp_serve_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "restart the server; check the listener address"),
			)
		}
	}()

	s.logger.Info("ftp server running",
		logging.String("addr", bound),
		logging.String(logging.FieldEventType, "server_started"),
	)
	s.publish(events.ServerStarted(bound))
	return nil
}

func (s *Server) startFailed(err *BindError) error {
	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	logging.ErrorWithContext(s.logger, "ftp server failed to start", "server_start_failed",
		logging.String("addr", err.Addr),
		logging.Error(err.Err),
		logging.Alert("server_start_failed"),
		logging.String(logging.FieldErrorHint, "check that the port is free and the process may bind it"),
	)
	s.publish(events.ServerStartFailed(err))
	return err
}

// Stop refuses new sessions, closes the listener and every open session, and
// waits for in-flight uploads to finish routing. Stopping a stopped server is
// a no-op. ctx bounds the wait for sessions to unwind.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		state := s.state
		s.mu.Unlock()
		s.logger.Info("ftp server already stopped", logging.String("state", string(state)))
		return nil
	}
	s.state = StateStopping
	s.accepting = false
	ftp := s.ftp
	done := s.serveDone
	sessions := s.sessions
	open := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		open = append(open, c)
	}
	s.mu.Unlock()

	s.logger.Info("stopping ftp server", logging.Int("sessions", len(open)))

	var errs []error
	if err := ftp.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop listener: %w", err))
	}
	for _, c := range open {
		if err := c.cc.Close(); err != nil {
			s.logger.Debug("close session", logging.String(logging.FieldSessionID, c.session.ID), logging.Error(err))
		}
	}

	waitErr := s.waitSessions(ctx, done, sessions)
	if waitErr != nil {
		errs = append(errs, waitErr)
	}
	s.endpoint.Wait()

	s.mu.Lock()
	s.state = StateStopped
	s.ftp = nil
	s.addr = ""
	s.mu.Unlock()

	s.logger.Info("ftp server stopped", logging.String(logging.FieldEventType, "server_stopped"))
	s.publish(events.ServerStopped())
	return errors.Join(errs...)
}

func (s *Server) waitSessions(ctx context.Context, serveDone <-chan struct{}, sessions *sync.WaitGroup) error {
	drained := make(chan struct{})
	go func() {
		<-serveDone
		sessions.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		logging.WarnWithContext(s.logger, "sessions still open after stop deadline", "stop_timeout",
			logging.Int("sessions", s.Clients()),
			logging.String(logging.FieldImpact, "some clients may disconnect late"),
		)
		return fmt.Errorf("wait for sessions: %w", ctx.Err())
	}
}

func (s *Server) lookup(id uint32) *client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[id]
}

func (s *Server) publish(evt events.Event) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(evt); err != nil && !errors.Is(err, events.ErrClosed) {
		s.logger.Debug("event publish failed", logging.String("kind", string(evt.Kind)), logging.Error(err))
	}
}
