package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"telegate/internal/api"
	"telegate/internal/daemon"
	"telegate/internal/logging"
	"telegate/internal/logs"
)

const serviceName = "Telegate"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file. Connected clients are
// served until they hang up.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may confuse status checks"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.Status(s.ctx).Payload()
	return nil
}

func (s *service) Devices(_ DevicesRequest, resp *DevicesResponse) error {
	resp.Devices = api.FromDeviceRows(s.daemon.Devices())
	return nil
}

func (s *service) StartServer(_ ServerStartRequest, resp *ServerResponse) error {
	s.log().Debug("ftp server start requested")
	if err := s.daemon.StartServer(s.ctx); err != nil {
		return err
	}
	resp.Server = s.daemon.Status(s.ctx).Payload().Server
	resp.Message = "ftp server running on " + resp.Server.Addr
	s.log().Info("ftp server started via IPC",
		logging.String(logging.FieldEventType, "server_start_ipc"))
	return nil
}

func (s *service) StopServer(_ ServerStopRequest, resp *ServerResponse) error {
	s.log().Debug("ftp server stop requested")
	ctx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
	defer cancel()
	if err := s.daemon.StopServer(ctx); err != nil {
		return err
	}
	resp.Server = s.daemon.Status(s.ctx).Payload().Server
	resp.Message = "ftp server stopped"
	s.log().Info("ftp server stopped via IPC",
		logging.String(logging.FieldEventType, "server_stop_ipc"))
	return nil
}

func (s *service) Failures(req FailuresRequest, resp *FailuresResponse) error {
	failures, err := s.daemon.Failures(s.ctx, req.All)
	if err != nil {
		return err
	}
	resp.Failures = api.FromFailures(failures)
	return nil
}

func (s *service) ResolveFailure(req FailureRequest, resp *FailureResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid failure id %d", req.ID)
	}
	failure, err := s.daemon.ResolveFailure(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Failure = api.FromFailure(failure)
	return nil
}

func (s *service) RetryFailure(req FailureRequest, resp *FailureResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid failure id %d", req.ID)
	}
	failure, err := s.daemon.RetryFailure(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Failure = api.FromFailure(failure)
	return nil
}

func (s *service) Activity(req ActivityRequest, resp *ActivityResponse) error {
	lines := s.daemon.Activity(req.Since, req.Limit)
	resp.Lines = api.FromLogLines(lines)
	resp.Next = req.Since
	if len(lines) > 0 {
		resp.Next = lines[len(lines)-1].Sequence
	}
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Second)
	defer cancel()
	sent, message, err := s.daemon.TestNotification(ctx)
	resp.Sent = sent
	resp.Message = message
	if err != nil {
		resp.Message = fmt.Sprintf("%s: %v", message, err)
	}
	return nil
}
