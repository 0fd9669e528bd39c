package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"telegate/internal/api"
	"telegate/internal/config"
	"telegate/internal/ftpd"
	"telegate/internal/ledger"
	"telegate/internal/logging"
)

const defaultLogLimit = 200

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	token := cfg.Paths.APIToken
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/devices", authMiddleware(token, srv.handleDevices))
	mux.HandleFunc("/api/logs", authMiddleware(token, srv.handleLogs))
	mux.HandleFunc("/api/activity", authMiddleware(token, srv.handleActivity))
	mux.HandleFunc("/api/failures", authMiddleware(token, srv.handleFailures))
	mux.HandleFunc("POST /api/failures/{id}/{action}", authMiddleware(token, srv.handleFailureAction))
	mux.HandleFunc("POST /api/server/{action}", authMiddleware(token, srv.handleServerAction))

	// No WriteTimeout: follow=1 log requests hold the response open.
	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()).Payload())
}

func (s *apiServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, api.DeviceListResponse{Devices: api.FromDeviceRows(s.daemon.Devices())})
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	hub := s.daemon.LogStream()
	if hub == nil {
		s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: nil, Next: 0})
		return
	}

	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit := queryLimit(query.Get("limit"))
	follow := queryFlag(query.Get("follow"))
	tail := queryFlag(query.Get("tail"))
	component := strings.TrimSpace(query.Get("component"))
	device := strings.TrimSpace(query.Get("device"))

	var (
		raw  []logging.LogEvent
		next uint64
	)
	if tail && since == 0 && !follow {
		raw, next = hub.Tail(limit)
	} else {
		var err error
		raw, next, err = hub.Fetch(r.Context(), since, limit, follow)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	converted := api.FromLogEvents(raw)
	filtered := make([]api.LogEvent, 0, len(converted))
	for _, evt := range converted {
		if component != "" && !strings.EqualFold(component, evt.Component) {
			continue
		}
		if device != "" && !strings.EqualFold(device, evt.Device) {
			continue
		}
		filtered = append(filtered, evt)
	}
	s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: filtered, Next: next})
}

func (s *apiServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	lines := s.daemon.Activity(since, queryLimit(query.Get("limit")))
	next := since
	if len(lines) > 0 {
		next = lines[len(lines)-1].Sequence
	}
	s.writeJSON(w, http.StatusOK, api.ActivityResponse{Lines: api.FromLogLines(lines), Next: next})
}

func (s *apiServer) handleFailures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	failures, err := s.daemon.Failures(r.Context(), queryFlag(r.URL.Query().Get("all")))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.FailureListResponse{Failures: api.FromFailures(failures)})
}

func (s *apiServer) handleFailureAction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid failure id")
		return
	}

	var failure *ledger.Failure
	switch r.PathValue("action") {
	case "resolve":
		failure, err = s.daemon.ResolveFailure(r.Context(), id)
	case "retry":
		failure, err = s.daemon.RetryFailure(r.Context(), id)
	default:
		s.writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, api.FailureResponse{Failure: api.FromFailure(failure)})
	}
}

func (s *apiServer) handleServerAction(w http.ResponseWriter, r *http.Request) {
	var err error
	switch r.PathValue("action") {
	case "start":
		err = s.daemon.StartServer(r.Context())
	case "stop":
		err = s.daemon.StopServer(r.Context())
	default:
		s.writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ftpd.ErrBind) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()).Payload().Server)
}

// Payload converts the status to its wire representation.
func (st Status) Payload() api.DaemonStatus {
	return api.DaemonStatus{
		Running:      st.Running,
		PID:          st.PID,
		LockFilePath: st.LockFilePath,
		LedgerPath:   st.LedgerPath,
		RootDir:      st.RootDir,
		Server: api.ServerStatus{
			State:      string(st.Server),
			ListenAddr: st.ListenAddr,
			Addr:       st.Addr,
			LastError:  st.Monitor.LastError,
			Clients:    st.Clients,
		},
		Counters:     api.FromCounters(st.Monitor.Counters),
		OpenFailures: st.OpenFailures,
		Sessions:     api.FromSessions(st.Sessions),
	}
}

func queryLimit(value string) int {
	limit, _ := strconv.Atoi(value)
	if limit <= 0 {
		return defaultLogLimit
	}
	return limit
}

func queryFlag(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
