package ftpd

import (
	"crypto/tls"
	"fmt"

	ftpserver "github.com/fclairamb/ftpserverlib"

	"telegate/internal/ingest"
	"telegate/internal/logging"
)

// client pairs a framework connection with its ingest session.
type client struct {
	cc      ftpserver.ClientContext
	session *ingest.Session
	done    func()
}

// driver adapts ftpserverlib callbacks onto the ingest endpoint.
type driver struct {
	server   *Server
	settings *ftpserver.Settings
}

func (d *driver) GetSettings() (*ftpserver.Settings, error) {
	return d.settings, nil
}

func (d *driver) ClientConnected(cc ftpserver.ClientContext) (string, error) {
	s := d.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepting {
		return "", ErrShuttingDown
	}
	session := s.endpoint.OnConnect(cc.RemoteAddr().String())
	s.sessions.Add(1)
	s.clients[cc.ID()] = &client{cc: cc, session: session, done: s.sessions.Done}
	return s.banner, nil
}

func (d *driver) ClientDisconnected(cc ftpserver.ClientContext) {
	s := d.server
	s.mu.Lock()
	c, ok := s.clients[cc.ID()]
	delete(s.clients, cc.ID())
	s.mu.Unlock()
	if !ok {
		return
	}
	s.endpoint.OnDisconnect(c.session)
	c.done()
}

func (d *driver) AuthUser(cc ftpserver.ClientContext, user, pass string) (ftpserver.ClientDriver, error) {
	s := d.server
	c := s.lookup(cc.ID())
	if c == nil {
		return nil, ErrShuttingDown
	}
	grant, err := s.auth.Authenticate(user, pass)
	if err != nil {
		s.endpoint.OnLoginFailed(c.session, user)
		return nil, err
	}
	session := c.session
	fs, err := newSessionFs(grant, func(name, tempPath string) {
		s.endpoint.OnFileReceived(session, name, tempPath)
	}, s.logger.With(logging.String(logging.FieldSessionID, session.ID)))
	if err != nil {
		logging.ErrorWithContext(s.logger, "cannot prepare upload staging directory", "staging_unavailable",
			logging.String(logging.FieldSessionID, session.ID),
			logging.String(logging.FieldUsername, user),
			logging.String("root", grant.Root),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the user's root_dir exists and is writable"),
		)
		return nil, fmt.Errorf("prepare root for %s: %w", user, err)
	}
	s.endpoint.OnLogin(session, grant.Username, grant.Root)
	return fs, nil
}

func (d *driver) GetTLSConfig() (*tls.Config, error) {
	return nil, ErrTLSUnavailable
}
