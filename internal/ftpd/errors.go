package ftpd

import (
	"errors"
	"fmt"
)

var (
	// ErrBind marks a startup that failed to bind the control port.
	ErrBind = errors.New("ftp bind failed")
	// ErrShuttingDown is returned to clients that connect while the server stops.
	ErrShuttingDown = errors.New("server is shutting down")
	// ErrTLSUnavailable rejects AUTH TLS; transport encryption is not offered.
	ErrTLSUnavailable = errors.New("TLS is not available on this server")
)

// BindError reports that the server could not enter the serving state.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

func (e *BindError) Is(target error) bool { return target == ErrBind }
