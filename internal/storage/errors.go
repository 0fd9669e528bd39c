package storage

import (
	"errors"
	"fmt"
)

// ErrStorage marks every routing failure. Match with errors.Is.
var ErrStorage = errors.New("storage error")

// Op names the routing step that failed.
type Op string

const (
	OpValidate Op = "validate"
	OpMkdir    Op = "mkdir"
	OpAllocate Op = "allocate"
	OpMove     Op = "move"
)

// Error reports a failed route. The source file is still at Source.
type Error struct {
	Op          Op
	Source      string
	Destination string
	Err         error
}

func (e *Error) Error() string {
	target := e.Destination
	if target == "" {
		target = e.Source
	}
	if e.Err == nil {
		return fmt.Sprintf("storage %s %s", e.Op, target)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, target, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any *Error.
func (e *Error) Is(target error) bool { return target == ErrStorage }
