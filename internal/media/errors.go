package media

import (
	"errors"
	"fmt"
)

var (
	// ErrJoinCancelled is returned by Join when Teardown ran while the
	// handshake was in flight. The connection has already been left.
	ErrJoinCancelled = errors.New("join cancelled by teardown")
	ErrNotJoined     = errors.New("not joined")
	ErrAlreadyJoined = errors.New("join already attempted")
)

// ConnectionError reports a rejected handshake or publish. It is never retried.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("media %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
