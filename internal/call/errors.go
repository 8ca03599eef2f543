package call

import (
	"errors"
	"fmt"

	"github.com/foxseedlab/teleconsult/internal/backend"
)

var (
	// ErrCallCancelled is returned by Initialize when Close ran before the call
	// became active.
	ErrCallCancelled      = errors.New("call cancelled before it became active")
	ErrAlreadyInitialized = errors.New("call already initialized")
	ErrNotActive          = errors.New("call is not active")
)

// ConfigurationError is a call attempt that could not start because its input
// was incomplete. No network call was made.
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("call configuration: missing %s", e.Field)
}

func (e *ConfigurationError) UserMessage() string {
	return messageMissingAppointment
}

// ConnectionError is a rejected token request, call start, join or publish.
// Message is what the user is shown.
type ConnectionError struct {
	Op      string
	Message string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("call %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) UserMessage() string {
	return e.Message
}

func newConnectionError(op string, err error) *ConnectionError {
	msg := messageStartFailed
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		msg = apiErr.Message
	}
	return &ConnectionError{Op: op, Message: msg, Err: err}
}

// UserMessage returns the text to show for a failed call attempt.
func UserMessage(err error) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	return messageStartFailed
}
