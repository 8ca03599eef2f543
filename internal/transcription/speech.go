// Package transcription turns a speech recognition capability into a
// call-relative transcript that heals itself while the call is active.
package transcription

import (
	"context"
	"errors"
)

// ErrSpeechUnsupported is returned by capturers when the runtime has no speech
// recognition available.
var ErrSpeechUnsupported = errors.New("speech recognition is not supported")

type EventKind int

const (
	EventResult EventKind = iota
	EventNoSpeech
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventResult:
		return "result"
	case EventNoSpeech:
		return "no-speech"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one notification from a recognition session. Only finalized
// results are delivered as EventResult.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Recognition is a single capture session. Events closes when the session
// ends for any reason.
type Recognition interface {
	Events() <-chan Event
	Stop()
}

type SpeechCapturer interface {
	Start(ctx context.Context) (Recognition, error)
}

type NoopCapturer struct{}

func (NoopCapturer) Start(context.Context) (Recognition, error) {
	return nil, ErrSpeechUnsupported
}
