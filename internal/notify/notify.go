// Package notify posts call lifecycle notices to clinic staff.
package notify

import (
	"context"
	"time"
)

type CallStarted struct {
	AppointmentID string
	VideoCallID   string
	ChannelName   string
	LocalIdentity string
	Degradation   string
	StartedAt     time.Time
}

type CallEnded struct {
	AppointmentID      string
	VideoCallID        string
	StartedAt          time.Time
	EndedAt            time.Time
	EntryCount         int
	Flushed            bool
	TranscriptFilename string
	Transcript         []byte
}

type Notifier interface {
	CallStarted(ctx context.Context, n CallStarted) error
	CallEnded(ctx context.Context, n CallEnded) error
}

// Noop is used when no notification channel is configured.
type Noop struct{}

func (Noop) CallStarted(context.Context, CallStarted) error { return nil }
func (Noop) CallEnded(context.Context, CallEnded) error     { return nil }
