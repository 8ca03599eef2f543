package repository

import (
	"context"
	"time"
)

type CreateCallInput struct {
	AppointmentID string
	VideoCallID   string
	ChannelName   string
	LocalIdentity string
	StartedAt     time.Time
}

type CompleteCallInput struct {
	CallID     string
	EndedAt    time.Time
	Status     CallStatus
	StopReason string
	EntryCount int
	Flushed    bool
}

type InsertEntryInput struct {
	CallID           string
	EntryIndex       int
	TimestampSeconds int
	Speaker          string
	Text             string
}

type CallRepository interface {
	CreateCall(ctx context.Context, input CreateCallInput) (*Call, error)
	CompleteCall(ctx context.Context, input CompleteCallInput) error
	// GetRunningCallByAppointment returns nil when no call is running.
	GetRunningCallByAppointment(ctx context.Context, appointmentID string) (*Call, error)
}

type TranscriptRepository interface {
	InsertEntry(ctx context.Context, input InsertEntryInput) error
	ListEntriesByCallID(ctx context.Context, callID string) ([]TranscriptEntry, error)
}

type Repository interface {
	CallRepository
	TranscriptRepository
	Ping(ctx context.Context) error
}
