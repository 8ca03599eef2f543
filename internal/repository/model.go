package repository

import "time"

type CallStatus string

const (
	CallStatusRunning   CallStatus = "running"
	CallStatusCompleted CallStatus = "completed"
	CallStatusFailed    CallStatus = "failed"
)

type Call struct {
	ID            string
	AppointmentID string
	VideoCallID   string
	ChannelName   string
	LocalIdentity string
	StartedAt     time.Time
	EndedAt       *time.Time
	Status        CallStatus
	StopReason    string
	EntryCount    int
	// Flushed records whether the portal backend accepted the transcript.
	Flushed   bool
	CreatedAt time.Time
}

type TranscriptEntry struct {
	CallID           string
	EntryIndex       int
	TimestampSeconds int
	Speaker          string
	Text             string
	CreatedAt        time.Time
}
