package webhook

import "context"

const TranscriptWebhookSchemaVersion = "2026-10-01"

type TranscriptWebhookEntry struct {
	Index         int    `json:"index"`
	OffsetSeconds int    `json:"offset_seconds"`
	SpokenAt      string `json:"spoken_at"`
	Speaker       string `json:"speaker"`
	Transcript    string `json:"transcript"`
}

type TranscriptWebhookPayload struct {
	SchemaVersion   string                   `json:"schema_version"`
	CallID          string                   `json:"call_id"`
	AppointmentID   string                   `json:"appointment_id"`
	VideoCallID     string                   `json:"video_call_id"`
	ChannelName     string                   `json:"channel_name"`
	StartAt         string                   `json:"start_at"`
	EndAt           string                   `json:"end_at"`
	Timezone        string                   `json:"timezone"`
	DurationSeconds int64                    `json:"duration_seconds"`
	EntryCount      int                      `json:"entry_count"`
	Entries         []TranscriptWebhookEntry `json:"entries"`
	Transcript      string                   `json:"transcript"`
}

type Sender interface {
	SendTranscript(ctx context.Context, payload TranscriptWebhookPayload) error
}
