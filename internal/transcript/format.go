package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/teleconsult/internal/webhook"
)

const textTimeLayout = "2006-01-02 15:04:05"

type CallMetadata struct {
	CallID        string
	AppointmentID string
	VideoCallID   string
	ChannelName   string
	LocalIdentity string
}

func BuildText(meta CallMetadata, startedAt, endedAt time.Time, timezone string, loc *time.Location, entries []Entry) []byte {
	loc = safeLocation(loc)
	lines := []string{
		fmt.Sprintf("Appointment: %s", meta.AppointmentID),
		fmt.Sprintf("Video call: %s (channel %s)", meta.VideoCallID, meta.ChannelName),
		fmt.Sprintf("Call period: %s ~ %s (%s)", startedAt.In(loc).Format(textTimeLayout), endedAt.In(loc).Format(textTimeLayout), timezone),
		fmt.Sprintf("Local participant: %s", meta.LocalIdentity),
		"",
	}
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s %s", FormatOffset(e.TimestampSeconds), e.Text))
	}
	return []byte(strings.Join(lines, "\n"))
}

func BuildWebhookPayload(meta CallMetadata, startedAt, endedAt time.Time, timezone string, loc *time.Location, entries []Entry) webhook.TranscriptWebhookPayload {
	loc = safeLocation(loc)
	texts := make([]string, 0, len(entries))
	out := make([]webhook.TranscriptWebhookEntry, 0, len(entries))
	for i, e := range entries {
		texts = append(texts, e.Text)
		out = append(out, webhook.TranscriptWebhookEntry{
			Index:         i,
			OffsetSeconds: e.TimestampSeconds,
			SpokenAt:      startedAt.Add(time.Duration(e.TimestampSeconds) * time.Second).In(loc).Format(time.RFC3339),
			Speaker:       string(e.Speaker),
			Transcript:    e.Text,
		})
	}

	durationSeconds := int64(endedAt.Sub(startedAt).Seconds())
	if durationSeconds < 0 {
		durationSeconds = 0
	}

	return webhook.TranscriptWebhookPayload{
		SchemaVersion:   webhook.TranscriptWebhookSchemaVersion,
		CallID:          meta.CallID,
		AppointmentID:   meta.AppointmentID,
		VideoCallID:     meta.VideoCallID,
		ChannelName:     meta.ChannelName,
		StartAt:         startedAt.In(loc).Format(time.RFC3339),
		EndAt:           endedAt.In(loc).Format(time.RFC3339),
		Timezone:        timezone,
		DurationSeconds: durationSeconds,
		EntryCount:      len(entries),
		Entries:         out,
		Transcript:      strings.Join(texts, "\n"),
	}
}

// FormatOffset renders call-relative seconds as HH:MM:SS.
func FormatOffset(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func safeLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
