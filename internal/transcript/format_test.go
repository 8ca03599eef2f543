package transcript

import (
	"strings"
	"testing"
	"time"
)

func TestBuildText(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	startedAt := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)
	endedAt := startedAt.Add(2 * time.Minute)
	entries := []Entry{
		{TimestampSeconds: 15, Speaker: SpeakerLocal, Text: "How are you feeling today?"},
		{TimestampSeconds: 75, Speaker: SpeakerLocal, Text: "Any fever since Monday?"},
	}

	body := string(BuildText(CallMetadata{
		AppointmentID: "appt-1",
		VideoCallID:   "vc-1",
		ChannelName:   "channel-1",
		LocalIdentity: "42",
	}, startedAt, endedAt, "Asia/Tokyo", loc, entries))

	if !strings.Contains(body, "Appointment: appt-1") {
		t.Fatalf("appointment not found in body: %s", body)
	}
	if !strings.Contains(body, "Call period: 2026-02-28 21:00:00 ~ 2026-02-28 21:02:00 (Asia/Tokyo)") {
		t.Fatalf("call period not found in body: %s", body)
	}
	if !strings.Contains(body, "00:00:15 How are you feeling today?") {
		t.Fatalf("first entry line not found in body: %s", body)
	}
	if !strings.Contains(body, "00:01:15 Any fever since Monday?") {
		t.Fatalf("second entry line not found in body: %s", body)
	}
}

func TestBuildWebhookPayload(t *testing.T) {
	startedAt := time.Date(2026, 2, 28, 19, 0, 0, 0, time.UTC)
	endedAt := startedAt.Add(45 * time.Second)
	entries := []Entry{
		{TimestampSeconds: 10, Speaker: SpeakerLocal, Text: "first"},
		{TimestampSeconds: 30, Speaker: SpeakerLocal, Text: "second"},
	}

	payload := BuildWebhookPayload(CallMetadata{CallID: "call-1", AppointmentID: "appt-1", VideoCallID: "vc-1"}, startedAt, endedAt, "UTC", nil, entries)

	if payload.SchemaVersion != "2026-10-01" {
		t.Fatalf("unexpected schema_version: %s", payload.SchemaVersion)
	}
	if payload.EntryCount != 2 || len(payload.Entries) != 2 {
		t.Fatalf("unexpected entry count: %d/%d", payload.EntryCount, len(payload.Entries))
	}
	if payload.Entries[1].SpokenAt != "2026-02-28T19:00:30Z" {
		t.Fatalf("unexpected spoken_at: %s", payload.Entries[1].SpokenAt)
	}
	if payload.DurationSeconds != 45 {
		t.Fatalf("unexpected duration: %d", payload.DurationSeconds)
	}
	if payload.Transcript != "first\nsecond" {
		t.Fatalf("unexpected transcript: %q", payload.Transcript)
	}
}

func TestFormatOffset(t *testing.T) {
	cases := map[int]string{0: "00:00:00", -5: "00:00:00", 59: "00:00:59", 3725: "01:02:05"}
	for in, want := range cases {
		if got := FormatOffset(in); got != want {
			t.Fatalf("FormatOffset(%d) = %s, want %s", in, got, want)
		}
	}
}
