package discord

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/foxseedlab/teleconsult/internal/notify"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestNotifier(t *testing.T, rt roundTripFunc) *Notifier {
	t.Helper()
	n, err := NewNotifier("test-token", "chan-1")
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}
	n.session.Client = &http.Client{Transport: rt}
	n.session.MaxRestRetries = 0
	return n
}

func TestNotifier_CallStartedPostsToChannel(t *testing.T) {
	var body string
	n := newTestNotifier(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost || !strings.HasSuffix(req.URL.Path, "/channels/chan-1/messages") {
			t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bot test-token" {
			t.Fatalf("unexpected authorization: %q", got)
		}
		data, _ := io.ReadAll(req.Body)
		body = string(data)
		return jsonResponse(http.StatusOK, `{"id":"m1","channel_id":"chan-1"}`), nil
	})

	err := n.CallStarted(context.Background(), notify.CallStarted{
		AppointmentID: "appt-1",
		VideoCallID:   "vc-9",
		ChannelName:   "room-1",
		LocalIdentity: "agent-7",
		Degradation:   "audio-only",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"appt-1", "vc-9", "agent-7", "audio-only"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in message body %s", want, body)
		}
	}
}

func TestNotifier_CallEndedAttachesTranscript(t *testing.T) {
	var contentType, body string
	n := newTestNotifier(t, func(req *http.Request) (*http.Response, error) {
		contentType = req.Header.Get("Content-Type")
		data, _ := io.ReadAll(req.Body)
		body = string(data)
		return jsonResponse(http.StatusOK, `{"id":"m2","channel_id":"chan-1"}`), nil
	})

	start := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	err := n.CallEnded(context.Background(), notify.CallEnded{
		AppointmentID:      "appt-1",
		VideoCallID:        "vc-9",
		StartedAt:          start,
		EndedAt:            start.Add(12*time.Minute + 3*time.Second),
		EntryCount:         2,
		Flushed:            false,
		TranscriptFilename: "transcript-vc-9.txt",
		Transcript:         []byte("00:00:05 hello"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		t.Fatalf("expected multipart upload, got %q", contentType)
	}
	for _, want := range []string{"transcript-vc-9.txt", "00:00:05 hello", "12m3s", "could not be saved"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in upload body", want)
		}
	}
}

func TestNotifier_ReportsChannelOnFailure(t *testing.T) {
	n := newTestNotifier(t, func(req *http.Request) (*http.Response, error) {
		if req.Method == http.MethodGet {
			return jsonResponse(http.StatusOK, `{"id":"chan-1","name":"clinic-staff"}`), nil
		}
		return jsonResponse(http.StatusForbidden, `{"message":"Missing Access","code":50001}`), nil
	})

	err := n.CallStarted(context.Background(), notify.CallStarted{AppointmentID: "appt-1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "#clinic-staff (chan-1)") {
		t.Fatalf("expected channel name in error, got %v", err)
	}
}

func TestIsRESTNotFound(t *testing.T) {
	if isRESTNotFound(nil) {
		t.Fatal("nil error is not a not-found")
	}
	err := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
	if !isRESTNotFound(err) {
		t.Fatal("expected not-found")
	}
}

func TestCallEndedMessage_EmptyTranscript(t *testing.T) {
	msg := callEndedMessage(notify.CallEnded{AppointmentID: "a", Flushed: true})
	if !strings.Contains(msg, messageEmptyTranscript) {
		t.Fatalf("expected empty transcript hint, got %q", msg)
	}
	if strings.Contains(msg, messageFlushFailedHint) {
		t.Fatalf("unexpected flush warning in %q", msg)
	}
}
