package transcriber

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/foxseedlab/teleconsult/internal/transcriber"
)

type recordingReceiver struct {
	mu      sync.Mutex
	results []string
	finals  []bool
	errs    []error
}

func (r *recordingReceiver) OnResult(text string, isFinal bool) {
	r.mu.Lock()
	r.results = append(r.results, text)
	r.finals = append(r.finals, isFinal)
	r.mu.Unlock()
}

func (r *recordingReceiver) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recordingReceiver) snapshot() ([]string, []bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.results...), append([]bool(nil), r.finals...)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestDeepgramTranscriber_StreamsAudioAndParsesResults(t *testing.T) {
	var gotAuth, gotQuery string
	audio := make(chan []byte, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		typ, data, err := conn.Read(ctx)
		if err != nil || typ != websocket.MessageBinary {
			return
		}
		audio <- data
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Metadata"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"my head"}]}}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"my head hurts"}]}}`))

		_, _, _ = conn.Read(ctx)
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	dg, err := NewDeepgramTranscriber(DeepgramConfig{
		APIKey:   "secret",
		Language: "en-US",
		Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	if err != nil {
		t.Fatalf("failed to create transcriber: %v", err)
	}
	receiver := &recordingReceiver{}
	w, err := dg.StartStreaming(context.Background(), "stream-1", transcriber.StreamConfig{SampleRateHertz: 48000, Channels: 2}, receiver)
	if err != nil {
		t.Fatalf("failed to start streaming: %v", err)
	}
	if err := w.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("failed to write audio: %v", err)
	}

	select {
	case data := <-audio:
		if len(data) != 4 {
			t.Fatalf("unexpected audio payload: %v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("server did not receive audio")
	}

	waitUntil(t, time.Second, func() bool {
		results, _ := receiver.snapshot()
		return len(results) == 2
	})
	results, finals := receiver.snapshot()
	if results[1] != "my head hurts" || !finals[1] || finals[0] {
		t.Fatalf("unexpected results: %v %v", results, finals)
	}
	if gotAuth != "Token secret" {
		t.Fatalf("unexpected authorization header: %q", gotAuth)
	}
	if !strings.Contains(gotQuery, "sample_rate=48000") || !strings.Contains(gotQuery, "channels=2") || !strings.Contains(gotQuery, "language=en-US") {
		t.Fatalf("unexpected query: %s", gotQuery)
	}

	if err := w.Close(); err != nil {
		t.Logf("close returned %v", err)
	}
	if err := w.Write([]byte{1}); err == nil {
		t.Fatal("expected write after close to fail")
	}
}

func TestNewDeepgramTranscriber_RequiresAPIKey(t *testing.T) {
	if _, err := NewDeepgramTranscriber(DeepgramConfig{}); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestParseDeepgramResult(t *testing.T) {
	if _, _, ok := parseDeepgramResult([]byte(`not json`)); ok {
		t.Fatal("expected invalid json to be ignored")
	}
	if _, _, ok := parseDeepgramResult([]byte(`{"type":"Results","channel":{"alternatives":[]}}`)); ok {
		t.Fatal("expected empty alternatives to be ignored")
	}
	text, final, ok := parseDeepgramResult([]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"ok"}]}}`))
	if !ok || !final || text != "ok" {
		t.Fatalf("unexpected parse result: %q %v %v", text, final, ok)
	}
}

type fakeTranscriber struct {
	err   error
	calls int
}

func (f *fakeTranscriber) StartStreaming(context.Context, string, transcriber.StreamConfig, transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return nopWriter{}, nil
}

type nopWriter struct{}

func (nopWriter) Write([]byte) error { return nil }
func (nopWriter) Close() error       { return nil }
