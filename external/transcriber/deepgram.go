package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/foxseedlab/teleconsult/internal/transcriber"
)

const (
	deepgramEndpoint     = "wss://api.deepgram.com/v1/listen"
	deepgramDefaultModel = "nova-3-medical"
	deepgramFlushTimeout = 2 * time.Second
)

type DeepgramConfig struct {
	APIKey   string
	Model    string
	Language string
	// Endpoint overrides the streaming URL; tests point it at a local server.
	Endpoint string
}

type DeepgramTranscriber struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

func NewDeepgramTranscriber(cfg DeepgramConfig) (*DeepgramTranscriber, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("deepgram api key must not be empty")
	}
	model := cfg.Model
	if model == "" {
		model = deepgramDefaultModel
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = deepgramEndpoint
	}
	return &DeepgramTranscriber{apiKey: cfg.APIKey, model: model, language: cfg.Language, endpoint: endpoint}, nil
}

func (t *DeepgramTranscriber) StartStreaming(ctx context.Context, streamID string, cfg transcriber.StreamConfig, receiver transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	if cfg.Language == "" {
		cfg.Language = t.language
	}
	wsURL, err := t.listenURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("build deepgram url: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("dial deepgram: %w", err)
	}
	slog.Info("deepgram stream opened", "stream_id", streamID, "language", cfg.Language, "model", t.model)

	readCtx, cancel := context.WithCancel(ctx)
	w := &deepgramStreamWriter{
		ctx:      ctx,
		conn:     conn,
		cancel:   cancel,
		receiver: receiver,
		done:     make(chan struct{}),
	}
	go w.readLoop(readCtx, streamID)
	return w, nil
}

func (t *DeepgramTranscriber) listenURL(cfg transcriber.StreamConfig) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", cfg.Language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRateHertz))
	q.Set("channels", strconv.Itoa(max(cfg.Channels, 1)))
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type deepgramResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramStreamWriter struct {
	ctx      context.Context
	conn     *websocket.Conn
	cancel   context.CancelFunc
	receiver transcriber.ResultReceiver
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

func (w *deepgramStreamWriter) Write(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return io.ErrClosedPipe
	}
	return w.conn.Write(w.ctx, websocket.MessageBinary, pcm)
}

// Close asks Deepgram to flush pending results, waits for the read loop and
// closes the socket.
func (w *deepgramStreamWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	_ = w.conn.Write(w.ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
	w.mu.Unlock()

	select {
	case <-w.done:
	case <-time.After(deepgramFlushTimeout):
		w.cancel()
		<-w.done
	}
	w.cancel()
	if err := w.conn.Close(websocket.StatusNormalClosure, "stream closed"); err != nil {
		slog.Debug("deepgram socket close", "error", err)
	}
	return nil
}

func (w *deepgramStreamWriter) readLoop(ctx context.Context, streamID string) {
	defer close(w.done)
	for {
		_, msg, err := w.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				slog.Debug("deepgram receive loop stopped", "stream_id", streamID)
				return
			}
			w.receiver.OnError(err)
			return
		}
		text, isFinal, ok := parseDeepgramResult(msg)
		if !ok {
			continue
		}
		w.receiver.OnResult(text, isFinal)
	}
}

func parseDeepgramResult(data []byte) (string, bool, bool) {
	var res deepgramResult
	if err := json.Unmarshal(data, &res); err != nil {
		return "", false, false
	}
	if res.Type != "Results" || len(res.Channel.Alternatives) == 0 {
		return "", false, false
	}
	return res.Channel.Alternatives[0].Transcript, res.IsFinal, true
}
