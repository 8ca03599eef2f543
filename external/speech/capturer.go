package speech

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/teleconsult/internal/audio"
	"github.com/foxseedlab/teleconsult/internal/transcriber"
	"github.com/foxseedlab/teleconsult/internal/transcription"
	"github.com/google/uuid"
)

const (
	DefaultNoSpeechTimeout = 8 * time.Second
	eventBuffer            = 64
)

type CapturerConfig struct {
	Transcriber     transcriber.Transcriber
	Source          audio.PCMSource
	Language        string
	NoSpeechTimeout time.Duration
}

// Capturer streams local microphone PCM into a streaming transcriber. Each
// Start opens a new provider stream; a stream with no recognized speech for
// NoSpeechTimeout ends with a no-speech event.
type Capturer struct {
	transcriber     transcriber.Transcriber
	source          audio.PCMSource
	language        string
	noSpeechTimeout time.Duration
}

func NewCapturer(cfg CapturerConfig) *Capturer {
	timeout := cfg.NoSpeechTimeout
	if timeout <= 0 {
		timeout = DefaultNoSpeechTimeout
	}
	return &Capturer{
		transcriber:     cfg.Transcriber,
		source:          cfg.Source,
		language:        cfg.Language,
		noSpeechTimeout: timeout,
	}
}

func (c *Capturer) Start(ctx context.Context) (transcription.Recognition, error) {
	frames, unsubscribe := c.source.Subscribe()
	rctx, cancel := context.WithCancel(ctx)
	r := &recognition{
		events:      make(chan transcription.Event, eventBuffer),
		heard:       make(chan struct{}, 1),
		cancel:      cancel,
		unsubscribe: unsubscribe,
	}

	streamID := uuid.NewString()
	writer, err := c.transcriber.StartStreaming(rctx, streamID, transcriber.StreamConfig{
		Language:        c.language,
		SampleRateHertz: audio.SampleRate,
		Channels:        audio.Channels,
	}, r)
	if err != nil {
		cancel()
		unsubscribe()
		return nil, fmt.Errorf("start speech stream: %w", err)
	}
	r.mu.Lock()
	r.writer = writer
	ended := r.closed
	r.mu.Unlock()
	if ended {
		_ = writer.Close()
		return r, nil
	}
	slog.Debug("speech recognition started", "stream_id", streamID)

	go r.pump(rctx, frames, c.noSpeechTimeout)
	return r, nil
}

type recognition struct {
	events      chan transcription.Event
	heard       chan struct{}
	cancel      context.CancelFunc
	unsubscribe func()
	writer      transcriber.StreamWriter

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func (r *recognition) Events() <-chan transcription.Event {
	return r.events
}

func (r *recognition) Stop() {
	r.end()
}

func (r *recognition) OnResult(text string, isFinal bool) {
	select {
	case r.heard <- struct{}{}:
	default:
	}
	if !isFinal || strings.TrimSpace(text) == "" {
		return
	}
	r.emit(transcription.Event{Kind: transcription.EventResult, Text: text})
}

func (r *recognition) OnError(err error) {
	r.emit(transcription.Event{Kind: transcription.EventError, Err: err})
	r.end()
}

func (r *recognition) pump(ctx context.Context, frames <-chan []byte, noSpeechTimeout time.Duration) {
	defer r.end()
	idle := time.NewTimer(noSpeechTimeout)
	defer idle.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.heard:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(noSpeechTimeout)
		case <-idle.C:
			r.emit(transcription.Event{Kind: transcription.EventNoSpeech})
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := r.writer.Write(frame); err != nil {
				r.emit(transcription.Event{Kind: transcription.EventError, Err: err})
				return
			}
		}
	}
}

func (r *recognition) emit(ev transcription.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
		slog.Warn("dropping speech event; consumer is not keeping up", "kind", ev.Kind.String())
	}
}

// end closes the provider stream and the event channel once.
func (r *recognition) end() {
	r.once.Do(func() {
		r.cancel()
		r.unsubscribe()
		r.mu.Lock()
		r.closed = true
		close(r.events)
		writer := r.writer
		r.mu.Unlock()
		if writer != nil {
			if err := writer.Close(); err != nil {
				slog.Debug("speech stream close", "error", err)
			}
		}
	})
}
