package transcription

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/teleconsult/internal/metrics"
	"github.com/foxseedlab/teleconsult/internal/transcript"
)

const (
	DefaultRestartDelay      = 500 * time.Millisecond
	DefaultMaxRestartBackoff = 30 * time.Second

	// Sessions shorter than this are restarted with a growing delay.
	minSessionLifetime = time.Second
)

const (
	restartNoSpeech     = "no_speech"
	restartSessionEnded = "session_ended"
	restartError        = "error"
	restartStartFailed  = "start_failed"
)

type CaptureConfig struct {
	Capturer          SpeechCapturer
	RestartDelay      time.Duration
	MaxRestartBackoff time.Duration
	Now               func() time.Time
	// OnEntry is called from the capture goroutine after each entry is stored.
	OnEntry func(transcript.Entry)
	Metrics *metrics.Metrics
}

// Capture runs speech recognition for one call and owns its transcript.
type Capture struct {
	capturer          SpeechCapturer
	restartDelay      time.Duration
	maxRestartBackoff time.Duration
	now               func() time.Time
	onEntry           func(transcript.Entry)
	metrics           *metrics.Metrics

	buffer   *transcript.Buffer
	captions *transcript.Captions

	mu          sync.Mutex
	started     bool
	callStart   time.Time
	cancel      context.CancelFunc
	done        chan struct{}
	unsupported bool

	stopOnce sync.Once
	final    []transcript.Entry
}

func NewCapture(cfg CaptureConfig) *Capture {
	capturer := cfg.Capturer
	if capturer == nil {
		capturer = NoopCapturer{}
	}
	restartDelay := cfg.RestartDelay
	if restartDelay <= 0 {
		restartDelay = DefaultRestartDelay
	}
	maxBackoff := cfg.MaxRestartBackoff
	if maxBackoff < restartDelay {
		maxBackoff = max(restartDelay, DefaultMaxRestartBackoff)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Capture{
		capturer:          capturer,
		restartDelay:      restartDelay,
		maxRestartBackoff: maxBackoff,
		now:               now,
		onEntry:           cfg.OnEntry,
		metrics:           cfg.Metrics,
		buffer:            transcript.NewBuffer(),
		captions:          transcript.NewCaptions(),
	}
}

// Start begins capturing against callStart. It returns immediately; a second
// call, or a call after Stop, does nothing.
func (c *Capture) Start(callStart time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.callStart = callStart
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Stop ends capture exactly once and returns the full transcript. Later calls
// return the same entries.
func (c *Capture) Stop() []transcript.Entry {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.started = true
		cancel, done := c.cancel, c.done
		c.mu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}
		c.final = c.buffer.Entries()
		slog.Info("transcription capture stopped", "entry_count", len(c.final))
	})
	return c.final
}

func (c *Capture) Transcript() []transcript.Entry {
	return c.buffer.Entries()
}

func (c *Capture) RecentCaptions() []transcript.Entry {
	return c.captions.Snapshot()
}

// Available reports false once the capturer has declared speech unsupported.
func (c *Capture) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.unsupported
}

func (c *Capture) run(ctx context.Context) {
	defer close(c.done)
	backoff := c.restartDelay
	quickDelay := c.restartDelay
	for ctx.Err() == nil {
		rec, err := c.capturer.Start(ctx)
		if errors.Is(err, ErrSpeechUnsupported) {
			c.mu.Lock()
			c.unsupported = true
			c.mu.Unlock()
			slog.Info("speech capture unavailable; call continues without transcription")
			return
		}
		if err != nil {
			slog.Warn("failed to start speech capture", "error", err, "retry_in", backoff.String())
			c.metrics.IncTranscriptionRestart(restartStartFailed)
			if !sleepContext(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, c.maxRestartBackoff)
			continue
		}
		backoff = c.restartDelay

		began := time.Now()
		reason := c.consume(ctx, rec)
		rec.Stop()
		if ctx.Err() != nil {
			return
		}
		c.metrics.IncTranscriptionRestart(reason)

		var delay time.Duration
		switch {
		case time.Since(began) < minSessionLifetime:
			delay = quickDelay
			quickDelay = min(quickDelay*2, c.maxRestartBackoff)
		case reason == restartError:
			delay = c.restartDelay
			quickDelay = c.restartDelay
		default:
			quickDelay = c.restartDelay
		}
		slog.Debug("restarting speech capture", "reason", reason, "delay", delay.String())
		if delay > 0 && !sleepContext(ctx, delay) {
			return
		}
	}
}

func (c *Capture) consume(ctx context.Context, rec Recognition) string {
	events := rec.Events()
	for {
		select {
		case <-ctx.Done():
			return ""
		case ev, ok := <-events:
			if !ok {
				return restartSessionEnded
			}
			switch ev.Kind {
			case EventResult:
				c.record(ev.Text)
			case EventNoSpeech:
				return restartNoSpeech
			case EventError:
				slog.Warn("speech capture error", "error", ev.Err)
				return restartError
			}
		}
	}
}

func (c *Capture) record(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.mu.Lock()
	callStart := c.callStart
	c.mu.Unlock()

	ts := int(c.now().Sub(callStart) / time.Second)
	if ts < 0 {
		ts = 0
	}
	if last, ok := c.buffer.Last(); ok && ts < last.TimestampSeconds {
		ts = last.TimestampSeconds
	}
	entry := transcript.Entry{TimestampSeconds: ts, Speaker: transcript.SpeakerLocal, Text: text}
	c.buffer.Append(entry)
	c.captions.Push(entry)
	c.metrics.IncTranscriptEntries()
	if c.onEntry != nil {
		c.onEntry(entry)
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
