// Package call runs one teleconsultation from appointment id to transcript
// flush.
package call

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/teleconsult/internal/backend"
	"github.com/foxseedlab/teleconsult/internal/media"
	"github.com/foxseedlab/teleconsult/internal/metrics"
	"github.com/foxseedlab/teleconsult/internal/notify"
	"github.com/foxseedlab/teleconsult/internal/repository"
	"github.com/foxseedlab/teleconsult/internal/transcript"
	"github.com/foxseedlab/teleconsult/internal/transcription"
	"github.com/foxseedlab/teleconsult/internal/webhook"
	"github.com/google/uuid"
)

const (
	DefaultFlushTimeout = 30 * time.Second
	sideEffectTimeout   = 5 * time.Second
)

type State string

const (
	StateInitializing State = "initializing"
	StateConnecting   State = "connecting"
	StateActive       State = "active"
	StateEnding       State = "ending"
	StateTerminated   State = "terminated"
	StateFailed       State = "failed"
)

// MediaSession is the part of *media.Manager the orchestrator drives.
type MediaSession interface {
	Join(ctx context.Context, creds media.Credentials) (media.JoinResult, error)
	AcquireLocalMedia(ctx context.Context) media.LocalMedia
	Publish(ctx context.Context) error
	SetMuted(muted bool)
	SetVideoEnabled(enabled bool)
	Teardown() error
	Snapshot() media.Snapshot
	OnChange(fn func(media.Snapshot))
}

type Config struct {
	Backend  backend.Client
	Media    MediaSession
	Capturer transcription.SpeechCapturer
	// Journal, Notifier and Webhook are optional and best effort.
	Journal  repository.Repository
	Notifier notify.Notifier
	Webhook  webhook.Sender
	Metrics  *metrics.Metrics

	Timezone     string
	Location     *time.Location
	FlushTimeout time.Duration
	Now          func() time.Time
}

// Status is a read-only view for the presentation layer.
type Status struct {
	AttemptID           string             `json:"attemptId"`
	State               State              `json:"state"`
	AppointmentID       string             `json:"appointmentId,omitempty"`
	VideoCallID         string             `json:"videoCallId,omitempty"`
	Error               string             `json:"error,omitempty"`
	Media               media.Snapshot     `json:"media"`
	Captions            []transcript.Entry `json:"captions"`
	TranscriptAvailable bool               `json:"transcriptAvailable"`
	EntryCount          int                `json:"entryCount"`
}

// Orchestrator is single use: one Initialize, one call. Each instance gets a
// random attempt id that ties its log lines together.
type Orchestrator struct {
	backend      backend.Client
	media        MediaSession
	capture      *transcription.Capture
	journal      repository.Repository
	notifier     notify.Notifier
	webhook      webhook.Sender
	metrics      *metrics.Metrics
	timezone     string
	location     *time.Location
	flushTimeout time.Duration
	now          func() time.Time
	attemptID    string

	mu            sync.Mutex
	state         State
	closing       bool
	failure       error
	appointmentID string
	credential    backend.JoinCredential
	callStarted   bool
	journalCallID string
	joinedAt      time.Time
	localIdentity string

	entryIndex atomic.Int64
	flushOnce  sync.Once
	done       chan struct{}
	doneOnce   sync.Once
}

func NewOrchestrator(cfg Config) *Orchestrator {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	flushTimeout := cfg.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = DefaultFlushTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	o := &Orchestrator{
		backend:      cfg.Backend,
		media:        cfg.Media,
		journal:      cfg.Journal,
		notifier:     notifier,
		webhook:      cfg.Webhook,
		metrics:      cfg.Metrics,
		timezone:     cfg.Timezone,
		location:     loc,
		flushTimeout: flushTimeout,
		now:          now,
		attemptID:    uuid.NewString(),
		state:        StateInitializing,
		done:         make(chan struct{}),
	}
	o.capture = transcription.NewCapture(transcription.CaptureConfig{
		Capturer: cfg.Capturer,
		Now:      now,
		OnEntry:  o.journalEntry,
		Metrics:  cfg.Metrics,
	})
	return o
}

// Initialize takes the call from initializing to active. A blank appointment
// id fails with *ConfigurationError before any network call. Backend and
// media failures fail with *ConnectionError. Close during connecting ends the
// attempt with ErrCallCancelled.
func (o *Orchestrator) Initialize(ctx context.Context, appointmentID string) error {
	o.mu.Lock()
	if o.state != StateInitializing {
		o.mu.Unlock()
		return ErrAlreadyInitialized
	}
	id := strings.TrimSpace(appointmentID)
	if id == "" {
		o.mu.Unlock()
		return o.fail(&ConfigurationError{Field: "appointment id"}, failReasonConfiguration)
	}
	o.appointmentID = id
	o.state = StateConnecting
	o.mu.Unlock()
	slog.Info("call connecting", "attempt_id", o.attemptID, "appointment_id", id)

	cred, err := o.backend.GenerateToken(ctx, id)
	if err != nil {
		return o.fail(newConnectionError("token", err), failReasonToken)
	}
	if err := o.backend.StartCall(ctx, cred.VideoCallID); err != nil {
		return o.fail(newConnectionError("start", err), failReasonStart)
	}
	o.mu.Lock()
	o.credential = cred
	o.callStarted = true
	closing := o.closing
	o.mu.Unlock()
	slog.Info("backend call started", "appointment_id", id, "video_call_id", cred.VideoCallID, "channel_name", cred.ChannelName)
	if closing {
		return o.cancelled()
	}

	o.openJournal(ctx, id, cred)

	joined, err := o.media.Join(ctx, media.Credentials{AppID: cred.AppID, ChannelName: cred.ChannelName, Token: cred.Token})
	if errors.Is(err, media.ErrJoinCancelled) {
		return o.cancelled()
	}
	if err != nil {
		_ = o.media.Teardown()
		if o.isClosing() {
			return o.cancelled()
		}
		return o.fail(newConnectionError("join", err), failReasonJoin)
	}
	joinedAt := o.now()

	local := o.media.AcquireLocalMedia(ctx)
	if err := o.media.Publish(ctx); err != nil {
		_ = o.media.Teardown()
		if o.isClosing() {
			return o.cancelled()
		}
		return o.fail(newConnectionError("publish", err), failReasonPublish)
	}

	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		_ = o.media.Teardown()
		return o.cancelled()
	}
	o.state = StateActive
	o.joinedAt = joinedAt
	o.localIdentity = joined.LocalIdentity
	o.mu.Unlock()

	o.capture.Start(joinedAt)
	o.metrics.IncCallsStarted()
	slog.Info("call active", "appointment_id", id, "video_call_id", cred.VideoCallID, "local_identity", joined.LocalIdentity, "degradation", local.Degradation)

	nctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := o.notifier.CallStarted(nctx, notify.CallStarted{
		AppointmentID: id,
		VideoCallID:   cred.VideoCallID,
		ChannelName:   cred.ChannelName,
		LocalIdentity: joined.LocalIdentity,
		Degradation:   string(local.Degradation),
		StartedAt:     joinedAt,
	}); err != nil {
		slog.Warn("failed to send call started notification", "appointment_id", id, "error", err)
	}
	return nil
}

// EndCall stops capture and media, then flushes the transcript in the
// background. It returns once the call is terminated; flush errors are never
// returned. Done reports when the flush has finished.
func (o *Orchestrator) EndCall(ctx context.Context) error {
	return o.end(ctx, stopReasonUserEnded)
}

func (o *Orchestrator) end(_ context.Context, reason string) error {
	o.mu.Lock()
	switch o.state {
	case StateActive:
	case StateEnding, StateTerminated:
		o.mu.Unlock()
		return nil
	default:
		o.mu.Unlock()
		return ErrNotActive
	}
	o.state = StateEnding
	o.mu.Unlock()
	slog.Info("ending call", "appointment_id", o.appointmentID, "reason", reason)

	entries := o.capture.Stop()
	if err := o.media.Teardown(); err != nil {
		slog.Warn("media teardown reported errors", "appointment_id", o.appointmentID, "error", err)
	}
	endedAt := o.now()

	o.mu.Lock()
	o.state = StateTerminated
	o.mu.Unlock()
	o.metrics.IncCallsEnded()

	o.flushOnce.Do(func() {
		go o.finalize(entries, endedAt, reason)
	})
	return nil
}

// Close is the unmount path. An active call is ended; a call still connecting
// is torn down so the in-flight join closes itself.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	state := o.state
	o.closing = true
	o.mu.Unlock()

	switch state {
	case StateActive:
		_ = o.end(context.Background(), stopReasonClosed)
	case StateInitializing:
		o.mu.Lock()
		o.state = StateTerminated
		o.mu.Unlock()
		o.finish()
	case StateConnecting:
		if err := o.media.Teardown(); err != nil {
			slog.Warn("media teardown reported errors", "appointment_id", o.appointmentID, "error", err)
		}
	}
}

func (o *Orchestrator) SetMuted(muted bool) error {
	if o.State() != StateActive {
		return ErrNotActive
	}
	o.media.SetMuted(muted)
	return nil
}

func (o *Orchestrator) SetVideoEnabled(enabled bool) error {
	if o.State() != StateActive {
		return ErrNotActive
	}
	o.media.SetVideoEnabled(enabled)
	return nil
}

// OnMediaChange forwards media snapshots, e.g. to create video surfaces.
func (o *Orchestrator) OnMediaChange(fn func(media.Snapshot)) {
	o.media.OnChange(fn)
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Err returns the failure that ended the attempt, if any.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failure
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{
		AttemptID:     o.attemptID,
		State:         o.state,
		AppointmentID: o.appointmentID,
		VideoCallID:   o.credential.VideoCallID,
	}
	if o.failure != nil {
		st.Error = UserMessage(o.failure)
	}
	o.mu.Unlock()

	st.Media = o.media.Snapshot()
	st.Captions = o.capture.RecentCaptions()
	st.TranscriptAvailable = o.capture.Available()
	st.EntryCount = len(o.capture.Transcript())
	return st
}

// Done is closed when the call is over and its transcript flush, if any, has
// finished.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

func (o *Orchestrator) fail(err error, reason string) error {
	o.mu.Lock()
	o.state = StateFailed
	o.failure = err
	started := o.callStarted
	o.mu.Unlock()

	o.metrics.IncCallsFailed(reason)
	slog.Error("call failed", "attempt_id", o.attemptID, "appointment_id", o.appointmentID, "reason", reason, "error", err)
	if started {
		o.flushOnce.Do(func() {
			go o.finalize(nil, o.now(), stopReasonStartFailed)
		})
	} else {
		o.finish()
	}
	return err
}

func (o *Orchestrator) cancelled() error {
	o.mu.Lock()
	o.state = StateTerminated
	started := o.callStarted
	o.mu.Unlock()

	slog.Info("call cancelled while connecting", "appointment_id", o.appointmentID)
	if started {
		o.flushOnce.Do(func() {
			go o.finalize(nil, o.now(), stopReasonCancelled)
		})
	} else {
		o.finish()
	}
	return ErrCallCancelled
}

func (o *Orchestrator) isClosing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closing
}

func (o *Orchestrator) finish() {
	o.doneOnce.Do(func() { close(o.done) })
}
