package media

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/teleconsult/internal/metrics"
)

const (
	DefaultAttachRetryInterval = 100 * time.Millisecond
	DefaultAttachRetryAttempts = 50
	DefaultSubscribeTimeout    = 10 * time.Second
)

type Config struct {
	Transport           Transport
	Devices             Devices
	Player              Player
	Surfaces            SurfaceResolver
	AttachRetryInterval time.Duration
	AttachRetryAttempts int
	// SubscribeTimeout bounds the wait for a remote stream's first media.
	SubscribeTimeout time.Duration
	Metrics          *metrics.Metrics
}

type remoteParticipant struct {
	audio RemoteTrack
	video RemoteTrack
}

// take clears the participant's track of the given kind and returns it.
func (p *remoteParticipant) take(kind Kind) RemoteTrack {
	var t RemoteTrack
	switch kind {
	case KindVideo:
		t, p.video = p.video, nil
	case KindAudio:
		t, p.audio = p.audio, nil
	}
	return t
}

func (p *remoteParticipant) empty() bool {
	return p.audio == nil && p.video == nil
}

type subscriptionKey struct {
	participantID string
	kind          Kind
}

// pendingSubscription is a subscribe still waiting on the connection. It is
// cancelled when the participant unpublishes that kind, leaves or publishes
// it again.
type pendingSubscription struct {
	cancel context.CancelFunc
}

func (p *remoteParticipant) tracks() []RemoteTrack {
	var out []RemoteTrack
	if p.audio != nil {
		out = append(out, p.audio)
	}
	if p.video != nil {
		out = append(out, p.video)
	}
	return out
}

// Manager drives one call's media session through idle, joining, joined and
// closed. Remote participant changes arrive as events from the connection and
// are applied on a single event loop goroutine; subscribes run beside it so a
// slow stream never holds up departures.
type Manager struct {
	transport        Transport
	devices          Devices
	player           Player
	surfaces         SurfaceResolver
	attachInterval   time.Duration
	attachAttempts   int
	subscribeTimeout time.Duration
	metrics          *metrics.Metrics

	mu            sync.Mutex
	state         State
	alive         bool
	conn          Connection
	localIdentity string
	audio         LocalTrack
	video         LocalTrack
	degradation   Degradation
	muted         bool
	videoEnabled  bool
	remote        map[string]*remoteParticipant
	pending       map[subscriptionKey]*pendingSubscription
	listeners     []func(Snapshot)
	loopCancel    context.CancelFunc
	loopDone      chan struct{}

	// dispatching is set while the event loop runs a handler, so a Teardown
	// issued from a listener on that goroutine does not wait on itself.
	dispatching  atomic.Bool
	teardownOnce sync.Once
}

func NewManager(cfg Config) *Manager {
	interval := cfg.AttachRetryInterval
	if interval <= 0 {
		interval = DefaultAttachRetryInterval
	}
	attempts := cfg.AttachRetryAttempts
	if attempts <= 0 {
		attempts = DefaultAttachRetryAttempts
	}
	subscribeTimeout := cfg.SubscribeTimeout
	if subscribeTimeout <= 0 {
		subscribeTimeout = DefaultSubscribeTimeout
	}
	surfaces := cfg.Surfaces
	if surfaces == nil {
		surfaces = NewSurfaceRegistry()
	}
	return &Manager{
		transport:        cfg.Transport,
		devices:          cfg.Devices,
		player:           cfg.Player,
		surfaces:         surfaces,
		attachInterval:   interval,
		attachAttempts:   attempts,
		subscribeTimeout: subscribeTimeout,
		metrics:          cfg.Metrics,
		state:            StateIdle,
		alive:            true,
		videoEnabled:     true,
		remote:           make(map[string]*remoteParticipant),
		pending:          make(map[subscriptionKey]*pendingSubscription),
	}
}

// Join performs the transport handshake. The local identity is assigned by the
// transport. A rejected handshake is returned as *ConnectionError.
func (m *Manager) Join(ctx context.Context, creds Credentials) (JoinResult, error) {
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return JoinResult{}, ErrJoinCancelled
	}
	if m.state != StateIdle {
		m.mu.Unlock()
		return JoinResult{}, ErrAlreadyJoined
	}
	m.state = StateJoining
	m.mu.Unlock()
	m.notify()

	slog.Info("joining media channel", "channel_name", creds.ChannelName)
	conn, err := m.transport.Join(ctx, creds)
	if err != nil {
		m.mu.Lock()
		if m.alive {
			m.state = StateIdle
		}
		m.mu.Unlock()
		m.notify()
		return JoinResult{}, &ConnectionError{Op: "join", Err: err}
	}

	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		slog.Info("join resolved after teardown; leaving channel", "channel_name", creds.ChannelName)
		if err := conn.Leave(); err != nil {
			slog.Warn("failed to leave cancelled join", "error", err)
		}
		return JoinResult{}, ErrJoinCancelled
	}
	m.conn = conn
	m.localIdentity = conn.LocalIdentity()
	m.state = StateJoined
	loopCtx, cancel := context.WithCancel(context.Background())
	m.loopCancel = cancel
	m.loopDone = make(chan struct{})
	go m.eventLoop(loopCtx, conn)
	identity := m.localIdentity
	m.mu.Unlock()
	m.notify()

	slog.Info("joined media channel", "channel_name", creds.ChannelName, "local_identity", identity)
	return JoinResult{LocalIdentity: identity}, nil
}

// AcquireLocalMedia opens camera and microphone, falling back to microphone
// only and then to no local media. Degradation is never an error.
func (m *Manager) AcquireLocalMedia(ctx context.Context) LocalMedia {
	result := m.acquire(ctx)

	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		closeTracks(result.Audio, result.Video)
		return LocalMedia{Degradation: DegradationReceiveOnly}
	}
	m.audio = result.Audio
	m.video = result.Video
	m.degradation = result.Degradation
	m.mu.Unlock()
	m.notify()
	return result
}

func (m *Manager) acquire(ctx context.Context) LocalMedia {
	if m.devices == nil {
		m.metrics.IncDeviceDegradation(string(DegradationReceiveOnly))
		slog.Warn("no capture devices configured; joining receive-only")
		return LocalMedia{Degradation: DegradationReceiveOnly}
	}

	audio, video, err := m.devices.OpenCameraAndMicrophone(ctx)
	if err == nil {
		return LocalMedia{Audio: audio, Video: video, Degradation: DegradationNone}
	}
	closeTracks(audio, video)
	slog.Warn("camera and microphone unavailable; falling back to microphone only", "error", err)
	m.metrics.IncDeviceDegradation(string(DegradationAudioOnly))

	audio, err = m.devices.OpenMicrophone(ctx)
	if err == nil {
		return LocalMedia{Audio: audio, Degradation: DegradationAudioOnly}
	}
	closeTracks(audio)
	slog.Warn("microphone unavailable; joining receive-only", "error", err)
	m.metrics.IncDeviceDegradation(string(DegradationReceiveOnly))
	return LocalMedia{Degradation: DegradationReceiveOnly}
}

// Publish sends the held local tracks to the channel. With no tracks it does
// nothing.
func (m *Manager) Publish(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateJoined {
		m.mu.Unlock()
		return ErrNotJoined
	}
	conn := m.conn
	var tracks []LocalTrack
	if m.audio != nil {
		tracks = append(tracks, m.audio)
	}
	if m.video != nil {
		tracks = append(tracks, m.video)
	}
	m.mu.Unlock()

	if len(tracks) == 0 {
		slog.Info("no local tracks to publish")
		return nil
	}
	if err := conn.Publish(ctx, tracks); err != nil {
		return &ConnectionError{Op: "publish", Err: err}
	}
	slog.Info("published local tracks", "track_count", len(tracks))
	return nil
}

func (m *Manager) SetMuted(muted bool) {
	m.mu.Lock()
	if m.audio == nil || m.muted == muted {
		m.mu.Unlock()
		return
	}
	m.audio.SetEnabled(!muted)
	m.muted = muted
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) SetVideoEnabled(enabled bool) {
	m.mu.Lock()
	if m.video == nil || m.videoEnabled == enabled {
		m.mu.Unlock()
		return
	}
	m.video.SetEnabled(enabled)
	m.videoEnabled = enabled
	m.mu.Unlock()
	m.notify()
}

// Teardown closes local tracks, stops remote media and leaves the channel.
// Only the first call does any work; later calls return nil. A join still in
// flight leaves its connection as soon as it resolves.
func (m *Manager) Teardown() error {
	var err error
	ran := false
	m.teardownOnce.Do(func() {
		err = m.teardown()
		ran = true
	})
	if ran {
		m.notify()
	}
	return err
}

func (m *Manager) teardown() error {
	m.mu.Lock()
	m.alive = false
	m.state = StateClosed
	conn := m.conn
	m.conn = nil
	audio, video := m.audio, m.video
	m.audio, m.video = nil, nil
	var remoteTracks []RemoteTrack
	for id, p := range m.remote {
		remoteTracks = append(remoteTracks, p.tracks()...)
		delete(m.remote, id)
	}
	for key, p := range m.pending {
		p.cancel()
		delete(m.pending, key)
	}
	cancel, done := m.loopCancel, m.loopDone
	m.mu.Unlock()

	var errs []error
	if err := closeTracks(audio, video); err != nil {
		errs = append(errs, err)
	}
	for _, t := range remoteTracks {
		_ = t.Stop()
	}
	if conn != nil {
		if err := conn.Leave(); err != nil {
			errs = append(errs, err)
		}
	}
	if cancel != nil {
		cancel()
		if !m.dispatching.Load() {
			<-done
		}
	}
	if m.player != nil {
		if err := m.player.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.metrics.SetRemoteParticipants(0)
	slog.Info("media session torn down")
	return errors.Join(errs...)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// OnChange registers a listener that receives a snapshot after every state
// change. Listeners run on the goroutine that made the change, which may be
// the event loop or a subscribe goroutine, and must not block. A listener may
// call Teardown; it then returns without waiting for the event loop to exit.
func (m *Manager) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Manager) snapshotLocked() Snapshot {
	participants := make([]string, 0, len(m.remote))
	for id, p := range m.remote {
		if p.video != nil {
			participants = append(participants, id)
		}
	}
	slices.Sort(participants)
	return Snapshot{
		State:              m.state,
		LocalIdentity:      m.localIdentity,
		RemoteParticipants: participants,
		HasAudio:           m.audio != nil,
		HasVideo:           m.video != nil,
		Muted:              m.muted,
		VideoEnabled:       m.videoEnabled,
		Degradation:        m.degradation,
	}
}

func (m *Manager) notify() {
	m.mu.Lock()
	snap := m.snapshotLocked()
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()
	m.metrics.SetRemoteParticipants(len(snap.RemoteParticipants))
	for _, fn := range listeners {
		fn(snap)
	}
}

func (m *Manager) eventLoop(ctx context.Context, conn Connection) {
	defer close(m.loopDone)
	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				slog.Warn("media connection event stream closed")
				return
			}
			m.dispatching.Store(true)
			m.handleEvent(ctx, conn, ev)
			m.dispatching.Store(false)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, conn Connection, ev Event) {
	switch ev.Type {
	case EventUserPublished:
		if ev.Kind != KindAudio && ev.Kind != KindVideo {
			slog.Debug("ignoring publish of unknown kind", "participant_id", ev.ParticipantID, "kind", ev.Kind)
			return
		}
		m.startSubscribe(ctx, conn, ev.ParticipantID, ev.Kind)
	case EventUserUnpublished:
		m.removeTrack(ev.ParticipantID, ev.Kind)
	case EventUserLeft:
		m.removeParticipant(ev.ParticipantID)
	default:
		slog.Debug("ignoring unknown media event", "type", ev.Type)
	}
}

// startSubscribe runs the subscribe on its own goroutine, bounded by the
// subscribe timeout. A newer publish of the same stream supersedes it.
func (m *Manager) startSubscribe(ctx context.Context, conn Connection, participantID string, kind Kind) {
	key := subscriptionKey{participantID: participantID, kind: kind}
	sctx, cancel := context.WithTimeout(ctx, m.subscribeTimeout)
	sub := &pendingSubscription{cancel: cancel}

	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		cancel()
		return
	}
	if prev, ok := m.pending[key]; ok {
		prev.cancel()
	}
	m.pending[key] = sub
	m.mu.Unlock()

	go func() {
		defer cancel()
		m.subscribe(ctx, sctx, conn, key, sub)
	}()
}

func (m *Manager) subscribe(loopCtx, ctx context.Context, conn Connection, key subscriptionKey, sub *pendingSubscription) {
	participantID, kind := key.participantID, key.kind
	track, err := conn.Subscribe(ctx, participantID, kind)

	m.mu.Lock()
	current := m.pending[key] == sub
	if current {
		delete(m.pending, key)
	}
	if err != nil {
		m.mu.Unlock()
		if current {
			slog.Warn("failed to subscribe to remote stream", "participant_id", participantID, "kind", kind, "error", err)
		}
		return
	}
	if !current || !m.alive {
		m.mu.Unlock()
		_ = track.Stop()
		slog.Debug("discarding superseded remote stream", "participant_id", participantID, "kind", kind)
		return
	}
	p, ok := m.remote[participantID]
	if !ok {
		p = &remoteParticipant{}
		m.remote[participantID] = p
	}
	replaced := p.take(kind)
	switch kind {
	case KindVideo:
		p.video = track
	case KindAudio:
		p.audio = track
	}
	m.mu.Unlock()
	if replaced != nil {
		_ = replaced.Stop()
	}

	slog.Info("subscribed to remote stream", "participant_id", participantID, "kind", kind)
	switch kind {
	case KindVideo:
		m.notify()
		go m.attach(loopCtx, participantID, track)
	case KindAudio:
		if m.player == nil {
			return
		}
		if err := m.player.Play(track); err != nil {
			slog.Warn("failed to play remote audio", "participant_id", participantID, "error", err)
		}
	}
}

// attach waits for the participant's surface to exist, then renders into it.
func (m *Manager) attach(ctx context.Context, participantID string, track RemoteTrack) {
	ticker := time.NewTicker(m.attachInterval)
	defer ticker.Stop()
	for attempt := 0; attempt < m.attachAttempts; attempt++ {
		if !m.isCurrentVideo(participantID, track) {
			return
		}
		if surface, ok := m.surfaces.Surface(participantID); ok {
			if err := surface.Render(track); err != nil {
				slog.Warn("failed to render remote video", "participant_id", participantID, "error", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	slog.Warn("remote video surface never became ready", "participant_id", participantID, "attempts", m.attachAttempts)
}

func (m *Manager) isCurrentVideo(participantID string, track RemoteTrack) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.remote[participantID]
	return ok && p.video == track
}

// removeTrack stops one of the participant's streams. The participant stays
// listed while it still publishes video.
func (m *Manager) removeTrack(participantID string, kind Kind) {
	m.mu.Lock()
	m.cancelPendingLocked(subscriptionKey{participantID: participantID, kind: kind})
	p, ok := m.remote[participantID]
	var track RemoteTrack
	if ok {
		track = p.take(kind)
		if p.empty() {
			delete(m.remote, participantID)
		}
	}
	m.mu.Unlock()
	if track == nil {
		return
	}
	_ = track.Stop()
	slog.Info("remote stream removed", "participant_id", participantID, "kind", kind)
	if kind == KindVideo {
		m.notify()
	}
}

// removeParticipant drops the participant and stops every stream it had; a
// participant that publishes again is subscribed afresh.
func (m *Manager) removeParticipant(participantID string) {
	m.mu.Lock()
	m.cancelPendingLocked(subscriptionKey{participantID: participantID, kind: KindAudio})
	m.cancelPendingLocked(subscriptionKey{participantID: participantID, kind: KindVideo})
	p, ok := m.remote[participantID]
	if ok {
		delete(m.remote, participantID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	for _, t := range p.tracks() {
		_ = t.Stop()
	}
	slog.Info("remote participant left", "participant_id", participantID)
	m.notify()
}

func (m *Manager) cancelPendingLocked(key subscriptionKey) {
	if p, ok := m.pending[key]; ok {
		p.cancel()
		delete(m.pending, key)
	}
}

func closeTracks(tracks ...LocalTrack) error {
	var errs []error
	for _, t := range tracks {
		if t == nil {
			continue
		}
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
