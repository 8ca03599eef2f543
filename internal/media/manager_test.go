package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocalTrack struct {
	kind Kind

	mu      sync.Mutex
	enabled bool
	closed  int
}

func newFakeLocalTrack(kind Kind) *fakeLocalTrack {
	return &fakeLocalTrack{kind: kind, enabled: true}
}

func (t *fakeLocalTrack) Kind() Kind { return t.kind }

func (t *fakeLocalTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *fakeLocalTrack) Close() error {
	t.mu.Lock()
	t.closed++
	t.mu.Unlock()
	return nil
}

func (t *fakeLocalTrack) Closed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeRemoteTrack struct {
	participantID string
	kind          Kind
	stopOnce      sync.Once
	stopped       chan struct{}
}

func newFakeRemoteTrack(id string, kind Kind) *fakeRemoteTrack {
	return &fakeRemoteTrack{participantID: id, kind: kind, stopped: make(chan struct{})}
}

func (t *fakeRemoteTrack) ParticipantID() string { return t.participantID }
func (t *fakeRemoteTrack) Kind() Kind            { return t.kind }

func (t *fakeRemoteTrack) ReadRTP() (*rtp.Packet, error) {
	<-t.stopped
	return nil, io.EOF
}

func (t *fakeRemoteTrack) Stop() error {
	t.stopOnce.Do(func() { close(t.stopped) })
	return nil
}

func (t *fakeRemoteTrack) isStopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

type fakeConnection struct {
	identity string
	events   chan Event

	mu         sync.Mutex
	published  []LocalTrack
	publishErr error
	leaves     int
	subscribed map[string]*fakeRemoteTrack
	stalled    map[string]bool
	abandoned  chan string
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{
		identity:   "1001",
		events:     make(chan Event, 16),
		subscribed: make(map[string]*fakeRemoteTrack),
		stalled:    make(map[string]bool),
		abandoned:  make(chan string, 16),
	}
}

// stall makes subscribes to the participant wait until their context ends,
// like a stream whose first packet never arrives.
func (c *fakeConnection) stall(participantID string) {
	c.mu.Lock()
	c.stalled[participantID] = true
	c.mu.Unlock()
}

func (c *fakeConnection) LocalIdentity() string { return c.identity }

func (c *fakeConnection) Publish(_ context.Context, tracks []LocalTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, tracks...)
	return nil
}

func (c *fakeConnection) Subscribe(ctx context.Context, participantID string, kind Kind) (RemoteTrack, error) {
	c.mu.Lock()
	stalled := c.stalled[participantID]
	c.mu.Unlock()
	if stalled {
		<-ctx.Done()
		c.abandoned <- participantID
		return nil, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := newFakeRemoteTrack(participantID, kind)
	c.subscribed[participantID+"/"+string(kind)] = t
	return t, nil
}

func (c *fakeConnection) Events() <-chan Event { return c.events }

func (c *fakeConnection) Leave() error {
	c.mu.Lock()
	c.leaves++
	c.mu.Unlock()
	return nil
}

func (c *fakeConnection) Leaves() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaves
}

func (c *fakeConnection) Subscribed(key string) *fakeRemoteTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed[key]
}

type fakeTransport struct {
	conn    *fakeConnection
	err     error
	release chan struct{}
	calls   int
}

func (t *fakeTransport) Join(ctx context.Context, _ Credentials) (Connection, error) {
	t.calls++
	if t.release != nil {
		<-t.release
	}
	if t.err != nil {
		return nil, t.err
	}
	return t.conn, nil
}

type fakeDevices struct {
	bothErr error
	micErr  error
	audio   *fakeLocalTrack
	video   *fakeLocalTrack
	micOnly *fakeLocalTrack
	calls   []string
}

func (d *fakeDevices) OpenCameraAndMicrophone(context.Context) (LocalTrack, LocalTrack, error) {
	d.calls = append(d.calls, "both")
	if d.bothErr != nil {
		return nil, nil, d.bothErr
	}
	d.audio = newFakeLocalTrack(KindAudio)
	d.video = newFakeLocalTrack(KindVideo)
	return d.audio, d.video, nil
}

func (d *fakeDevices) OpenMicrophone(context.Context) (LocalTrack, error) {
	d.calls = append(d.calls, "mic")
	if d.micErr != nil {
		return nil, d.micErr
	}
	d.micOnly = newFakeLocalTrack(KindAudio)
	return d.micOnly, nil
}

type fakePlayer struct {
	mu     sync.Mutex
	played []RemoteTrack
	closed int
}

func (p *fakePlayer) Play(track RemoteTrack) error {
	p.mu.Lock()
	p.played = append(p.played, track)
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) Close() error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) Played() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

type fakeSurface struct {
	rendered chan RemoteTrack
}

func (s *fakeSurface) Render(track RemoteTrack) error {
	s.rendered <- track
	return nil
}

var testCreds = Credentials{AppID: "app", ChannelName: "room-1", Token: "tok"}

func joinedManager(t *testing.T, devices Devices, surfaces SurfaceResolver) (*Manager, *fakeConnection, *fakePlayer) {
	t.Helper()
	return joinedManagerWith(t, Config{Devices: devices, Surfaces: surfaces})
}

func joinedManagerWith(t *testing.T, cfg Config) (*Manager, *fakeConnection, *fakePlayer) {
	t.Helper()
	conn := newFakeConnection()
	player := &fakePlayer{}
	cfg.Transport = &fakeTransport{conn: conn}
	cfg.Player = player
	cfg.AttachRetryInterval = time.Millisecond
	cfg.AttachRetryAttempts = 500
	m := NewManager(cfg)
	res, err := m.Join(context.Background(), testCreds)
	require.NoError(t, err)
	assert.Equal(t, "1001", res.LocalIdentity)
	return m, conn, player
}

func TestManager_JoinAcquirePublish(t *testing.T) {
	devices := &fakeDevices{}
	m, conn, _ := joinedManager(t, devices, nil)

	local := m.AcquireLocalMedia(context.Background())
	assert.Equal(t, DegradationNone, local.Degradation)
	require.NoError(t, m.Publish(context.Background()))
	assert.Len(t, conn.published, 2)

	snap := m.Snapshot()
	assert.Equal(t, StateJoined, snap.State)
	assert.True(t, snap.HasAudio)
	assert.True(t, snap.HasVideo)
	require.NoError(t, m.Teardown())
}

func TestManager_JoinRejectedIsConnectionError(t *testing.T) {
	m := NewManager(Config{Transport: &fakeTransport{err: errors.New("token expired")}})
	_, err := m.Join(context.Background(), testCreds)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "join", connErr.Op)
	assert.Equal(t, StateIdle, m.State())
	require.NoError(t, m.Teardown())
}

func TestManager_DeviceFallbackToMicrophone(t *testing.T) {
	devices := &fakeDevices{bothErr: errors.New("no camera")}
	m, conn, _ := joinedManager(t, devices, nil)

	local := m.AcquireLocalMedia(context.Background())
	assert.Equal(t, DegradationAudioOnly, local.Degradation)
	assert.Equal(t, []string{"both", "mic"}, devices.calls)
	require.NoError(t, m.Publish(context.Background()))
	assert.Len(t, conn.published, 1)

	require.NoError(t, m.Teardown())
	assert.Equal(t, 1, devices.micOnly.Closed())
}

func TestManager_DeviceFallbackToReceiveOnly(t *testing.T) {
	devices := &fakeDevices{bothErr: errors.New("no camera"), micErr: errors.New("blocked")}
	m, conn, _ := joinedManager(t, devices, nil)

	local := m.AcquireLocalMedia(context.Background())
	assert.Equal(t, DegradationReceiveOnly, local.Degradation)
	assert.Nil(t, local.Audio)
	assert.Nil(t, local.Video)

	require.NoError(t, m.Publish(context.Background()))
	assert.Empty(t, conn.published)
	assert.Equal(t, StateJoined, m.State())

	m.SetMuted(true)
	m.SetVideoEnabled(false)
	assert.False(t, m.Snapshot().Muted)

	require.NoError(t, m.Teardown())
	assert.Equal(t, 1, conn.Leaves())
}

func TestManager_TeardownIsIdempotent(t *testing.T) {
	devices := &fakeDevices{}
	m, conn, player := joinedManager(t, devices, nil)
	m.AcquireLocalMedia(context.Background())

	require.NoError(t, m.Teardown())
	require.NoError(t, m.Teardown())

	assert.Equal(t, 1, devices.audio.Closed())
	assert.Equal(t, 1, devices.video.Closed())
	assert.Equal(t, 1, conn.Leaves())
	assert.Equal(t, 1, player.closed)
	assert.Equal(t, StateClosed, m.State())
}

func TestManager_TeardownDuringJoinLeavesConnection(t *testing.T) {
	conn := newFakeConnection()
	transport := &fakeTransport{conn: conn, release: make(chan struct{})}
	m := NewManager(Config{Transport: transport})

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Join(context.Background(), testCreds)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return m.State() == StateJoining }, time.Second, time.Millisecond)

	require.NoError(t, m.Teardown())
	close(transport.release)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrJoinCancelled)
	case <-time.After(time.Second):
		t.Fatal("join did not resolve")
	}
	assert.Equal(t, 1, conn.Leaves())
	assert.Equal(t, StateClosed, m.State())
}

func TestManager_JoinAfterTeardownIsCancelled(t *testing.T) {
	transport := &fakeTransport{conn: newFakeConnection()}
	m := NewManager(Config{Transport: transport})
	require.NoError(t, m.Teardown())

	_, err := m.Join(context.Background(), testCreds)
	require.ErrorIs(t, err, ErrJoinCancelled)
	assert.Equal(t, 0, transport.calls)
}

func TestManager_TogglesAreIdempotent(t *testing.T) {
	devices := &fakeDevices{}
	m, _, _ := joinedManager(t, devices, nil)
	m.AcquireLocalMedia(context.Background())

	var changes int
	var mu sync.Mutex
	m.OnChange(func(Snapshot) {
		mu.Lock()
		changes++
		mu.Unlock()
	})

	m.SetMuted(true)
	m.SetMuted(true)
	m.SetVideoEnabled(false)
	m.SetVideoEnabled(false)

	snap := m.Snapshot()
	assert.True(t, snap.Muted)
	assert.False(t, snap.VideoEnabled)
	assert.False(t, devices.audio.enabled)
	assert.False(t, devices.video.enabled)
	mu.Lock()
	assert.Equal(t, 2, changes)
	mu.Unlock()
	require.NoError(t, m.Teardown())
}

func TestManager_RemoteVideoAttachesOnceSurfaceExists(t *testing.T) {
	registry := NewSurfaceRegistry()
	m, conn, _ := joinedManager(t, &fakeDevices{}, registry)

	conn.events <- Event{Type: EventUserPublished, ParticipantID: "2002", Kind: KindVideo}
	require.Eventually(t, func() bool {
		return len(m.Snapshot().RemoteParticipants) == 1
	}, time.Second, time.Millisecond)

	surface := &fakeSurface{rendered: make(chan RemoteTrack, 1)}
	registry.Register("2002", surface)

	select {
	case track := <-surface.rendered:
		assert.Equal(t, "2002", track.ParticipantID())
	case <-time.After(time.Second):
		t.Fatal("remote video was never attached")
	}
	require.NoError(t, m.Teardown())
}

func TestManager_RemoteAudioPlaysWithoutParticipantEntry(t *testing.T) {
	m, conn, player := joinedManager(t, &fakeDevices{}, nil)

	conn.events <- Event{Type: EventUserPublished, ParticipantID: "2002", Kind: KindAudio}
	require.Eventually(t, func() bool { return player.Played() == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, m.Snapshot().RemoteParticipants)
	require.NoError(t, m.Teardown())
}

func TestManager_UnpublishAndLeaveRemoveParticipant(t *testing.T) {
	m, conn, _ := joinedManager(t, &fakeDevices{}, nil)

	conn.events <- Event{Type: EventUserPublished, ParticipantID: "2002", Kind: KindVideo}
	conn.events <- Event{Type: EventUserPublished, ParticipantID: "3003", Kind: KindVideo}
	require.Eventually(t, func() bool {
		return len(m.Snapshot().RemoteParticipants) == 2
	}, time.Second, time.Millisecond)

	conn.events <- Event{Type: EventUserUnpublished, ParticipantID: "2002", Kind: KindVideo}
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"3003"}, m.Snapshot().RemoteParticipants)
	}, time.Second, time.Millisecond)
	assert.True(t, conn.Subscribed("2002/video").isStopped())

	conn.events <- Event{Type: EventUserLeft, ParticipantID: "3003"}
	require.Eventually(t, func() bool {
		return len(m.Snapshot().RemoteParticipants) == 0
	}, time.Second, time.Millisecond)
	require.NoError(t, m.Teardown())
}

func TestManager_TeardownStopsRemoteTracks(t *testing.T) {
	m, conn, _ := joinedManager(t, &fakeDevices{}, nil)
	conn.events <- Event{Type: EventUserPublished, ParticipantID: "2002", Kind: KindVideo}
	require.Eventually(t, func() bool {
		return len(m.Snapshot().RemoteParticipants) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Teardown())
	assert.True(t, conn.Subscribed("2002/video").isStopped())
	assert.Empty(t, m.Snapshot().RemoteParticipants)
}

func TestManager_PublishFailureIsConnectionError(t *testing.T) {
	devices := &fakeDevices{}
	m, conn, _ := joinedManager(t, devices, nil)
	conn.publishErr = errors.New("ice failed")
	m.AcquireLocalMedia(context.Background())

	err := m.Publish(context.Background())
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "publish", connErr.Op)
	require.NoError(t, m.Teardown())
}

func TestManager_AcquireAfterTeardownReleasesTracks(t *testing.T) {
	devices := &fakeDevices{}
	m, _, _ := joinedManager(t, devices, nil)
	require.NoError(t, m.Teardown())

	local := m.AcquireLocalMedia(context.Background())
	assert.Equal(t, DegradationReceiveOnly, local.Degradation)
	assert.Equal(t, 1, devices.audio.Closed())
	assert.Equal(t, 1, devices.video.Closed())
}

func participantsEqual(m *Manager, want ...string) func() bool {
	return func() bool {
		got := m.Snapshot().RemoteParticipants
		if len(want) == 0 {
			return len(got) == 0
		}
		return assert.ObjectsAreEqual(want, got)
	}
}

func TestManager_StalledSubscribeDoesNotHoldUpDepartures(t *testing.T) {
	m, conn, _ := joinedManager(t, &fakeDevices{}, nil)
	conn.stall("stuck")

	conn.events <- Event{Type: EventUserPublished, ParticipantID: "2002", Kind: KindVideo}
	require.Eventually(t, participantsEqual(m, "2002"), time.Second, time.Millisecond)

	conn.events <- Event{Type: EventUserPublished, ParticipantID: "stuck", Kind: KindVideo}
	conn.events <- Event{Type: EventUserLeft, ParticipantID: "2002"}
	require.Eventually(t, participantsEqual(m), time.Second, time.Millisecond)
	assert.True(t, conn.Subscribed("2002/video").isStopped())

	conn.events <- Event{Type: EventUserLeft, ParticipantID: "stuck"}
	select {
	case id := <-conn.abandoned:
		assert.Equal(t, "stuck", id)
	case <-time.After(time.Second):
		t.Fatal("pending subscribe was not cancelled when the participant left")
	}
	require.NoError(t, m.Teardown())
}

func TestManager_SubscribeGivesUpAfterTimeout(t *testing.T) {
	m, conn, _ := joinedManagerWith(t, Config{Devices: &fakeDevices{}, SubscribeTimeout: 20 * time.Millisecond})
	conn.stall("stuck")

	conn.events <- Event{Type: EventUserPublished, ParticipantID: "stuck", Kind: KindVideo}
	select {
	case id := <-conn.abandoned:
		assert.Equal(t, "stuck", id)
	case <-time.After(time.Second):
		t.Fatal("subscribe never timed out")
	}
	assert.Empty(t, m.Snapshot().RemoteParticipants)

	conn.events <- Event{Type: EventUserPublished, ParticipantID: "3003", Kind: KindVideo}
	require.Eventually(t, participantsEqual(m, "3003"), time.Second, time.Millisecond)
	require.NoError(t, m.Teardown())
}

func TestManager_AudioUnpublishKeepsVideoParticipant(t *testing.T) {
	m, conn, player := joinedManager(t, &fakeDevices{}, nil)

	conn.events <- Event{Type: EventUserPublished, ParticipantID: "2002", Kind: KindVideo}
	conn.events <- Event{Type: EventUserPublished, ParticipantID: "2002", Kind: KindAudio}
	require.Eventually(t, func() bool { return player.Played() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, participantsEqual(m, "2002"), time.Second, time.Millisecond)

	conn.events <- Event{Type: EventUserUnpublished, ParticipantID: "2002", Kind: KindAudio}
	require.Eventually(t, func() bool { return conn.Subscribed("2002/audio").isStopped() }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"2002"}, m.Snapshot().RemoteParticipants)
	assert.False(t, conn.Subscribed("2002/video").isStopped())

	conn.events <- Event{Type: EventUserUnpublished, ParticipantID: "2002", Kind: KindVideo}
	require.Eventually(t, participantsEqual(m), time.Second, time.Millisecond)
	assert.True(t, conn.Subscribed("2002/video").isStopped())
	require.NoError(t, m.Teardown())
}

func TestManager_VideoUnpublishKeepsAudioPlaying(t *testing.T) {
	m, conn, player := joinedManager(t, &fakeDevices{}, nil)

	conn.events <- Event{Type: EventUserPublished, ParticipantID: "2002", Kind: KindAudio}
	conn.events <- Event{Type: EventUserPublished, ParticipantID: "2002", Kind: KindVideo}
	require.Eventually(t, func() bool { return player.Played() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, participantsEqual(m, "2002"), time.Second, time.Millisecond)

	conn.events <- Event{Type: EventUserUnpublished, ParticipantID: "2002", Kind: KindVideo}
	require.Eventually(t, participantsEqual(m), time.Second, time.Millisecond)
	assert.False(t, conn.Subscribed("2002/audio").isStopped())

	conn.events <- Event{Type: EventUserLeft, ParticipantID: "2002"}
	require.Eventually(t, func() bool { return conn.Subscribed("2002/audio").isStopped() }, time.Second, time.Millisecond)
	require.NoError(t, m.Teardown())
}

func TestManager_TeardownFromListenerOnEventLoop(t *testing.T) {
	m, conn, _ := joinedManager(t, &fakeDevices{}, nil)
	conn.events <- Event{Type: EventUserPublished, ParticipantID: "2002", Kind: KindVideo}
	require.Eventually(t, participantsEqual(m, "2002"), time.Second, time.Millisecond)

	torn := make(chan error, 1)
	var once sync.Once
	m.OnChange(func(s Snapshot) {
		if s.State == StateJoined && len(s.RemoteParticipants) == 0 {
			once.Do(func() { torn <- m.Teardown() })
		}
	})
	conn.events <- Event{Type: EventUserLeft, ParticipantID: "2002"}

	select {
	case err := <-torn:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("teardown from a listener did not return")
	}
	assert.Equal(t, StateClosed, m.State())
	assert.Equal(t, 1, conn.Leaves())
}
