package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/teleconsult/internal/media"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const (
	leaveNotifyTimeout = 2 * time.Second
	rtcpBufferSize     = 1500
)

var _ media.Connection = (*Connection)(nil)

// TrackSource is implemented by local tracks that can be sent over WebRTC.
type TrackSource interface {
	TrackLocal() webrtc.TrackLocal
}

type Connection struct {
	sig           *signalingClient
	localIdentity string
	config        webrtc.Configuration
	events        chan media.Event

	mu     sync.Mutex
	peers  map[*webrtc.PeerConnection]struct{}
	closed bool

	leaveOnce sync.Once
	leaveErr  error
}

func newConnection(sig *signalingClient, localIdentity string, config webrtc.Configuration) *Connection {
	c := &Connection{
		sig:           sig,
		localIdentity: localIdentity,
		config:        config,
		events:        make(chan media.Event, signalingEventBuffer),
		peers:         make(map[*webrtc.PeerConnection]struct{}),
	}
	go c.forwardEvents()
	return c
}

func (c *Connection) LocalIdentity() string {
	return c.localIdentity
}

func (c *Connection) Events() <-chan media.Event {
	return c.events
}

// Publish sends the local tracks on a single send-only peer connection.
func (c *Connection) Publish(ctx context.Context, tracks []media.LocalTrack) error {
	pc, err := c.newPeer()
	if err != nil {
		return err
	}
	for _, t := range tracks {
		src, ok := t.(TrackSource)
		if !ok {
			c.dropPeer(pc)
			return fmt.Errorf("%s track cannot be sent over webrtc", t.Kind())
		}
		tr, err := pc.AddTransceiverFromTrack(src.TrackLocal(), webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendonly})
		if err != nil {
			c.dropPeer(pc)
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		go drainRTCP(tr.Sender())
	}

	err = negotiate(ctx, pc, func(offer string) (string, error) {
		var ans answerReply
		if err := c.sig.request(ctx, msgPublish, publishRequest{SDP: offer}, &ans); err != nil {
			return "", err
		}
		return ans.SDP, nil
	})
	if err != nil {
		c.dropPeer(pc)
		return err
	}
	slog.Info("local tracks published", "local_identity", c.localIdentity, "track_count", len(tracks))
	return nil
}

// Subscribe opens a receive-only peer connection for one remote stream and
// waits until its first track arrives.
func (c *Connection) Subscribe(ctx context.Context, participantID string, kind media.Kind) (media.RemoteTrack, error) {
	pc, err := c.newPeer()
	if err != nil {
		return nil, err
	}
	if _, err := pc.AddTransceiverFromKind(codecType(kind), webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		c.dropPeer(pc)
		return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
	}
	arrived := make(chan *webrtc.TrackRemote, 1)
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		select {
		case arrived <- track:
		default:
		}
	})

	err = negotiate(ctx, pc, func(offer string) (string, error) {
		var ans answerReply
		req := subscribeRequest{UID: participantID, Kind: string(kind), SDP: offer}
		if err := c.sig.request(ctx, msgSubscribe, req, &ans); err != nil {
			return "", err
		}
		return ans.SDP, nil
	})
	if err != nil {
		c.dropPeer(pc)
		return nil, err
	}

	select {
	case track := <-arrived:
		return &remoteTrack{conn: c, pc: pc, track: track, participantID: participantID, kind: kind}, nil
	case <-ctx.Done():
		c.dropPeer(pc)
		return nil, ctx.Err()
	}
}

// Leave tells the server we are going, closes every peer connection and the
// signaling socket. Later calls return the first result.
func (c *Connection) Leave() error {
	c.leaveOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), leaveNotifyTimeout)
		defer cancel()
		if err := c.sig.notify(ctx, msgLeave); err != nil {
			slog.Debug("leave notification not sent", "error", err)
		}

		c.mu.Lock()
		c.closed = true
		peers := c.peers
		c.peers = map[*webrtc.PeerConnection]struct{}{}
		c.mu.Unlock()

		var errs []error
		for pc := range peers {
			errs = append(errs, pc.Close())
		}
		errs = append(errs, c.sig.close())
		c.leaveErr = errors.Join(errs...)
		slog.Info("left rtc channel", "local_identity", c.localIdentity)
	})
	return c.leaveErr
}

func (c *Connection) newPeer() (*webrtc.PeerConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errSignalingClosed
	}
	pc, err := webrtc.NewPeerConnection(c.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	c.peers[pc] = struct{}{}
	return pc, nil
}

func (c *Connection) dropPeer(pc *webrtc.PeerConnection) {
	c.mu.Lock()
	delete(c.peers, pc)
	c.mu.Unlock()
	if err := pc.Close(); err != nil {
		slog.Debug("peer connection close", "error", err)
	}
}

func (c *Connection) forwardEvents() {
	defer close(c.events)
	for msg := range c.sig.events {
		ev, ok := toMediaEvent(msg)
		if !ok {
			slog.Debug("ignoring signaling event", "type", msg.Type)
			continue
		}
		select {
		case c.events <- ev:
		case <-c.sig.done:
			return
		}
	}
}

func toMediaEvent(msg envelope) (media.Event, bool) {
	var typ media.EventType
	switch msg.Type {
	case msgPublished:
		typ = media.EventUserPublished
	case msgUnpublished:
		typ = media.EventUserUnpublished
	case msgUserLeft:
		typ = media.EventUserLeft
	default:
		return media.Event{}, false
	}
	var body userEvent
	if err := json.Unmarshal(msg.Data, &body); err != nil || body.UID == "" {
		return media.Event{}, false
	}
	return media.Event{Type: typ, ParticipantID: body.UID, Kind: media.Kind(body.Kind)}, true
}

// negotiate runs one offer/answer exchange with non-trickle ICE.
func negotiate(ctx context.Context, pc *webrtc.PeerConnection, exchange func(offer string) (string, error)) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	answer, err := exchange(pc.LocalDescription().SDP)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, rtcpBufferSize)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func codecType(kind media.Kind) webrtc.RTPCodecType {
	if kind == media.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

type remoteTrack struct {
	conn          *Connection
	pc            *webrtc.PeerConnection
	track         *webrtc.TrackRemote
	participantID string
	kind          media.Kind

	stopOnce sync.Once
}

func (t *remoteTrack) ParticipantID() string { return t.participantID }
func (t *remoteTrack) Kind() media.Kind      { return t.kind }

func (t *remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := t.track.ReadRTP()
	return pkt, err
}

func (t *remoteTrack) Stop() error {
	t.stopOnce.Do(func() {
		t.conn.dropPeer(t.pc)
	})
	return nil
}
