package rtc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/foxseedlab/teleconsult/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signalingServer struct {
	t      *testing.T
	handle func(ctx context.Context, conn *websocket.Conn, msg envelope)

	mu       sync.Mutex
	received []envelope
}

func (s *signalingServer) start() string {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg envelope
			if !assert.NoError(s.t, json.Unmarshal(data, &msg)) {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, msg)
			s.mu.Unlock()
			if msg.Type == msgLeave {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			s.handle(ctx, conn, msg)
		}
	}))
	s.t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (s *signalingServer) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.received))
	for _, m := range s.received {
		out = append(out, m.Type)
	}
	return out
}

func send(ctx context.Context, conn *websocket.Conn, msg envelope) {
	data, _ := json.Marshal(msg)
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func raw(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

func joinHandler(ctx context.Context, conn *websocket.Conn, msg envelope) {
	switch msg.Type {
	case msgJoin:
		var req joinRequest
		_ = json.Unmarshal(msg.Data, &req)
		if req.Token != "valid" {
			send(ctx, conn, envelope{ID: msg.ID, Type: msgError, Error: "token expired"})
			return
		}
		send(ctx, conn, envelope{ID: msg.ID, Type: msgJoined, Data: raw(joinedReply{UID: "agent-7"})})
		send(ctx, conn, envelope{Type: msgPublished, Data: raw(userEvent{UID: "patient-1", Kind: "video"})})
		send(ctx, conn, envelope{Type: "volume-indicator", Data: raw(map[string]int{"level": 3})})
		send(ctx, conn, envelope{Type: msgUserLeft, Data: raw(userEvent{UID: "patient-1"})})
	case msgPublish:
		send(ctx, conn, envelope{ID: msg.ID, Type: msgError, Error: "publish refused"})
	}
}

func TestTransport_JoinSurfacesEventsAndLeaves(t *testing.T) {
	server := &signalingServer{t: t, handle: joinHandler}
	transport := NewTransport(Config{SignalingURL: server.start(), JoinTimeout: 5 * time.Second})

	conn, err := transport.Join(context.Background(), media.Credentials{AppID: "app", ChannelName: "room-1", Token: "valid"})
	require.NoError(t, err)
	assert.Equal(t, "agent-7", conn.LocalIdentity())

	var got []media.Event
	for len(got) < 2 {
		select {
		case ev := <-conn.Events():
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("events not delivered, got %v", got)
		}
	}
	assert.Equal(t, []media.Event{
		{Type: media.EventUserPublished, ParticipantID: "patient-1", Kind: media.KindVideo},
		{Type: media.EventUserLeft, ParticipantID: "patient-1"},
	}, got)

	require.NoError(t, conn.Leave())
	require.NoError(t, conn.Leave())
	require.Eventually(t, func() bool {
		types := server.types()
		return len(types) == 2 && types[1] == msgLeave
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case _, ok := <-conn.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after leave")
	}
}

func TestTransport_JoinRejected(t *testing.T) {
	server := &signalingServer{t: t, handle: joinHandler}
	transport := NewTransport(Config{SignalingURL: server.start(), JoinTimeout: 5 * time.Second})

	_, err := transport.Join(context.Background(), media.Credentials{AppID: "app", ChannelName: "room-1", Token: "stale"})
	var sigErr *SignalingError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, "token expired", sigErr.Message)
	assert.Equal(t, msgJoin, sigErr.Type)
}

func TestTransport_JoinTimesOutWithoutReply(t *testing.T) {
	server := &signalingServer{t: t, handle: func(context.Context, *websocket.Conn, envelope) {}}
	transport := NewTransport(Config{SignalingURL: server.start(), JoinTimeout: 100 * time.Millisecond})

	_, err := transport.Join(context.Background(), media.Credentials{Token: "valid"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSignalingClient_CorrelatesOutOfOrderReplies(t *testing.T) {
	var mu sync.Mutex
	var held []envelope
	server := &signalingServer{t: t, handle: func(ctx context.Context, conn *websocket.Conn, msg envelope) {
		mu.Lock()
		held = append(held, msg)
		ready := len(held) == 2
		batch := append([]envelope(nil), held...)
		mu.Unlock()
		if !ready {
			return
		}
		for i := len(batch) - 1; i >= 0; i-- {
			var req subscribeRequest
			_ = json.Unmarshal(batch[i].Data, &req)
			send(ctx, conn, envelope{ID: batch[i].ID, Type: msgAnswer, Data: raw(answerReply{SDP: "answer-for-" + req.UID})})
		}
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sig, err := dialSignaling(ctx, server.start())
	require.NoError(t, err)
	defer sig.close()

	var wg sync.WaitGroup
	answers := make([]string, 2)
	for i, uid := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var ans answerReply
			assert.NoError(t, sig.request(ctx, msgSubscribe, subscribeRequest{UID: uid}, &ans))
			answers[i] = ans.SDP
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"answer-for-a", "answer-for-b"}, answers)
}

type sampleTrack struct {
	track *webrtc.TrackLocalStaticSample
}

func (s *sampleTrack) Kind() media.Kind              { return media.KindAudio }
func (s *sampleTrack) SetEnabled(bool)               {}
func (s *sampleTrack) Close() error                  { return nil }
func (s *sampleTrack) TrackLocal() webrtc.TrackLocal { return s.track }

type plainTrack struct{}

func (plainTrack) Kind() media.Kind { return media.KindVideo }
func (plainTrack) SetEnabled(bool)  {}
func (plainTrack) Close() error     { return nil }

func TestConnection_PublishRejectedByServer(t *testing.T) {
	server := &signalingServer{t: t, handle: joinHandler}
	transport := NewTransport(Config{SignalingURL: server.start(), JoinTimeout: 5 * time.Second})
	conn, err := transport.Join(context.Background(), media.Credentials{Token: "valid"})
	require.NoError(t, err)
	defer conn.Leave()

	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "agent-7")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = conn.Publish(ctx, []media.LocalTrack{&sampleTrack{track: local}})
	var sigErr *SignalingError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, "publish refused", sigErr.Message)
}

func TestConnection_PublishRejectsTracksWithoutWebRTCSource(t *testing.T) {
	server := &signalingServer{t: t, handle: joinHandler}
	transport := NewTransport(Config{SignalingURL: server.start(), JoinTimeout: 5 * time.Second})
	conn, err := transport.Join(context.Background(), media.Credentials{Token: "valid"})
	require.NoError(t, err)
	defer conn.Leave()

	err = conn.Publish(context.Background(), []media.LocalTrack{plainTrack{}})
	require.Error(t, err)
	assert.NotContains(t, server.types(), msgPublish)
}

func TestToMediaEvent_IgnoresEventsWithoutParticipant(t *testing.T) {
	_, ok := toMediaEvent(envelope{Type: msgPublished, Data: raw(userEvent{Kind: "audio"})})
	assert.False(t, ok)
	ev, ok := toMediaEvent(envelope{Type: msgUnpublished, Data: raw(userEvent{UID: "p", Kind: "audio"})})
	require.True(t, ok)
	assert.Equal(t, media.Event{Type: media.EventUserUnpublished, ParticipantID: "p", Kind: media.KindAudio}, ev)
}

func floodHandler(count int) func(context.Context, *websocket.Conn, envelope) {
	return func(ctx context.Context, conn *websocket.Conn, msg envelope) {
		if msg.Type != "flood" {
			return
		}
		for i := 0; i < count; i++ {
			send(ctx, conn, envelope{Type: msgPublished, Data: raw(userEvent{UID: "p" + strconv.Itoa(i), Kind: "video"})})
		}
	}
}

func TestSignalingClient_KeepsEveryEventWhenConsumerIsSlow(t *testing.T) {
	const total = signalingEventBuffer*3 + 5
	server := &signalingServer{t: t, handle: floodHandler(total)}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sig, err := dialSignaling(ctx, server.start())
	require.NoError(t, err)
	defer sig.close()

	require.NoError(t, sig.notify(ctx, "flood"))
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < total; i++ {
		select {
		case msg := <-sig.events:
			var body userEvent
			require.NoError(t, json.Unmarshal(msg.Data, &body))
			require.Equal(t, "p"+strconv.Itoa(i), body.UID)
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d never delivered", i)
		}
	}
}

func TestSignalingClient_CloseWithFullEventBuffer(t *testing.T) {
	server := &signalingServer{t: t, handle: floodHandler(signalingEventBuffer * 2)}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sig, err := dialSignaling(ctx, server.start())
	require.NoError(t, err)

	require.NoError(t, sig.notify(ctx, "flood"))
	require.Eventually(t, func() bool { return len(sig.events) == signalingEventBuffer }, 2*time.Second, 5*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = sig.close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("close hung behind a full event buffer")
	}
}
