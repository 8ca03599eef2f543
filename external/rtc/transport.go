// Package rtc joins a call channel through a websocket signaling server and
// carries the media over pion WebRTC peer connections: one send-only
// connection for the local tracks and one receive-only connection per remote
// subscription.
package rtc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/teleconsult/internal/media"
	"github.com/pion/webrtc/v4"
)

const defaultJoinTimeout = 20 * time.Second

var _ media.Transport = (*Transport)(nil)

type Config struct {
	SignalingURL string
	STUNServers  []string
	JoinTimeout  time.Duration
}

type Transport struct {
	signalingURL string
	iceServers   []webrtc.ICEServer
	joinTimeout  time.Duration
}

func NewTransport(cfg Config) *Transport {
	var servers []webrtc.ICEServer
	if len(cfg.STUNServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	}
	timeout := cfg.JoinTimeout
	if timeout <= 0 {
		timeout = defaultJoinTimeout
	}
	return &Transport{signalingURL: cfg.SignalingURL, iceServers: servers, joinTimeout: timeout}
}

// Join opens the signaling channel and admits this agent into the channel
// named by creds. The returned connection owns the signaling socket.
func (t *Transport) Join(ctx context.Context, creds media.Credentials) (media.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, t.joinTimeout)
	defer cancel()

	sig, err := dialSignaling(ctx, t.signalingURL)
	if err != nil {
		return nil, err
	}
	var joined joinedReply
	err = sig.request(ctx, msgJoin, joinRequest{AppID: creds.AppID, Channel: creds.ChannelName, Token: creds.Token}, &joined)
	if err != nil {
		_ = sig.close()
		return nil, err
	}
	if joined.UID == "" {
		_ = sig.close()
		return nil, fmt.Errorf("signaling joined reply carried no uid")
	}
	slog.Info("joined rtc channel", "channel_name", creds.ChannelName, "local_identity", joined.UID)
	return newConnection(sig, joined.UID, webrtc.Configuration{ICEServers: t.iceServers}), nil
}
