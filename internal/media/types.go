// Package media owns the real-time session of one call: the transport
// connection, the local capture tracks and the remote participants' media.
package media

import (
	"context"

	"github.com/pion/rtp"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Credentials are issued by the portal backend once per call attempt.
type Credentials struct {
	AppID       string
	ChannelName string
	Token       string
}

type JoinResult struct {
	LocalIdentity string
}

type EventType string

const (
	EventUserPublished   EventType = "user-published"
	EventUserUnpublished EventType = "user-unpublished"
	EventUserLeft        EventType = "user-left"
)

type Event struct {
	Type          EventType
	ParticipantID string
	Kind          Kind
}

// LocalTrack is a capture device handle. Close releases the device.
type LocalTrack interface {
	Kind() Kind
	SetEnabled(enabled bool)
	Close() error
}

// RemoteTrack is a subscribed stream from one participant. ReadRTP returns an
// error once Stop has been called or the stream ended.
type RemoteTrack interface {
	ParticipantID() string
	Kind() Kind
	ReadRTP() (*rtp.Packet, error)
	Stop() error
}

type Transport interface {
	Join(ctx context.Context, creds Credentials) (Connection, error)
}

// Connection is a joined channel. Events is closed when the connection is
// left or dropped.
type Connection interface {
	LocalIdentity() string
	Publish(ctx context.Context, tracks []LocalTrack) error
	Subscribe(ctx context.Context, participantID string, kind Kind) (RemoteTrack, error)
	Events() <-chan Event
	Leave() error
}

// Devices opens local capture devices. Implementations close anything they
// opened when they return an error.
type Devices interface {
	OpenCameraAndMicrophone(ctx context.Context) (audio LocalTrack, video LocalTrack, err error)
	OpenMicrophone(ctx context.Context) (LocalTrack, error)
}

// Player plays remote audio without a visible surface.
type Player interface {
	Play(track RemoteTrack) error
	Close() error
}

// Surface renders one participant's remote video.
type Surface interface {
	Render(track RemoteTrack) error
}

// SurfaceResolver looks up the surface for a participant. Surfaces are created
// by the presentation layer after the participant shows up in a snapshot, so a
// lookup can miss for a while.
type SurfaceResolver interface {
	Surface(participantID string) (Surface, bool)
}

type State string

const (
	StateIdle    State = "idle"
	StateJoining State = "joining"
	StateJoined  State = "joined"
	StateClosed  State = "closed"
)

type Degradation string

const (
	DegradationNone        Degradation = "none"
	DegradationAudioOnly   Degradation = "audio-only"
	DegradationReceiveOnly Degradation = "receive-only"
)

type LocalMedia struct {
	Audio       LocalTrack
	Video       LocalTrack
	Degradation Degradation
}

// Snapshot is a read-only copy of the manager state for the presentation layer.
type Snapshot struct {
	State              State       `json:"state"`
	LocalIdentity      string      `json:"localIdentity,omitempty"`
	RemoteParticipants []string    `json:"remoteParticipants"`
	HasAudio           bool        `json:"hasAudio"`
	HasVideo           bool        `json:"hasVideo"`
	Muted              bool        `json:"muted"`
	VideoEnabled       bool        `json:"videoEnabled"`
	Degradation        Degradation `json:"degradation,omitempty"`
}
