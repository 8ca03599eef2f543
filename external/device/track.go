// Package device provides file-backed capture devices for a headless agent: a
// looping Ogg/Opus file stands in for the microphone and a looping IVF file
// for the camera. Remote media is written back to disk.
package device

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/foxseedlab/teleconsult/internal/media"
	"github.com/pion/webrtc/v4"
)

var (
	ErrNoMicrophone = errors.New("no microphone source configured")
	ErrNoCamera     = errors.New("no camera source configured")
)

// fileTrack paces samples from a file into a WebRTC track until closed.
type fileTrack struct {
	kind    media.Kind
	local   *webrtc.TrackLocalStaticSample
	file    io.Closer
	enabled atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func startFileTrack(kind media.Kind, local *webrtc.TrackLocalStaticSample, file io.Closer, pump func(ctx context.Context, t *fileTrack) error) *fileTrack {
	ctx, cancel := context.WithCancel(context.Background())
	t := &fileTrack{
		kind:   kind,
		local:  local,
		file:   file,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.enabled.Store(true)
	go func() {
		defer close(t.done)
		if err := pump(ctx, t); err != nil {
			slog.Error("local track stopped", "kind", kind, "error", err)
		}
	}()
	return t
}

func (t *fileTrack) Kind() media.Kind {
	return t.kind
}

// SetEnabled pauses or resumes sending. A disabled track keeps its file open.
func (t *fileTrack) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

func (t *fileTrack) TrackLocal() webrtc.TrackLocal {
	return t.local
}

func (t *fileTrack) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		<-t.done
		t.closeErr = t.file.Close()
	})
	return t.closeErr
}

func closeTracks(tracks ...*fileTrack) {
	for _, t := range tracks {
		if t == nil {
			continue
		}
		if err := t.Close(); err != nil {
			slog.Warn("failed to release local device", "kind", t.kind, "error", err)
		}
	}
}
