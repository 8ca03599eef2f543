package device

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/teleconsult/internal/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
)

// VideoRecorder keeps one IVF surface per remote participant listed in the
// latest manager snapshot. With an empty directory frames are read and
// discarded.
type VideoRecorder struct {
	dir      string
	registry *media.SurfaceRegistry
	now      func() time.Time

	mu       sync.Mutex
	surfaces map[string]*ivfSurface
	closed   bool
}

func NewVideoRecorder(dir string) *VideoRecorder {
	return &VideoRecorder{
		dir:      dir,
		registry: media.NewSurfaceRegistry(),
		now:      time.Now,
		surfaces: make(map[string]*ivfSurface),
	}
}

func (r *VideoRecorder) Registry() *media.SurfaceRegistry {
	return r.registry
}

// Sync creates surfaces for new participants and closes those that left.
func (r *VideoRecorder) Sync(s media.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	present := make(map[string]struct{}, len(s.RemoteParticipants))
	for _, id := range s.RemoteParticipants {
		present[id] = struct{}{}
		if _, ok := r.surfaces[id]; ok {
			continue
		}
		surface, err := r.newSurface(id)
		if err != nil {
			slog.Warn("failed to create remote video surface", "participant_id", id, "error", err)
			continue
		}
		r.surfaces[id] = surface
		r.registry.Register(id, surface)
	}
	for id, surface := range r.surfaces {
		if _, ok := present[id]; ok {
			continue
		}
		r.registry.Unregister(id)
		delete(r.surfaces, id)
		surface.close()
	}
}

func (r *VideoRecorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, surface := range r.surfaces {
		r.registry.Unregister(id)
		surface.close()
	}
	r.surfaces = map[string]*ivfSurface{}
}

func (r *VideoRecorder) newSurface(participantID string) (*ivfSurface, error) {
	if r.dir == "" {
		w, err := ivfwriter.NewWith(io.Discard)
		if err != nil {
			return nil, err
		}
		return &ivfSurface{participantID: participantID, writer: w}, nil
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s-%s.ivf", safeFileName(participantID), r.now().UTC().Format("20060102T150405.000"))
	path := filepath.Join(r.dir, name)
	w, err := ivfwriter.New(path)
	if err != nil {
		return nil, err
	}
	slog.Info("recording remote video", "participant_id", participantID, "path", path)
	return &ivfSurface{participantID: participantID, writer: w, path: path}, nil
}

type ivfSurface struct {
	participantID string
	path          string

	mu     sync.Mutex
	writer *ivfwriter.IVFWriter
	closed bool
}

// Render copies the track's RTP into the IVF file until the track ends.
func (s *ivfSurface) Render(track media.RemoteTrack) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("surface for %s already closed", s.participantID)
	}
	go func() {
		for {
			pkt, err := track.ReadRTP()
			if err != nil {
				return
			}
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			err = s.writer.WriteRTP(pkt)
			s.mu.Unlock()
			if err != nil {
				slog.Debug("dropping remote video packet", "participant_id", s.participantID, "error", err)
			}
		}
	}()
	return nil
}

func (s *ivfSurface) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if err := s.writer.Close(); err != nil {
		slog.Warn("failed to close remote video file", "participant_id", s.participantID, "path", s.path, "error", err)
	}
}

func safeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
