package device

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/teleconsult/internal/audio"
	"github.com/foxseedlab/teleconsult/internal/media"
)

var errPlayerClosed = errors.New("player closed")

var _ media.Player = (*PCMPlayer)(nil)

// PCMPlayer mixes every remote audio track into one PCM stream and writes a
// frame to the sink every 20ms while any source has audio.
type PCMPlayer struct {
	mixer  audio.Mixer
	sink   io.Writer
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewPCMPlayer(mixer audio.Mixer, sink io.Writer) *PCMPlayer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &PCMPlayer{
		mixer:  mixer,
		sink:   sink,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.mixLoop(ctx)
	return p
}

// Play starts reading the track in the background. The participant's source
// is dropped from the mix when the track ends.
func (p *PCMPlayer) Play(track media.RemoteTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPlayerClosed
	}
	go func() {
		sourceID := track.ParticipantID()
		for {
			pkt, err := track.ReadRTP()
			if err != nil {
				p.mixer.RemoveSource(sourceID)
				slog.Debug("remote audio ended", "participant_id", sourceID, "reason", err.Error())
				return
			}
			p.mixer.WriteOpusPacket(sourceID, pkt.Payload)
		}
	}()
	return nil
}

func (p *PCMPlayer) mixLoop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()
	buf := make([]byte, audio.FrameBytes)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := p.mixer.ReadMixedPCM(buf)
		if err != nil || n == 0 {
			continue
		}
		if _, err := p.sink.Write(buf[:n]); err != nil {
			slog.Warn("remote audio sink write failed", "error", err)
			return
		}
	}
}

// Close stops mixing and closes the sink when it is closable. Tracks are
// stopped by their owner; Close does not wait for their readers.
func (p *PCMPlayer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	<-p.done
	p.mixer.Close()
	if c, ok := p.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
