//go:build opus

package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/foxseedlab/teleconsult/internal/audio"
	"github.com/hraban/opus"
)

const samplesPerFrame = audio.FrameBytes / 2

// maxQueuedFrames caps per-source backlog at one second of audio.
const maxQueuedFrames = 50

type source struct {
	decoder *opus.Decoder
	frames  [][]int16
}

// OpusMixer decodes one opus stream per source and sums their frames.
type OpusMixer struct {
	mu      sync.Mutex
	sources map[string]*source
	closed  bool
}

func NewOpusMixer() audio.Mixer {
	return &OpusMixer{sources: make(map[string]*source)}
}

func (m *OpusMixer) WriteOpusPacket(sourceID string, packet []byte) {
	if len(packet) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	src, ok := m.sources[sourceID]
	if !ok {
		dec, err := opus.NewDecoder(audio.SampleRate, audio.Channels)
		if err != nil {
			slog.Warn("failed to create opus decoder", "source_id", sourceID, "error", err)
			return
		}
		src = &source{decoder: dec}
		m.sources[sourceID] = src
	}

	pcm := make([]int16, samplesPerFrame)
	n, err := src.decoder.Decode(packet, pcm)
	if err != nil || n == 0 {
		return
	}
	frame := pcm[:min(n*audio.Channels, samplesPerFrame)]
	if len(src.frames) >= maxQueuedFrames {
		src.frames = src.frames[1:]
	}
	src.frames = append(src.frames, frame)
}

func (m *OpusMixer) RemoveSource(sourceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	delete(m.sources, sourceID)
}

// ReadMixedPCM mixes the oldest queued frame of each source into buf. It
// returns 0 when no source has a frame.
func (m *OpusMixer) ReadMixedPCM(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, nil
	}

	var mixed []int32
	for _, src := range m.sources {
		if len(src.frames) == 0 {
			continue
		}
		frame := src.frames[0]
		src.frames = src.frames[1:]
		if mixed == nil {
			mixed = make([]int32, samplesPerFrame)
		}
		for i, s := range frame {
			mixed[i] += int32(s)
		}
	}
	if mixed == nil {
		return 0, nil
	}

	n := min(len(buf)/2, samplesPerFrame)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(clampPCM(mixed[i])))
	}
	return n * 2, nil
}

func clampPCM(v int32) int16 {
	return int16(max(-32768, min(32767, v)))
}

func (m *OpusMixer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sources = nil
}
