package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/foxseedlab/teleconsult/internal/audio"
	"github.com/foxseedlab/teleconsult/internal/media"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	microphoneSourceID = "microphone"
	oggPageDuration    = 20 * time.Millisecond
)

var opusTagsMagic = []byte("OpusTags")

// microphone replays an Ogg/Opus file written with one packet per page
// (ffmpeg -page_duration 20000). Every sent packet is also decoded and
// published as PCM for speech recognition.
type microphone struct {
	file   *os.File
	reader *oggreader.OggReader
	mixer  audio.Mixer
	pcm    *audio.Broadcaster
}

func openMicrophone(path, streamID string, mixers audio.MixerFactory, pcm *audio.Broadcaster) (*fileTrack, error) {
	if path == "" {
		return nil, ErrNoMicrophone
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open microphone source: %w", err)
	}
	reader, header, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read microphone source: %w", err)
	}
	if header.SampleRate == 0 {
		_ = f.Close()
		return nil, errors.New("microphone source has no sample rate")
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create microphone track: %w", err)
	}

	mic := &microphone{file: f, reader: reader, pcm: pcm}
	if mixers != nil && pcm != nil {
		mic.mixer = mixers()
	}
	return startFileTrack(media.KindAudio, local, closerFunc(mic.close), mic.pump), nil
}

func (m *microphone) pump(ctx context.Context, t *fileTrack) error {
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()
	pcmBuf := make([]byte, audio.FrameBytes)
	var lastGranule uint64

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		page, header, err := m.reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if err := m.rewind(); err != nil {
				return err
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			return fmt.Errorf("parse microphone page: %w", err)
		}
		if bytes.HasPrefix(page, opusTagsMagic) {
			continue
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		if !t.enabled.Load() {
			continue
		}

		duration := time.Duration(samples) * time.Second / audio.SampleRate
		if err := t.local.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
			return fmt.Errorf("write microphone sample: %w", err)
		}
		m.publishPCM(page, pcmBuf)
	}
}

func (m *microphone) publishPCM(packet, buf []byte) {
	if m.mixer == nil {
		return
	}
	m.mixer.WriteOpusPacket(microphoneSourceID, packet)
	n, err := m.mixer.ReadMixedPCM(buf)
	if err != nil || n == 0 {
		return
	}
	frame := make([]byte, n)
	copy(frame, buf[:n])
	m.pcm.Publish(frame)
}

func (m *microphone) rewind() error {
	if _, err := m.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind microphone source: %w", err)
	}
	reader, _, err := oggreader.NewWith(m.file)
	if err != nil {
		return fmt.Errorf("reread microphone source: %w", err)
	}
	m.reader = reader
	return nil
}

func (m *microphone) close() error {
	if m.mixer != nil {
		m.mixer.Close()
	}
	return m.file.Close()
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
