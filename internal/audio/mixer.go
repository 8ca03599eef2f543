package audio

import "time"

// PCM produced by mixers is 48 kHz interleaved stereo, little-endian int16.
const (
	SampleRate    = 48000
	Channels      = 2
	FrameDuration = 20 * time.Millisecond
	FrameBytes    = SampleRate * Channels * 2 * int(FrameDuration/time.Millisecond) / 1000
)

// Mixer decodes opus packets per source and mixes one frame from every source
// on each read.
type Mixer interface {
	WriteOpusPacket(sourceID string, opus []byte)
	RemoveSource(sourceID string)
	ReadMixedPCM(buf []byte) (int, error)
	Close()
}

type MixerFactory func() Mixer
