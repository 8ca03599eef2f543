//go:build !opus

package audio

import (
	"log/slog"

	"github.com/foxseedlab/teleconsult/internal/audio"
)

// Without the opus build tag there is no decoder; the mixer accepts packets
// and never produces PCM.
type noopMixer struct{}

func NewOpusMixer() audio.Mixer {
	slog.Warn("built without opus support; remote audio and local speech will not be decoded")
	return noopMixer{}
}

func (noopMixer) WriteOpusPacket(string, []byte) {}

func (noopMixer) RemoveSource(string) {}

func (noopMixer) ReadMixedPCM([]byte) (int, error) {
	return 0, nil
}

func (noopMixer) Close() {}
