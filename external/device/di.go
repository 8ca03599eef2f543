package device

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/foxseedlab/teleconsult/internal/audio"
	"github.com/foxseedlab/teleconsult/internal/config"
	"github.com/foxseedlab/teleconsult/internal/media"
	"github.com/samber/do/v2"
)

// RegisterDI provides the microphone PCM broadcaster and the remote video
// recorder as singletons, and one set of devices and player per call.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*audio.Broadcaster, error) {
		return audio.NewBroadcaster(), nil
	})
	do.Provide(injector, func(i do.Injector) (audio.PCMSource, error) {
		return do.MustInvoke[*audio.Broadcaster](i), nil
	})
	do.ProvideTransient(injector, func(i do.Injector) (media.Devices, error) {
		c := do.MustInvoke[*config.Config](i)
		mixers, err := do.Invoke[audio.MixerFactory](i)
		if err != nil {
			return nil, err
		}
		return NewFileDevices(Config{
			MicrophonePath: c.MicrophoneSourcePath,
			CameraPath:     c.CameraSourcePath,
			Mixers:         mixers,
			PCM:            do.MustInvoke[*audio.Broadcaster](i),
		}), nil
	})
	do.ProvideTransient(injector, func(i do.Injector) (media.Player, error) {
		c := do.MustInvoke[*config.Config](i)
		mixers, err := do.Invoke[audio.MixerFactory](i)
		if err != nil {
			return nil, err
		}
		sink, err := openAudioSink(c.RemoteMediaDir, time.Now())
		if err != nil {
			return nil, err
		}
		return NewPCMPlayer(mixers(), sink), nil
	})
	do.Provide(injector, func(i do.Injector) (*VideoRecorder, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewVideoRecorder(c.RemoteMediaDir), nil
	})
	do.Provide(injector, func(i do.Injector) (media.SurfaceResolver, error) {
		return do.MustInvoke[*VideoRecorder](i).Registry(), nil
	})
}

func openAudioSink(dir string, now time.Time) (io.Writer, error) {
	if dir == "" {
		return io.Discard, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create remote media dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("remote-audio-%s.pcm", now.UTC().Format("20060102T150405")))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create remote audio file: %w", err)
	}
	return f, nil
}
