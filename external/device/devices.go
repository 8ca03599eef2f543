package device

import (
	"context"

	"github.com/foxseedlab/teleconsult/internal/audio"
	"github.com/foxseedlab/teleconsult/internal/media"
	"golang.org/x/sync/errgroup"
)

const defaultStreamID = "teleconsult"

var _ media.Devices = (*FileDevices)(nil)

type Config struct {
	MicrophonePath string
	CameraPath     string
	StreamID       string
	// Mixers and PCM are optional; without them the microphone is sent but
	// not decoded for speech recognition.
	Mixers audio.MixerFactory
	PCM    *audio.Broadcaster
}

type FileDevices struct {
	cfg Config
}

func NewFileDevices(cfg Config) *FileDevices {
	if cfg.StreamID == "" {
		cfg.StreamID = defaultStreamID
	}
	return &FileDevices{cfg: cfg}
}

// OpenCameraAndMicrophone opens both sources or neither.
func (d *FileDevices) OpenCameraAndMicrophone(ctx context.Context) (media.LocalTrack, media.LocalTrack, error) {
	var mic, cam *fileTrack
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		mic, err = openMicrophone(d.cfg.MicrophonePath, d.cfg.StreamID, d.cfg.Mixers, d.cfg.PCM)
		return err
	})
	g.Go(func() error {
		var err error
		cam, err = openCamera(d.cfg.CameraPath, d.cfg.StreamID)
		return err
	})
	if err := g.Wait(); err != nil {
		closeTracks(mic, cam)
		return nil, nil, err
	}
	return mic, cam, nil
}

func (d *FileDevices) OpenMicrophone(ctx context.Context) (media.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mic, err := openMicrophone(d.cfg.MicrophonePath, d.cfg.StreamID, d.cfg.Mixers, d.cfg.PCM)
	if err != nil {
		return nil, err
	}
	return mic, nil
}
