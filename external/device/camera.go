package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/foxseedlab/teleconsult/internal/media"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
)

const defaultFrameInterval = time.Second / 30

type camera struct {
	file     *os.File
	reader   *ivfreader.IVFReader
	interval time.Duration
}

func openCamera(path, streamID string) (*fileTrack, error) {
	if path == "" {
		return nil, ErrNoCamera
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open camera source: %w", err)
	}
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read camera source: %w", err)
	}
	mimeType, err := videoMimeType(header.FourCC)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType}, "video", streamID)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create camera track: %w", err)
	}

	cam := &camera{file: f, reader: reader, interval: frameInterval(header)}
	return startFileTrack(media.KindVideo, local, f, cam.pump), nil
}

func (c *camera) pump(ctx context.Context, t *fileTrack) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		frame, _, err := c.reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if err := c.rewind(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("parse camera frame: %w", err)
		}
		if !t.enabled.Load() {
			continue
		}
		if err := t.local.WriteSample(pionmedia.Sample{Data: frame, Duration: c.interval}); err != nil {
			return fmt.Errorf("write camera sample: %w", err)
		}
	}
}

func (c *camera) rewind() error {
	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind camera source: %w", err)
	}
	reader, _, err := ivfreader.NewWith(c.file)
	if err != nil {
		return fmt.Errorf("reread camera source: %w", err)
	}
	c.reader = reader
	return nil
}

func videoMimeType(fourCC string) (string, error) {
	switch fourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	case "AV01":
		return webrtc.MimeTypeAV1, nil
	default:
		return "", fmt.Errorf("unsupported camera codec %q", fourCC)
	}
}

func frameInterval(h *ivfreader.IVFFileHeader) time.Duration {
	if h.TimebaseDenominator == 0 || h.TimebaseNumerator == 0 {
		return defaultFrameInterval
	}
	return time.Duration(h.TimebaseNumerator) * time.Second / time.Duration(h.TimebaseDenominator)
}
