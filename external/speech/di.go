package speech

import (
	"github.com/foxseedlab/teleconsult/internal/audio"
	"github.com/foxseedlab/teleconsult/internal/config"
	"github.com/foxseedlab/teleconsult/internal/transcriber"
	"github.com/foxseedlab/teleconsult/internal/transcription"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcription.SpeechCapturer, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.TranscribeProvider == config.TranscribeProviderNone {
			return transcription.NoopCapturer{}, nil
		}
		t, err := do.Invoke[transcriber.Transcriber](i)
		if err != nil {
			return nil, err
		}
		source, err := do.Invoke[audio.PCMSource](i)
		if err != nil {
			return nil, err
		}
		return NewCapturer(CapturerConfig{
			Transcriber:     t,
			Source:          source,
			Language:        c.DefaultTranscribeLanguage,
			NoSpeechTimeout: c.TranscribeNoSpeechTimeout,
		}), nil
	})
}
