package transcriber

import (
	"fmt"

	"github.com/foxseedlab/teleconsult/internal/config"
	"github.com/foxseedlab/teleconsult/internal/resilience"
	"github.com/foxseedlab/teleconsult/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcriber.Transcriber, error) {
		c := do.MustInvoke[*config.Config](i)
		return newTranscriber(c)
	})
}

func newTranscriber(c *config.Config) (transcriber.Transcriber, error) {
	breaker := resilience.BreakerConfig{MaxFailures: 3}
	switch c.TranscribeProvider {
	case config.TranscribeProviderGoogle:
		google := NewCloudSpeechTranscriber(CloudSpeechConfig{
			ProjectID:       c.GoogleCloudProjectID,
			CredentialsJSON: c.GoogleCloudCredentialsJSON,
			Language:        c.DefaultTranscribeLanguage,
			Location:        c.GoogleCloudSpeechLocation,
			Model:           c.GoogleCloudSpeechModel,
		})
		if c.DeepgramAPIKey == "" {
			return google, nil
		}
		deepgram, err := NewDeepgramTranscriber(DeepgramConfig{APIKey: c.DeepgramAPIKey, Model: c.DeepgramModel, Language: c.DefaultTranscribeLanguage})
		if err != nil {
			return nil, err
		}
		return NewFailoverTranscriber(
			resilience.NewFailover[transcriber.Transcriber](breaker, "google", google).
				With(breaker, "deepgram", deepgram),
		), nil
	case config.TranscribeProviderDeepgram:
		return NewDeepgramTranscriber(DeepgramConfig{APIKey: c.DeepgramAPIKey, Model: c.DeepgramModel, Language: c.DefaultTranscribeLanguage})
	default:
		return nil, fmt.Errorf("no transcriber for provider %q", c.TranscribeProvider)
	}
}
