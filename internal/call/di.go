package call

import (
	"github.com/foxseedlab/teleconsult/internal/backend"
	"github.com/foxseedlab/teleconsult/internal/config"
	"github.com/foxseedlab/teleconsult/internal/media"
	"github.com/foxseedlab/teleconsult/internal/metrics"
	"github.com/foxseedlab/teleconsult/internal/notify"
	"github.com/foxseedlab/teleconsult/internal/repository"
	"github.com/foxseedlab/teleconsult/internal/transcription"
	"github.com/foxseedlab/teleconsult/internal/webhook"
	"github.com/samber/do/v2"
)

// RegisterDI provides a fresh orchestrator, with its own media session, on
// every invoke.
func RegisterDI(injector do.Injector) {
	do.ProvideTransient(injector, func(i do.Injector) (*Orchestrator, error) {
		c := do.MustInvoke[*config.Config](i)
		m := do.MustInvoke[*metrics.Metrics](i)
		capturer, err := do.Invoke[transcription.SpeechCapturer](i)
		if err != nil {
			return nil, err
		}
		journal, err := do.Invoke[repository.Repository](i)
		if err != nil {
			return nil, err
		}
		devices, err := do.Invoke[media.Devices](i)
		if err != nil {
			return nil, err
		}
		player, err := do.Invoke[media.Player](i)
		if err != nil {
			return nil, err
		}
		session := media.NewManager(media.Config{
			Transport: do.MustInvoke[media.Transport](i),
			Devices:   devices,
			Player:    player,
			Surfaces:  do.MustInvoke[media.SurfaceResolver](i),
			Metrics:   m,
		})
		return NewOrchestrator(Config{
			Backend:  do.MustInvoke[backend.Client](i),
			Media:    session,
			Capturer: capturer,
			Journal:  journal,
			Notifier: do.MustInvoke[notify.Notifier](i),
			Webhook:  do.MustInvoke[webhook.Sender](i),
			Metrics:  m,
			Timezone: c.TranscriptTimezone,
			Location: c.TranscriptLocation(),
		}), nil
	})
}
