package transcriber

import (
	"context"

	"github.com/foxseedlab/teleconsult/internal/resilience"
	"github.com/foxseedlab/teleconsult/internal/transcriber"
)

// FailoverTranscriber opens streams on the first provider whose breaker is
// closed. Failover happens only when a stream is started; an open stream stays
// on its provider.
type FailoverTranscriber struct {
	providers *resilience.Failover[transcriber.Transcriber]
}

func NewFailoverTranscriber(providers *resilience.Failover[transcriber.Transcriber]) *FailoverTranscriber {
	return &FailoverTranscriber{providers: providers}
}

func (f *FailoverTranscriber) StartStreaming(ctx context.Context, streamID string, cfg transcriber.StreamConfig, receiver transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	return resilience.Call(f.providers, func(t transcriber.Transcriber) (transcriber.StreamWriter, error) {
		return t.StartStreaming(ctx, streamID, cfg, receiver)
	})
}
