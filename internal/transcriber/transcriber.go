package transcriber

import "context"

// StreamConfig describes the raw PCM a stream will receive. Audio is
// little-endian signed 16-bit, interleaved when Channels > 1.
type StreamConfig struct {
	Language        string
	SampleRateHertz int
	Channels        int
}

type StreamWriter interface {
	Write(pcm []byte) error
	Close() error
}

// ResultReceiver is called from the provider's receive goroutine.
type ResultReceiver interface {
	OnResult(text string, isFinal bool)
	OnError(err error)
}

type Transcriber interface {
	StartStreaming(ctx context.Context, streamID string, cfg StreamConfig, receiver ResultReceiver) (StreamWriter, error)
}
