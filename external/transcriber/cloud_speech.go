package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/teleconsult/internal/transcriber"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const speechAPIEndpointPort = 443

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
}

type CloudSpeechTranscriber struct {
	projectID       string
	credentialsJSON string
	defaultLanguage string
	location        string
	model           string
}

func NewCloudSpeechTranscriber(cfg CloudSpeechConfig) *CloudSpeechTranscriber {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}
	return &CloudSpeechTranscriber{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		defaultLanguage: cfg.Language,
		location:        location,
		model:           strings.TrimSpace(cfg.Model),
	}
}

func (t *CloudSpeechTranscriber) StartStreaming(ctx context.Context, streamID string, cfg transcriber.StreamConfig, receiver transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	if cfg.Language == "" {
		cfg.Language = t.defaultLanguage
	}
	slog.Info("starting cloud speech stream", "stream_id", streamID, "location", t.location, "language", cfg.Language, "model", t.model)

	client, err := t.newClient(ctx)
	if err != nil {
		return nil, err
	}

	request := t.configRequest(cfg)
	open := func() (speechpb.Speech_StreamingRecognizeClient, error) {
		s, err := client.StreamingRecognize(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.Send(request); err != nil {
			_ = s.CloseSend()
			return nil, err
		}
		return s, nil
	}

	stream, err := open()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("open recognize stream: %w", err)
	}

	w := &speechStreamWriter{
		streamID: streamID,
		stream:   stream,
		receiver: receiver,
		reopen:   open,
		release:  client.Close,
	}
	w.receive(stream)
	return w, nil
}

func (t *CloudSpeechTranscriber) newClient(ctx context.Context) (*speech.Client, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(t.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}

	opts := []option.ClientOption{option.WithAuthCredentials(creds)}
	if t.location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", t.location, speechAPIEndpointPort)))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return client, nil
}

func (t *CloudSpeechTranscriber) configRequest(cfg transcriber.StreamConfig) *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		Recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", t.projectID, t.location),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Model:         t.model,
					LanguageCodes: []string{cfg.Language},
					DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
						ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
							Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
							SampleRateHertz:   int32(cfg.SampleRateHertz),
							AudioChannelCount: int32(max(cfg.Channels, 1)),
						},
					},
					Features: &speechpb.RecognitionFeatures{EnableAutomaticPunctuation: true},
				},
				StreamingFeatures: &speechpb.StreamingRecognitionFeatures{InterimResults: true},
			},
		},
	}
}

// speechStreamWriter reopens the underlying stream when Cloud Speech ends it
// at its duration limit, so one writer can outlive many server-side streams.
type speechStreamWriter struct {
	streamID string
	receiver transcriber.ResultReceiver
	reopen   func() (speechpb.Speech_StreamingRecognizeClient, error)
	release  func() error

	mu     sync.Mutex
	closed bool
	stream speechpb.Speech_StreamingRecognizeClient
}

func (w *speechStreamWriter) Write(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return io.ErrClosedPipe
	}
	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: pcm},
	}
	err := w.stream.Send(req)
	if err == nil {
		return nil
	}
	if !isReconnectableStreamError(err) {
		return err
	}
	slog.Warn("cloud speech send hit stream limit; reopening", "stream_id", w.streamID, "error", err)
	if err := w.reopenLocked(); err != nil {
		return fmt.Errorf("reopen recognize stream: %w", err)
	}
	return w.stream.Send(req)
}

func (w *speechStreamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	sendErr := w.stream.CloseSend()
	return errors.Join(sendErr, w.release())
}

func (w *speechStreamWriter) reopenLocked() error {
	_ = w.stream.CloseSend()
	next, err := w.reopen()
	if err != nil {
		slog.Error("failed to reopen cloud speech stream", "stream_id", w.streamID, "error", err)
		return err
	}
	w.stream = next
	w.receive(next)
	slog.Info("cloud speech stream reopened", "stream_id", w.streamID)
	return nil
}

func (w *speechStreamWriter) receive(stream speechpb.Speech_StreamingRecognizeClient) {
	go func() {
		for {
			resp, err := stream.Recv()
			if err != nil {
				switch {
				case errors.Is(err, io.EOF), status.Code(err) == codes.Canceled, errors.Is(err, context.Canceled):
					slog.Debug("cloud speech receive loop stopped", "stream_id", w.streamID, "reason", err.Error())
				case isReconnectableStreamError(err):
					slog.Debug("cloud speech stream reached its limit", "stream_id", w.streamID, "error", err)
				default:
					w.receiver.OnError(err)
				}
				return
			}
			for _, result := range resp.GetResults() {
				alternatives := result.GetAlternatives()
				if len(alternatives) == 0 {
					continue
				}
				w.receiver.OnResult(alternatives[0].GetTranscript(), result.GetIsFinal())
			}
		}
	}()
}

func isReconnectableStreamError(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Aborted {
		return false
	}
	msg := strings.ToLower(st.Message())
	return strings.Contains(msg, "max duration") ||
		strings.Contains(msg, "stream timed out after receiving no more client requests")
}
