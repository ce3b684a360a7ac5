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
	"github.com/foxseedlab/streamkoshin/internal/transcriber"
	"google.golang.org/api/option"
)

const speechAPIEndpointPort = 443

var errStreamNotReady = errors.New("stream is not accepting audio")

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Location        string
	Model           string
}

// CloudSpeechTransport opens Speech-to-Text v2 StreamingRecognize calls over a
// single shared gRPC client.
type CloudSpeechTransport struct {
	projectID       string
	credentialsJSON string
	location        string
	model           string

	mu     sync.Mutex
	client *speech.Client
}

func NewCloudSpeechTransport(cfg CloudSpeechConfig) *CloudSpeechTransport {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}
	return &CloudSpeechTransport{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		location:        location,
		model:           strings.TrimSpace(cfg.Model),
	}
}

func (t *CloudSpeechTransport) Open(ctx context.Context, cfg transcriber.StreamConfig) (transcriber.Stream, error) {
	client, err := t.speechClient(ctx)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return nil, classifyError("open", err)
	}
	if err := stream.Send(t.configRequest(cfg)); err != nil {
		cancel()
		return nil, classifyError("send config", err)
	}
	slog.Debug("cloud speech stream opened", "location", t.location, "model", t.model, "language", cfg.LanguageCode)

	return &cloudStream{stream: stream, cancel: cancel}, nil
}

func (t *CloudSpeechTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

func (t *CloudSpeechTransport) speechClient(ctx context.Context) (*speech.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(t.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, transcriber.NewError(transcriber.KindPermissionDenied, "detect credentials", err)
	}
	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if t.location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", t.location, speechAPIEndpointPort)))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, classifyError("new client", err)
	}
	t.client = client
	return client, nil
}

func (t *CloudSpeechTransport) recognizer() string {
	return fmt.Sprintf("projects/%s/locations/%s/recognizers/_", t.projectID, t.location)
}

func (t *CloudSpeechTransport) configRequest(cfg transcriber.StreamConfig) *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		Recognizer: t.recognizer(),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Model:         t.model,
					LanguageCodes: []string{cfg.LanguageCode},
					DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
						ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
							Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
							SampleRateHertz:   int32(cfg.SampleRateHertz),
							AudioChannelCount: int32(cfg.AudioChannelCount),
						},
					},
					Features: &speechpb.RecognitionFeatures{},
				},
				StreamingFeatures: &speechpb.StreamingRecognitionFeatures{InterimResults: cfg.InterimResults},
			},
		},
	}
}

type streamState int

const (
	streamReady streamState = iota
	streamHalfClosed
	streamCancelled
)

type cloudStream struct {
	mu     sync.Mutex
	state  streamState
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
}

func (s *cloudStream) Send(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != streamReady {
		return transcriber.NewError(transcriber.KindSessionState, "send", errStreamNotReady)
	}
	err := s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{
			Audio: pcm,
		},
	})
	if err != nil {
		return classifyError("send", err)
	}
	return nil
}

func (s *cloudStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != streamReady {
		return nil
	}
	s.state = streamHalfClosed
	if err := s.stream.CloseSend(); err != nil {
		return classifyError("close send", err)
	}
	return nil
}

func (s *cloudStream) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = streamCancelled
	s.cancel()
}

func (s *cloudStream) Recv() (*transcriber.Response, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		s.mu.Lock()
		cancelled := s.state == streamCancelled
		s.mu.Unlock()
		if cancelled {
			return nil, transcriber.NewError(transcriber.KindSessionState, "recv", context.Canceled)
		}
		return nil, classifyError("recv", err)
	}
	return convertResponse(resp), nil
}

func convertResponse(resp *speechpb.StreamingRecognizeResponse) *transcriber.Response {
	out := &transcriber.Response{Results: make([]transcriber.Result, 0, len(resp.GetResults()))}
	for _, result := range resp.GetResults() {
		alts := make([]transcriber.Alternative, 0, len(result.GetAlternatives()))
		for _, alt := range result.GetAlternatives() {
			alts = append(alts, transcriber.Alternative{
				Transcript: alt.GetTranscript(),
				Confidence: float64(alt.GetConfidence()),
			})
		}
		out.Results = append(out.Results, transcriber.Result{
			Alternatives: alts,
			IsFinal:      result.GetIsFinal(),
			EndOffset:    result.GetResultEndOffset().AsDuration(),
		})
	}
	return out
}
