package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/cleanaz-dev/sp-academy/domain/repositories"
)

// GoogleSpeechToText implements SpeechToText for Google Cloud
type GoogleSpeechToText struct {
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates a new Google streaming recognizer. Credentials
// come from the environment (GOOGLE_APPLICATION_CREDENTIALS).
func NewGoogleSpeechToText(logger *zap.Logger) *GoogleSpeechToText {
	return &GoogleSpeechToText{logger: logger}
}

func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:                   encoding,
		SampleRateHertz:            int32(config.SampleRate),
		LanguageCode:               config.Language,
		EnableAutomaticPunctuation: true,
	}
	// Opus containers carry their own rate
	if encoding == speechpb.RecognitionConfig_WEBM_OPUS || encoding == speechpb.RecognitionConfig_OGG_OPUS {
		if config.SampleRate == 0 {
			recognitionConfig.SampleRateHertz = 48000
		}
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:          recognitionConfig,
				InterimResults:  config.InterimResults,
				SingleUtterance: true,
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	s := &GoogleSpeechToTextStream{
		client:  client,
		stream:  stream,
		results: make(chan repositories.RecognitionResult, 16),
		done:    make(chan struct{}),
		logger:  g.logger,
	}
	go s.receiveResults()

	g.logger.Debug("Google streaming recognition started",
		zap.String("language", config.Language),
		zap.String("encoding", config.Encoding),
		zap.Int("sampleRate", config.SampleRate))
	return s, nil
}

// GoogleSpeechToTextStream is one streaming recognition
type GoogleSpeechToTextStream struct {
	client  *speech.Client
	stream  speechpb.Speech_StreamingRecognizeClient
	results chan repositories.RecognitionResult
	done    chan struct{}
	logger  *zap.Logger

	mu    sync.Mutex
	ended bool
	err   error
}

func (g *GoogleSpeechToTextStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ended {
		return errors.New("stream already ended")
	}
	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// Results delivers interim and final hypotheses. It is closed when recognition ends.
func (g *GoogleSpeechToTextStream) Results() <-chan repositories.RecognitionResult {
	return g.results
}

// Err returns the error that ended recognition, if any. Valid once Results is closed.
func (g *GoogleSpeechToTextStream) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// End half-closes the stream so pending finals are flushed, then waits for
// the receiver and releases the client.
func (g *GoogleSpeechToTextStream) End() error {
	g.mu.Lock()
	if g.ended {
		g.mu.Unlock()
		<-g.done
		return nil
	}
	g.ended = true
	err := g.stream.CloseSend()
	g.mu.Unlock()

	<-g.done
	if closeErr := g.client.Close(); closeErr != nil {
		g.logger.Debug("Failed to close speech client", zap.Error(closeErr))
	}
	if err != nil {
		return fmt.Errorf("failed to close send stream: %w", err)
	}
	return nil
}

func (g *GoogleSpeechToTextStream) receiveResults() {
	defer close(g.done)
	defer close(g.results)

	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			g.mu.Lock()
			g.err = fmt.Errorf("failed to receive response: %w", err)
			g.mu.Unlock()
			return
		}
		if resp.Error != nil {
			g.mu.Lock()
			g.err = fmt.Errorf("recognition error: %s", resp.Error.GetMessage())
			g.mu.Unlock()
			return
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			g.results <- repositories.RecognitionResult{
				Text:    result.Alternatives[0].Transcript,
				IsFinal: result.IsFinal,
			}
		}
	}
}

// EncodingForMimeType maps a capture MIME type to a recognizer encoding name
func EncodingForMimeType(mimeType string) string {
	mimeType = strings.ToLower(mimeType)
	switch {
	case strings.HasPrefix(mimeType, "audio/webm"):
		return "WEBM_OPUS"
	case strings.HasPrefix(mimeType, "audio/ogg"):
		return "OGG_OPUS"
	case strings.HasPrefix(mimeType, "audio/flac"):
		return "FLAC"
	default:
		return "LINEAR16"
	}
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported audio encoding: %s", encoding)
	}
}
