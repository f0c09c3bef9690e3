// Package google provides a Google Cloud Speech-to-Text engine.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/encoding/protojson"

	"live-transcription-service/internal/observability/logging"
	"live-transcription-service/internal/service/extract"
)

// Config holds Google STT configuration.
type Config struct {
	LanguageCode  string
	SampleRateHz  int32
	AudioEncoding string
	Punctuation   bool
}

// DefaultConfig returns the configuration matching extracted waveforms.
func DefaultConfig() Config {
	return Config{
		LanguageCode:  "en-US",
		SampleRateHz:  16000,
		AudioEncoding: "LINEAR16",
		Punctuation:   true,
	}
}

// Recognizer is the subset of the Speech client the engine uses.
type Recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
	Close() error
}

type clientRecognizer struct {
	c *speech.Client
}

func (r clientRecognizer) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return r.c.Recognize(ctx, req)
}

func (r clientRecognizer) Close() error { return r.c.Close() }

// Engine implements stt.Engine with synchronous Recognize calls.
type Engine struct {
	cfg    Config
	client Recognizer
	logger zerolog.Logger
}

// New creates a Google STT engine.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return NewWithRecognizer(cfg, clientRecognizer{c: c}), nil
}

// NewWithRecognizer creates an engine around an existing recognizer.
func NewWithRecognizer(cfg Config, r Recognizer) *Engine {
	def := DefaultConfig()
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = def.LanguageCode
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = def.SampleRateHz
	}
	if cfg.AudioEncoding == "" {
		cfg.AudioEncoding = def.AudioEncoding
	}
	return &Engine{
		cfg:    cfg,
		client: r,
		logger: logging.WithComponent("stt-google"),
	}
}

// Name implements stt.Engine.
func (e *Engine) Name() string { return "google" }

// Transcribe sends the waveform's PCM samples to Recognize and joins the
// top alternative of every result.
func (e *Engine) Transcribe(ctx context.Context, wf extract.Waveform) (string, error) {
	audio, rate, err := pcm(wf, e.cfg.SampleRateHz)
	if err != nil {
		return "", err
	}

	resp, err := e.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(e.cfg.AudioEncoding),
			SampleRateHertz:            rate,
			AudioChannelCount:          1,
			LanguageCode:               e.cfg.LanguageCode,
			EnableAutomaticPunctuation: e.cfg.Punctuation,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", fmt.Errorf("google recognize: %w", err)
	}

	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		e.logger.Debug().RawJSON("response", []byte(protojson.Format(resp))).Msg("Recognize response")
	}
	return joinResults(resp), nil
}

// Close releases the underlying client.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// pcm strips the WAV header so the request carries raw LINEAR16 samples.
func pcm(wf extract.Waveform, fallbackRate int32) ([]byte, int32, error) {
	if len(wf.Data) == 0 {
		return nil, 0, errors.New("google: empty waveform")
	}
	info, err := extract.ParseWAV(wf.Data)
	if err != nil {
		return nil, 0, fmt.Errorf("google: %w", err)
	}
	if err := info.ValidateMono16(); err != nil {
		return nil, 0, fmt.Errorf("google: %w", err)
	}
	rate := int32(info.SampleRate)
	if rate <= 0 {
		rate = fallbackRate
	}
	return wf.Data[info.DataOffset : info.DataOffset+info.DataSize], rate, nil
}

func joinResults(resp *speechpb.RecognizeResponse) string {
	var parts []string
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		if t := strings.TrimSpace(r.GetAlternatives()[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// parseAudioEncoding converts string encoding name to Google's enum.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
