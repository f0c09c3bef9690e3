// Package engines builds the configured speech-to-text engine.
package engines

import (
	"context"
	"fmt"
	"strings"

	"live-transcription-service/internal/config"
	"live-transcription-service/internal/service/stt"
	"live-transcription-service/internal/service/stt/google"
	"live-transcription-service/internal/service/stt/mock"
	"live-transcription-service/internal/service/stt/whisper"
)

// New returns the engine named by cfg.Inference.Provider.
func New(ctx context.Context, cfg *config.Configuration) (stt.Engine, error) {
	switch strings.ToLower(cfg.Inference.Provider) {
	case "", "mock":
		return mock.New(), nil
	case "whisper":
		e, err := whisper.New(whisper.Config{
			CLIPath:   cfg.Whisper.CLIPath,
			ModelPath: cfg.Whisper.ModelPath,
			Threads:   cfg.Whisper.Threads,
			Language:  cfg.Whisper.Language,
			WorkDir:   cfg.Extraction.WorkDir,
		}, nil)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "google":
		e, err := google.New(ctx, google.Config{
			LanguageCode: cfg.Google.LanguageCode,
			SampleRateHz: cfg.Google.SampleRateHz,
			Punctuation:  true,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.Inference.Provider)
	}
}
