// Package extract converts sealed segments into mono waveforms the
// speech-to-text engines can decode.
package extract

import (
	"context"
	"errors"
	"time"

	"live-transcription-service/internal/service/segment"
)

// Errors reported per segment. Neither is fatal to the session.
var (
	ErrExtractionFailed    = errors.New("extraction failed")
	ErrSegmentUnmeasurable = errors.New("segment duration is unmeasurable")
)

// Waveform is a decoded mono PCM WAV file held in memory.
type Waveform struct {
	Data       []byte
	SampleRate int
	Duration   time.Duration
}

// Extractor turns a segment's container bytes into a waveform.
type Extractor interface {
	Extract(ctx context.Context, seg segment.Segment) (Waveform, error)
}

// Reason maps an extraction error to a short metrics label.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSegmentUnmeasurable), errors.Is(err, segment.ErrUnmeasurable):
		return "unmeasurable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "failed"
	}
}
