// Package schema checks outbound events before they are published.
package schema

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"live-transcription-service/internal/models"
)

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

// Validator enforces required fields per event type.
type Validator struct{}

// New creates a validator.
func New() *Validator {
	return &Validator{}
}

// Validate returns an ErrInvalidEvent-wrapped error naming the first
// missing or inconsistent field.
func (v *Validator) Validate(event any) error {
	var err error
	switch e := event.(type) {
	case models.TranscriptPiece:
		err = validatePiece(e)
	case *models.TranscriptPiece:
		err = validatePiece(*e)
	case models.FinalTranscript:
		err = validateFinal(e)
	case *models.FinalTranscript:
		err = validateFinal(*e)
	case models.SessionError:
		err = validateError(e)
	case *models.SessionError:
		err = validateError(*e)
	default:
		err = fmt.Errorf("%w: unsupported type %T", ErrInvalidEvent, event)
	}

	if err != nil {
		log.Warn().Err(err).Msg("Schema validation failed")
		return err
	}
	log.Debug().Str("type", fmt.Sprintf("%T", event)).Msg("Schema validated")
	return nil
}

func validatePiece(e models.TranscriptPiece) error {
	if err := common(e.EventType, models.EventTypePiece, e.SessionID, e.Timestamp); err != nil {
		return err
	}
	if e.SegmentIndex < 0 {
		return fmt.Errorf("%w: negative segmentIndex %d", ErrInvalidEvent, e.SegmentIndex)
	}
	if e.SegmentID == "" {
		return fmt.Errorf("%w: segmentId is required", ErrInvalidEvent)
	}
	if !e.OK && e.Error == "" {
		return fmt.Errorf("%w: failed piece requires error", ErrInvalidEvent)
	}
	return nil
}

func validateFinal(e models.FinalTranscript) error {
	if err := common(e.EventType, models.EventTypeFinal, e.SessionID, e.Timestamp); err != nil {
		return err
	}
	switch e.Status {
	case models.StatusComplete, models.StatusPartial, models.StatusError:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidEvent, e.Status)
	}
	if e.Segments < 0 {
		return fmt.Errorf("%w: negative segments", ErrInvalidEvent)
	}
	if e.Status == models.StatusComplete && (len(e.FailedSegments) > 0 || len(e.MissingSegments) > 0) {
		return fmt.Errorf("%w: complete transcript lists failed or missing segments", ErrInvalidEvent)
	}
	return nil
}

func validateError(e models.SessionError) error {
	if err := common(e.EventType, models.EventTypeError, e.SessionID, e.Timestamp); err != nil {
		return err
	}
	if e.Message == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidEvent)
	}
	return nil
}

func common(eventType, want, sessionID string, ts int64) error {
	if eventType != want {
		return fmt.Errorf("%w: eventType %q, want %q", ErrInvalidEvent, eventType, want)
	}
	if sessionID == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidEvent)
	}
	if ts <= 0 {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEvent)
	}
	return nil
}
