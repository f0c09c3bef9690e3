// Package stt defines the interface for speech-to-text engines.
package stt

import (
	"context"

	"live-transcription-service/internal/service/extract"
)

// Engine turns one decoded waveform into text. Implementations must be safe
// for concurrent use; the inference gate decides how many calls run at once.
type Engine interface {
	// Name identifies the engine in logs and metrics.
	Name() string

	// Transcribe returns the recognised text for the waveform. An empty
	// string with a nil error means no speech was recognised.
	Transcribe(ctx context.Context, wf extract.Waveform) (string, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc struct {
	EngineName string
	Fn         func(ctx context.Context, wf extract.Waveform) (string, error)
}

// Name implements Engine.
func (e EngineFunc) Name() string { return e.EngineName }

// Transcribe implements Engine.
func (e EngineFunc) Transcribe(ctx context.Context, wf extract.Waveform) (string, error) {
	return e.Fn(ctx, wf)
}
