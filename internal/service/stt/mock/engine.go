// Package mock provides a mock STT engine for running without a model or
// cloud credentials. It returns scripted sentences in rotation, after a
// simulated processing delay proportional to the audio length.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"live-transcription-service/internal/service/extract"
)

// DefaultUtterances provides sample sentences for simulation.
var DefaultUtterances = []string{
	"Welcome everyone, let's get started with the agenda.",
	"First item is the release schedule for next quarter.",
	"We still need an owner for the migration work.",
	"Can you share the latest numbers before Friday?",
	"Thanks all, I'll send the notes after the call.",
}

// Engine implements stt.Engine with scripted responses.
type Engine struct {
	utterances []string
	// delay per second of audio; zero returns immediately
	realtimeFactor float64

	mu    sync.Mutex
	next  int
	calls int
}

// Option configures the mock engine.
type Option func(*Engine)

// WithUtterances replaces the scripted sentences.
func WithUtterances(u ...string) Option {
	return func(e *Engine) { e.utterances = u }
}

// WithRealtimeFactor sets the simulated processing time as a fraction of
// the waveform duration (0.1 means a 60 s segment takes 6 s).
func WithRealtimeFactor(f float64) Option {
	return func(e *Engine) { e.realtimeFactor = f }
}

// New creates a new mock engine.
func New(opts ...Option) *Engine {
	e := &Engine{utterances: DefaultUtterances}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements stt.Engine.
func (e *Engine) Name() string { return "mock" }

// Transcribe returns the next scripted sentence. It honours cancellation
// during the simulated delay.
func (e *Engine) Transcribe(ctx context.Context, wf extract.Waveform) (string, error) {
	if len(wf.Data) == 0 {
		return "", fmt.Errorf("mock: empty waveform")
	}

	if e.realtimeFactor > 0 && wf.Duration > 0 {
		timer := time.NewTimer(time.Duration(float64(wf.Duration) * e.realtimeFactor))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if len(e.utterances) == 0 {
		return "", nil
	}
	text := e.utterances[e.next%len(e.utterances)]
	e.next++
	return text, nil
}

// Calls returns how many transcriptions completed.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
