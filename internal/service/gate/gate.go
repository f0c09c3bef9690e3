// Package gate bounds how many speech-to-text calls run at once across the
// whole process.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"live-transcription-service/internal/observability/metrics"
	"live-transcription-service/internal/service/extract"
	"live-transcription-service/internal/service/stt"
)

// ErrInferenceFailed wraps every engine error and per-call timeout.
var ErrInferenceFailed = errors.New("inference failed")

// Config controls admission.
type Config struct {
	Permits     int64
	CallTimeout time.Duration // zero disables the per-call deadline
}

// Gate admits at most Permits concurrent calls into the engine. One Gate is
// shared by every session.
type Gate struct {
	sem         *semaphore.Weighted
	permits     int64
	callTimeout time.Duration
	engine      stt.Engine
	metrics     *metrics.Metrics

	inFlight    atomic.Int64
	waiting     atomic.Int64
	maxObserved atomic.Int64
}

// New creates a gate around engine. Permits below one are raised to one.
func New(engine stt.Engine, cfg Config, m *metrics.Metrics) *Gate {
	if cfg.Permits < 1 {
		cfg.Permits = 1
	}
	return &Gate{
		sem:         semaphore.NewWeighted(cfg.Permits),
		permits:     cfg.Permits,
		callTimeout: cfg.CallTimeout,
		engine:      engine,
		metrics:     m,
	}
}

// Transcribe blocks until a permit is free or ctx is done, runs the engine,
// and releases the permit before returning, whatever the outcome.
// Cancellation while waiting returns ctx.Err() unwrapped.
func (g *Gate) Transcribe(ctx context.Context, wf extract.Waveform) (string, error) {
	g.waiting.Add(1)
	g.record(func(m *metrics.Metrics) { m.GateWaiting.Inc() })
	waitStart := time.Now()

	err := g.sem.Acquire(ctx, 1)

	g.waiting.Add(-1)
	g.record(func(m *metrics.Metrics) {
		m.GateWaiting.Dec()
		m.GateWaitLatency.Observe(time.Since(waitStart).Seconds())
	})
	if err != nil {
		return "", err
	}
	defer g.sem.Release(1)

	g.enter()
	defer g.exit()

	callCtx := ctx
	if g.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
	}

	start := time.Now()
	text, err := g.engine.Transcribe(callCtx, wf)
	latency := time.Since(start).Seconds()

	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			g.record(func(m *metrics.Metrics) { m.RecordInferenceTimeout(g.engine.Name()) })
			return "", fmt.Errorf("%w: %s timed out after %s", ErrInferenceFailed, g.engine.Name(), g.callTimeout)
		}
		g.record(func(m *metrics.Metrics) { m.RecordInference(g.engine.Name(), err, latency) })
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", ErrInferenceFailed, ctx.Err())
		}
		return "", fmt.Errorf("%w: %s: %w", ErrInferenceFailed, g.engine.Name(), err)
	}
	g.record(func(m *metrics.Metrics) { m.RecordInference(g.engine.Name(), nil, latency) })
	return text, nil
}

// Engine returns the wrapped engine.
func (g *Gate) Engine() stt.Engine { return g.engine }

// Permits returns the configured permit count.
func (g *Gate) Permits() int64 { return g.permits }

// InFlight returns the number of calls currently inside the engine.
func (g *Gate) InFlight() int64 { return g.inFlight.Load() }

// Waiting returns the number of callers blocked on a permit.
func (g *Gate) Waiting() int64 { return g.waiting.Load() }

// MaxObserved returns the highest InFlight value seen so far.
func (g *Gate) MaxObserved() int64 { return g.maxObserved.Load() }

func (g *Gate) enter() {
	n := g.inFlight.Add(1)
	for {
		cur := g.maxObserved.Load()
		if n <= cur || g.maxObserved.CompareAndSwap(cur, n) {
			break
		}
	}
	g.record(func(m *metrics.Metrics) { m.GateInFlight.Inc() })
}

func (g *Gate) exit() {
	g.inFlight.Add(-1)
	g.record(func(m *metrics.Metrics) { m.GateInFlight.Dec() })
}

func (g *Gate) record(f func(m *metrics.Metrics)) {
	if g.metrics != nil {
		f(g.metrics)
	}
}
