package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"live-transcription-service/internal/observability/metrics"
	"live-transcription-service/internal/service/extract"
	"live-transcription-service/internal/service/stt"
)

// countingEngine records the peak number of concurrent calls it sees.
type countingEngine struct {
	hold    time.Duration
	fail    func(n int64) bool
	calls   atomic.Int64
	current atomic.Int64
	peak    atomic.Int64
}

func (e *countingEngine) Name() string { return "counting" }

func (e *countingEngine) Transcribe(ctx context.Context, _ extract.Waveform) (string, error) {
	n := e.calls.Add(1)
	cur := e.current.Add(1)
	defer e.current.Add(-1)
	for {
		p := e.peak.Load()
		if cur <= p || e.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	select {
	case <-time.After(e.hold):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if e.fail != nil && e.fail(n) {
		return "", errors.New("engine crashed")
	}
	return "text", nil
}

func wf() extract.Waveform {
	return extract.Waveform{Data: []byte("RIFF"), Duration: time.Second}
}

func TestGate_NeverExceedsPermits(t *testing.T) {
	tests := []struct {
		permits int64
		callers int
	}{
		{1, 10},
		{2, 10},
		{4, 3},
	}

	for _, tt := range tests {
		engine := &countingEngine{hold: 5 * time.Millisecond}
		g := New(engine, Config{Permits: tt.permits}, metrics.DefaultMetrics)

		var wg sync.WaitGroup
		for i := 0; i < tt.callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := g.Transcribe(context.Background(), wf()); err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if engine.peak.Load() > tt.permits {
			t.Errorf("permits=%d: engine saw %d concurrent calls", tt.permits, engine.peak.Load())
		}
		if g.MaxObserved() > tt.permits {
			t.Errorf("permits=%d: gate observed %d in flight", tt.permits, g.MaxObserved())
		}
		if g.InFlight() != 0 || g.Waiting() != 0 {
			t.Errorf("gate not idle: inFlight=%d waiting=%d", g.InFlight(), g.Waiting())
		}
		if engine.calls.Load() != int64(tt.callers) {
			t.Errorf("expected %d calls, got %d", tt.callers, engine.calls.Load())
		}
	}
}

func TestGate_SharedAcrossSessions(t *testing.T) {
	engine := &countingEngine{hold: 5 * time.Millisecond}
	g := New(engine, Config{Permits: 1}, metrics.DefaultMetrics)

	var wg sync.WaitGroup
	for session := 0; session < 3; session++ {
		for seg := 0; seg < 3; seg++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				g.Transcribe(context.Background(), wf())
			}()
		}
	}
	wg.Wait()

	if engine.peak.Load() != 1 {
		t.Errorf("expected strictly serial inference, peak was %d", engine.peak.Load())
	}
}

func TestGate_ReleasesOnFailure(t *testing.T) {
	engine := &countingEngine{fail: func(n int64) bool { return n == 1 }}
	g := New(engine, Config{Permits: 1}, metrics.DefaultMetrics)

	_, err := g.Transcribe(context.Background(), wf())
	if !errors.Is(err, ErrInferenceFailed) {
		t.Fatalf("expected ErrInferenceFailed, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	text, err := g.Transcribe(ctx, wf())
	if err != nil {
		t.Fatalf("permit was not released after failure: %v", err)
	}
	if text != "text" {
		t.Errorf("unexpected text %q", text)
	}
}

func TestGate_CancelWhileWaiting(t *testing.T) {
	engine := &countingEngine{hold: 200 * time.Millisecond}
	g := New(engine, Config{Permits: 1}, metrics.DefaultMetrics)

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Transcribe(context.Background(), wf())
	}()
	for g.InFlight() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := g.Transcribe(ctx, wf())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded while waiting, got %v", err)
	}
	if errors.Is(err, ErrInferenceFailed) {
		t.Error("waiting cancellation must not be reported as an inference failure")
	}
	<-done
	if engine.calls.Load() != 1 {
		t.Errorf("cancelled caller must not reach the engine, calls=%d", engine.calls.Load())
	}
}

func TestGate_CallTimeout(t *testing.T) {
	engine := &countingEngine{hold: time.Second}
	g := New(engine, Config{Permits: 1, CallTimeout: 10 * time.Millisecond}, metrics.DefaultMetrics)

	start := time.Now()
	_, err := g.Transcribe(context.Background(), wf())
	if !errors.Is(err, ErrInferenceFailed) {
		t.Errorf("expected ErrInferenceFailed on timeout, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("call timeout was not applied")
	}
	if g.InFlight() != 0 {
		t.Error("permit held after timeout")
	}
}

func TestGate_PermitsFloor(t *testing.T) {
	g := New(stt.EngineFunc{EngineName: "noop", Fn: func(context.Context, extract.Waveform) (string, error) {
		return "", nil
	}}, Config{Permits: 0}, nil)

	if g.Permits() != 1 {
		t.Errorf("expected permits raised to 1, got %d", g.Permits())
	}
	if _, err := g.Transcribe(context.Background(), wf()); err != nil {
		t.Errorf("unexpected error with nil metrics: %v", err)
	}
	if g.Engine().Name() != "noop" {
		t.Errorf("unexpected engine %s", g.Engine().Name())
	}
}
