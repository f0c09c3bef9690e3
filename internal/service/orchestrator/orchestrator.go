// Package orchestrator runs live transcription sessions: it folds arriving
// fragments into segments, transcribes each segment concurrently behind the
// shared inference gate and assembles the ordered transcript on end.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"live-transcription-service/internal/models"
	"live-transcription-service/internal/observability/logging"
	"live-transcription-service/internal/observability/metrics"
	"live-transcription-service/internal/schema"
	"live-transcription-service/internal/service/extract"
	"live-transcription-service/internal/service/segment"
	"live-transcription-service/internal/service/session"
	"live-transcription-service/internal/service/transcript"
)

// ErrShuttingDown is returned by Open once Shutdown has started.
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// Transcriber is the admission-controlled entry into the STT engine.
type Transcriber interface {
	Transcribe(ctx context.Context, wf extract.Waveform) (string, error)
}

// Sink receives outbound session events. events.Publisher implements it.
type Sink interface {
	PublishPartial(ctx context.Context, key string, event any) error
	PublishFinal(ctx context.Context, key string, event any) error
	PublishError(ctx context.Context, key string, event any) error
}

type discardSink struct{}

func (discardSink) PublishPartial(context.Context, string, any) error { return nil }
func (discardSink) PublishFinal(context.Context, string, any) error   { return nil }
func (discardSink) PublishError(context.Context, string, any) error   { return nil }

// Config holds the per-session pipeline settings.
type Config struct {
	Window         time.Duration
	BytesPerSecond int64
	MinDuration    time.Duration // terminal segments shorter than this are discarded
	FragmentQueue  int
	DrainTimeout   time.Duration // zero waits indefinitely
	ResultTTL      time.Duration // how long a finished session stays queryable
	ProbeTimeout   time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Window:         60 * time.Second,
		BytesPerSecond: 16000,
		MinDuration:    100 * time.Millisecond,
		FragmentQueue:  64,
		DrainTimeout:   15 * time.Minute,
		ResultTTL:      time.Minute,
		ProbeTimeout:   30 * time.Second,
	}
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Extractor  extract.Extractor
	Prober     segment.Prober
	Gate       Transcriber
	EngineName string
	Sink       Sink
	Validator  *schema.Validator
	Metrics    *metrics.Metrics
}

// Result is the outcome of a finished session.
type Result struct {
	SessionID  string
	State      session.State
	Transcript transcript.Transcript
	Final      models.FinalTranscript // the final_transcript event as published
	Err        error                  // transcript.ErrIncompleteSession when the drain timed out
	Reason     string
}

// Orchestrator owns the session registry. It is safe for concurrent use.
type Orchestrator struct {
	cfg      Config
	deps     Deps
	sessions *session.Registry[*run]
	logger   zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	// admitMu orders Open's registration against Shutdown's snapshot so a
	// session is either refused or seen by the drain.
	admitMu  sync.Mutex
	draining atomic.Bool
	active   sync.WaitGroup
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	def := DefaultConfig()
	if cfg.FragmentQueue <= 0 {
		cfg.FragmentQueue = def.FragmentQueue
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = def.ResultTTL
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	if deps.Validator == nil {
		deps.Validator = schema.New()
	}
	if deps.Prober == nil {
		deps.Prober = segment.ByteRateProber{BytesPerSecond: cfg.BytesPerSecond}
	}
	if deps.Sink == nil {
		deps.Sink = discardSink{}
	}
	if deps.EngineName == "" {
		deps.EngineName = "unknown"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		sessions: session.NewRegistry[*run](),
		logger:   logging.WithComponent("orchestrator"),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// run is the per-session context object. Only the ingestion goroutine
// touches the segmenter.
type run struct {
	sess   *session.Session
	logger zerolog.Logger

	sendMu  sync.Mutex // serialises appends and closing of in
	in      chan segment.Fragment
	seq     uint64
	inOnce  sync.Once
	stop    chan struct{}
	stopOne sync.Once

	seg      *segment.Segmenter
	agg      *transcript.Aggregator
	expected int // segments submitted for transcription

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu     sync.Mutex
	reason string

	done   chan struct{}
	result Result
}

func (r *run) closeInput() {
	r.inOnce.Do(func() { close(r.in) })
}

// Open registers a new session and starts its ingestion goroutine.
func (o *Orchestrator) Open(meta session.Metadata) (string, error) {
	o.admitMu.Lock()
	defer o.admitMu.Unlock()
	if o.draining.Load() {
		return "", ErrShuttingDown
	}

	sess := session.New(meta)
	ctx, cancel := context.WithCancel(o.baseCtx)
	group, gctx := errgroup.WithContext(ctx)

	r := &run{
		sess:   sess,
		logger: logging.WithSession(sess.ID),
		in:     make(chan segment.Fragment, o.cfg.FragmentQueue),
		stop:   make(chan struct{}),
		seg: segment.NewSegmenter(segment.Config{
			Window:         o.cfg.Window,
			BytesPerSecond: o.cfg.BytesPerSecond,
		}),
		agg:    transcript.NewAggregator(),
		ctx:    gctx,
		cancel: cancel,
		group:  group,
		done:   make(chan struct{}),
	}
	o.sessions.Put(sess.ID, r)
	o.active.Add(1)
	o.deps.Metrics.RecordSessionStart()

	r.logger.Info().
		Str("meetingName", sess.Metadata.Name).
		Str("meetingTopic", sess.Metadata.Topic).
		Str("participants", sess.Metadata.Participants).
		Msg("Session opened")

	go o.ingest(r)
	return sess.ID, nil
}

// AppendFragment hands one fragment to the session. The bytes are copied,
// so the caller may reuse data. After End or Abort it fails with
// session.ErrSessionClosed and changes nothing. Calls for one session must
// come from a single goroutine to keep arrival order meaningful.
func (o *Orchestrator) AppendFragment(ctx context.Context, id string, data []byte) error {
	r, err := o.sessions.Get(id)
	if err != nil {
		return err
	}

	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	if err := r.sess.Lifecycle.Stream(); err != nil {
		o.deps.Metrics.RecordFragmentRejected()
		return fmt.Errorf("append to %s session %s: %w", r.sess.Lifecycle.State(), id, err)
	}
	if len(data) == 0 {
		return nil
	}

	frag := segment.Fragment{Seq: r.seq, Data: append([]byte(nil), data...)}
	select {
	case r.in <- frag:
		r.seq++
		o.deps.Metrics.RecordFragment(len(data))
		return nil
	case <-r.stop:
		o.deps.Metrics.RecordFragmentRejected()
		return fmt.Errorf("append to aborted session %s: %w", id, session.ErrSessionClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// End stops intake and starts finalization. Repeated calls are no-ops;
// ending an aborted session returns session.ErrSessionClosed.
func (o *Orchestrator) End(id string) error {
	r, err := o.sessions.Get(id)
	if err != nil {
		return err
	}

	r.sendMu.Lock()
	transitioned, err := r.sess.Lifecycle.End()
	if transitioned {
		r.closeInput()
	}
	fragments := r.seq
	r.sendMu.Unlock()

	if transitioned {
		r.logger.Info().Uint64("fragments", fragments).Msg("Session end received")
	}
	return err
}

// Abort moves the session to the error state. Intake stops immediately;
// work for fragments already accepted still drains and an error event is
// published before the final transcript.
func (o *Orchestrator) Abort(id, reason string) error {
	r, err := o.sessions.Get(id)
	if err != nil {
		return err
	}

	// The reason is stored under the same lock as the transition so
	// finalize never sees ERROR without it.
	r.mu.Lock()
	if !r.sess.Lifecycle.Abort() {
		r.mu.Unlock()
		return fmt.Errorf("abort %s session %s: %w", r.sess.Lifecycle.State(), id, session.ErrSessionClosed)
	}
	r.reason = reason
	r.mu.Unlock()

	r.stopOne.Do(func() { close(r.stop) })
	r.sendMu.Lock()
	r.closeInput()
	r.sendMu.Unlock()

	r.logger.Warn().Str("reason", reason).Msg("Session aborted")
	return nil
}

// Wait blocks until the session has been finalized or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id string) (Result, error) {
	r, err := o.sessions.Get(id)
	if err != nil {
		return Result{}, err
	}
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// State returns the session's lifecycle state.
func (o *Orchestrator) State(id string) (session.State, error) {
	r, err := o.sessions.Get(id)
	if err != nil {
		return 0, err
	}
	return r.sess.Lifecycle.State(), nil
}

// Metadata returns the session's metadata with defaults applied.
func (o *Orchestrator) Metadata(id string) (session.Metadata, error) {
	r, err := o.sessions.Get(id)
	if err != nil {
		return session.Metadata{}, err
	}
	return r.sess.Metadata, nil
}

// Active returns the number of sessions not yet finalized.
func (o *Orchestrator) Active() int {
	n := 0
	o.sessions.Each(func(_ string, r *run) {
		select {
		case <-r.done:
		default:
			n++
		}
	})
	return n
}

// Ready reports whether new sessions are accepted.
func (o *Orchestrator) Ready() bool {
	return !o.draining.Load()
}

// Shutdown refuses new sessions, ends every open one and waits for all of
// them to finalize. When ctx expires outstanding work is cancelled.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.admitMu.Lock()
	o.draining.Store(true)
	o.admitMu.Unlock()

	o.logger.Info().Int("active", o.Active()).Msg("Draining sessions")
	o.sessions.Each(func(id string, r *run) {
		if err := o.End(id); err != nil && !errors.Is(err, session.ErrSessionClosed) {
			r.logger.Warn().Err(err).Msg("End during shutdown failed")
		}
	})

	done := make(chan struct{})
	go func() {
		o.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		return ctx.Err()
	}
}
