// Package audio provides the per-connection stream handler that sits
// between a client transport and the session orchestrator.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"live-transcription-service/internal/observability/logging"
	"live-transcription-service/internal/service/orchestrator"
	"live-transcription-service/internal/service/session"
)

// ErrLimitExceeded is returned by SendAudio when the stream breaks one of
// its limits. The session has been aborted by then.
var ErrLimitExceeded = errors.New("stream limit exceeded")

// Limits are safety guardrails for a single client stream.
// These prevent unbounded resource usage from one connection.
type Limits struct {
	MaxFragmentBytes int           // largest accepted fragment
	MaxSessionBytes  int64         // total audio per session
	MaxDuration      time.Duration // wall-clock length of the stream
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxFragmentBytes: 4 << 20,       // 4MB, several minutes of opus
		MaxSessionBytes:  2 << 30,       // 2GB
		MaxDuration:      6 * time.Hour, // longest meeting we expect
	}
}

// Sessions is the part of the orchestrator a stream handler drives.
type Sessions interface {
	Open(meta session.Metadata) (string, error)
	AppendFragment(ctx context.Context, id string, data []byte) error
	End(id string) error
	Abort(id, reason string) error
	Wait(ctx context.Context, id string) (orchestrator.Result, error)
}

// Handler manages one client's audio stream for the lifetime of a session.
// SendAudio must be called from a single goroutine; End and Abort may be
// called from any goroutine.
type Handler struct {
	sessions  Sessions
	sessionID string
	limits    Limits
	logger    zerolog.Logger

	mu        sync.Mutex
	started   time.Time
	bytes     int64
	fragments int
	dropped   bool
	deadline  *time.Timer

	expired    chan struct{}
	expireOnce sync.Once
}

// NewHandler opens a session for the stream.
func NewHandler(sessions Sessions, meta session.Metadata, limits Limits) (*Handler, error) {
	id, err := sessions.Open(meta)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	h := &Handler{
		sessions:  sessions,
		sessionID: id,
		limits:    limits,
		logger:    logging.WithSession(id).With().Str("component", "stream").Logger(),
		started:   time.Now(),
		expired:   make(chan struct{}),
	}
	if limits.MaxDuration > 0 {
		h.mu.Lock()
		h.deadline = time.AfterFunc(limits.MaxDuration, h.expire)
		h.mu.Unlock()
	}
	return h, nil
}

// expire aborts a stream that outlived MaxDuration even when no further
// fragment arrives to trip the check in SendAudio.
func (h *Handler) expire() {
	reason := fmt.Sprintf("max duration exceeded: %v", h.limits.MaxDuration)
	if h.Abort(reason) {
		h.expireOnce.Do(func() { close(h.expired) })
	}
}

// Expired is closed when the session was aborted for running longer than
// MaxDuration. The transport should then drop the connection.
func (h *Handler) Expired() <-chan struct{} {
	return h.expired
}

func (h *Handler) stopDeadline() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.deadline != nil {
		h.deadline.Stop()
	}
}

// SessionID returns the session this stream feeds.
func (h *Handler) SessionID() string {
	return h.sessionID
}

// SendAudio forwards one fragment. A fragment that breaks a limit aborts
// the session and returns ErrLimitExceeded.
func (h *Handler) SendAudio(ctx context.Context, data []byte) error {
	h.mu.Lock()
	if h.dropped {
		h.mu.Unlock()
		return fmt.Errorf("stream %s: %w", h.sessionID, session.ErrSessionClosed)
	}
	total := h.bytes + int64(len(data))
	elapsed := time.Since(h.started)
	h.mu.Unlock()

	var reason string
	switch {
	case h.limits.MaxFragmentBytes > 0 && len(data) > h.limits.MaxFragmentBytes:
		reason = fmt.Sprintf("fragment too large: %d > %d bytes", len(data), h.limits.MaxFragmentBytes)
	case h.limits.MaxSessionBytes > 0 && total > h.limits.MaxSessionBytes:
		reason = fmt.Sprintf("max session bytes exceeded: %d > %d", total, h.limits.MaxSessionBytes)
	case h.limits.MaxDuration > 0 && elapsed > h.limits.MaxDuration:
		reason = fmt.Sprintf("max duration exceeded: %v > %v", elapsed.Round(time.Second), h.limits.MaxDuration)
	}
	if reason != "" {
		h.Abort(reason)
		return fmt.Errorf("%w: %s", ErrLimitExceeded, reason)
	}

	if err := h.sessions.AppendFragment(ctx, h.sessionID, data); err != nil {
		return err
	}

	h.mu.Lock()
	h.bytes = total
	h.fragments++
	h.mu.Unlock()
	return nil
}

// End signals that the client has finished sending audio.
func (h *Handler) End() error {
	h.stopDeadline()
	m := h.Metrics()
	h.logger.Info().
		Int64("bytes", m.AudioBytes).
		Int("fragments", m.Fragments).
		Dur("duration", m.Duration.Round(time.Millisecond)).
		Msg("Stream ended by client")
	return h.sessions.End(h.sessionID)
}

// Abort drops the stream and moves the session to the error state.
// Returns true if this call aborted it, false if it had already finished.
func (h *Handler) Abort(reason string) bool {
	h.mu.Lock()
	h.dropped = true
	if h.deadline != nil {
		h.deadline.Stop()
	}
	h.mu.Unlock()

	if err := h.sessions.Abort(h.sessionID, reason); err != nil {
		h.logger.Debug().Err(err).Str("reason", reason).Msg("Abort ignored")
		return false
	}
	h.logger.Warn().Str("reason", reason).Msg("Stream dropped")
	return true
}

// Wait blocks until the session has been finalized.
func (h *Handler) Wait(ctx context.Context) (orchestrator.Result, error) {
	return h.sessions.Wait(ctx, h.sessionID)
}

// StreamMetrics holds current stream usage.
type StreamMetrics struct {
	AudioBytes int64
	Fragments  int
	Duration   time.Duration
}

// Metrics returns current stream usage for observability.
func (h *Handler) Metrics() StreamMetrics {
	h.mu.Lock()
	defer h.mu.Unlock()
	return StreamMetrics{
		AudioBytes: h.bytes,
		Fragments:  h.fragments,
		Duration:   time.Since(h.started),
	}
}
