package segment

import (
	"errors"
	"time"
)

// ErrSegmenterClosed is returned when appending after Close.
var ErrSegmenterClosed = errors.New("segmenter is closed")

// Config controls segment boundaries.
type Config struct {
	Window         time.Duration
	BytesPerSecond int64
}

// Segmenter accumulates fragments in arrival order and seals a Segment each
// time the pending span reaches the window. It is owned by a single
// ingestion goroutine and is not safe for concurrent use.
type Segmenter struct {
	cfg     Config
	counter Counter

	stream       []byte
	pendingFrom  int
	pendingStart time.Duration
	pendingFrags int
	lastSeq      uint64
	closed       bool
}

// NewSegmenter creates a segmenter. A non-positive window seals every fragment.
func NewSegmenter(cfg Config) *Segmenter {
	return &Segmenter{cfg: cfg}
}

// Append folds a fragment into the pending span. It returns the sealed
// segment when the span reached the window, otherwise nil.
func (s *Segmenter) Append(f Fragment) (*Segment, error) {
	if s.closed {
		return nil, ErrSegmenterClosed
	}
	if len(f.Data) == 0 {
		return nil, nil
	}
	s.stream = append(s.stream, f.Data...)
	s.pendingFrags++
	s.lastSeq = f.Seq

	if s.pending() < s.cfg.Window {
		return nil, nil
	}
	return s.seal(false), nil
}

// Close stops accepting fragments and seals any non-empty pending span as
// the terminal segment. It returns nil when nothing was pending.
func (s *Segmenter) Close() *Segment {
	if s.closed {
		return nil
	}
	s.closed = true
	if len(s.stream) == s.pendingFrom {
		return nil
	}
	return s.seal(true)
}

// Pending returns the estimated duration of the unsealed span.
func (s *Segmenter) Pending() time.Duration {
	return s.pending()
}

// Sealed returns how many segments have been sealed.
func (s *Segmenter) Sealed() int {
	return s.counter.Issued()
}

// StreamBytes returns the total number of bytes received.
func (s *Segmenter) StreamBytes() int {
	return len(s.stream)
}

func (s *Segmenter) pending() time.Duration {
	return estimate(int64(len(s.stream)-s.pendingFrom), s.cfg.BytesPerSecond)
}

func (s *Segmenter) seal(final bool) *Segment {
	from, to := s.pendingFrom, len(s.stream)
	est := s.pending()

	seg := &Segment{
		Index: s.counter.Next(),
		// Capped slices: later appends to the stream can never grow into a sealed view.
		Head:      s.stream[:from:from],
		Data:      s.stream[from:to:to],
		Start:     s.pendingStart,
		Estimated: est,
		Final:     final,
		Fragments: s.pendingFrags,
	}

	s.pendingFrom = to
	s.pendingStart += est
	s.pendingFrags = 0
	return seg
}
