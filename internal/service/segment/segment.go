// Package segment groups arriving audio fragments into fixed-duration,
// sequentially indexed segments.
package segment

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrUnmeasurable is returned by a Prober that cannot determine a duration.
var ErrUnmeasurable = errors.New("segment duration is unmeasurable")

// Counter hands out gap-free, zero-based segment indices for one session.
type Counter struct {
	next int64
}

// Next returns the next index.
func (c *Counter) Next() int {
	return int(atomic.AddInt64(&c.next, 1) - 1)
}

// Issued returns how many indices have been handed out.
func (c *Counter) Issued() int {
	return int(atomic.LoadInt64(&c.next))
}

// Fragment is one unit of raw audio as received from the transport.
type Fragment struct {
	Seq  uint64
	Data []byte
}

// Segment is a sealed, contiguous span of fragments.
//
// Head is a read-only view of every stream byte that precedes Data. Browser
// recorders only emit the container header once, so later spans cannot be
// decoded without it.
type Segment struct {
	Index     int
	Data      []byte
	Head      []byte
	Start     time.Duration // estimated offset of Data within the stream
	Estimated time.Duration // estimated length of Data
	Final     bool
	Duration  time.Duration // probed length; set for the terminal segment
	Fragments int
}

// ID returns a stable identifier for logs and events.
func (s Segment) ID(sessionID string) string {
	return fmt.Sprintf("%s-seg-%d", sessionID, s.Index)
}

// Container returns Head and Data concatenated into a new slice.
func (s Segment) Container() []byte {
	out := make([]byte, 0, len(s.Head)+len(s.Data))
	out = append(out, s.Head...)
	return append(out, s.Data...)
}

// Prober measures the playable duration of a segment.
type Prober interface {
	Probe(ctx context.Context, seg Segment) (time.Duration, error)
}

// ByteRateProber estimates duration from the byte count under a fixed
// encoding bitrate.
type ByteRateProber struct {
	BytesPerSecond int64
}

// Probe implements Prober.
func (p ByteRateProber) Probe(_ context.Context, seg Segment) (time.Duration, error) {
	if len(seg.Data) == 0 || p.BytesPerSecond <= 0 {
		return 0, ErrUnmeasurable
	}
	return estimate(int64(len(seg.Data)), p.BytesPerSecond), nil
}

func estimate(bytes, bytesPerSecond int64) time.Duration {
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(bytes * int64(time.Second) / bytesPerSecond)
}
