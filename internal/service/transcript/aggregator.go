// Package transcript collects per-segment results and stitches them into a
// single ordered transcript.
package transcript

import (
	"errors"
	"sort"
	"sync"
)

// ErrAggregatorSealed is returned by Record after Seal.
var ErrAggregatorSealed = errors.New("aggregator is sealed")

// Piece is the outcome of transcribing exactly one segment.
type Piece struct {
	Index int
	Text  string
	OK    bool
	Err   error
}

// Aggregator stores pieces keyed by segment index. It is safe for
// concurrent use; every method holds the lock only for a map operation.
type Aggregator struct {
	mu     sync.Mutex
	pieces map[int]Piece
	sealed bool
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{pieces: make(map[int]Piece)}
}

// Record stores p under its index. A second piece for the same index
// replaces the first and reports replaced=true.
func (a *Aggregator) Record(p Piece) (replaced bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return false, ErrAggregatorSealed
	}
	_, replaced = a.pieces[p.Index]
	a.pieces[p.Index] = p
	return replaced, nil
}

// Seal rejects further writes. Pieces that land after finalize are dropped.
func (a *Aggregator) Seal() {
	a.mu.Lock()
	a.sealed = true
	a.mu.Unlock()
}

// Len returns the number of recorded pieces.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pieces)
}

// SnapshotOrdered returns a copy of every recorded piece sorted by index.
func (a *Aggregator) SnapshotOrdered() []Piece {
	a.mu.Lock()
	out := make([]Piece, 0, len(a.pieces))
	for _, p := range a.pieces {
		out = append(out, p)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
