package segment

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const testBytesPerSecond = 100

func fragmentOf(seconds int, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, seconds*testBytesPerSecond)
}

// feed appends n fragments of fragSeconds each and returns every sealed segment,
// including the terminal one.
func feed(t *testing.T, s *Segmenter, n, fragSeconds int) []*Segment {
	t.Helper()
	var out []*Segment
	for i := 0; i < n; i++ {
		seg, err := s.Append(Fragment{Seq: uint64(i), Data: fragmentOf(fragSeconds, byte(i))})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if seg != nil {
			out = append(out, seg)
		}
	}
	if tail := s.Close(); tail != nil {
		out = append(out, tail)
	}
	return out
}

func newTestSegmenter() *Segmenter {
	return NewSegmenter(Config{Window: 60 * time.Second, BytesPerSecond: testBytesPerSecond})
}

func TestCounter_Next(t *testing.T) {
	var c Counter

	for want := 0; want < 5; want++ {
		if got := c.Next(); got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}
	if c.Issued() != 5 {
		t.Errorf("expected 5 issued, got %d", c.Issued())
	}
}

func TestCounter_ThreadSafety(t *testing.T) {
	var c Counter
	numGoroutines := 100
	perGoroutine := 10

	var wg sync.WaitGroup
	results := make(chan int, numGoroutines*perGoroutine)
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				results <- c.Next()
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for idx := range results {
		if seen[idx] {
			t.Errorf("duplicate index %d", idx)
		}
		seen[idx] = true
	}
	for i := 0; i < numGoroutines*perGoroutine; i++ {
		if !seen[i] {
			t.Errorf("gap at index %d", i)
		}
	}
}

func TestSegmenter_GapFreeIndices(t *testing.T) {
	tests := []struct {
		name      string
		fragments int
		fragSecs  int
		wantCount int
	}{
		{"single short fragment", 1, 5, 1},
		{"exactly one window", 12, 5, 1},
		{"one window plus a bit", 13, 5, 2},
		{"125 seconds", 25, 5, 3},
		{"185 seconds", 37, 5, 4},
		{"one-second fragments", 150, 1, 3},
		{"oversized fragment", 1, 130, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs := feed(t, newTestSegmenter(), tt.fragments, tt.fragSecs)

			if len(segs) != tt.wantCount {
				t.Fatalf("expected %d segments, got %d", tt.wantCount, len(segs))
			}
			for i, seg := range segs {
				if seg.Index != i {
					t.Errorf("segment %d has index %d", i, seg.Index)
				}
			}
		})
	}
}

func TestSegmenter_125SecondScenario(t *testing.T) {
	segs := feed(t, newTestSegmenter(), 25, 5)

	want := []struct {
		est   time.Duration
		start time.Duration
		final bool
	}{
		{60 * time.Second, 0, false},
		{60 * time.Second, 60 * time.Second, false},
		{5 * time.Second, 120 * time.Second, true},
	}
	for i, w := range want {
		seg := segs[i]
		if seg.Estimated != w.est {
			t.Errorf("segment %d: expected %v, got %v", i, w.est, seg.Estimated)
		}
		if seg.Start != w.start {
			t.Errorf("segment %d: expected start %v, got %v", i, w.start, seg.Start)
		}
		if seg.Final != w.final {
			t.Errorf("segment %d: expected final=%v", i, w.final)
		}
	}
	if segs[0].Fragments != 12 || segs[2].Fragments != 1 {
		t.Errorf("unexpected fragment counts: %d, %d", segs[0].Fragments, segs[2].Fragments)
	}
}

func TestSegmenter_HeadCarriesPrecedingBytes(t *testing.T) {
	segs := feed(t, newTestSegmenter(), 25, 5)

	if len(segs[0].Head) != 0 {
		t.Errorf("first segment should have no head, got %d bytes", len(segs[0].Head))
	}
	if len(segs[1].Head) != len(segs[0].Data) {
		t.Errorf("second head should equal first data length")
	}
	if !bytes.Equal(segs[2].Head, append(append([]byte{}, segs[0].Data...), segs[1].Data...)) {
		t.Error("terminal head should be the concatenation of earlier spans")
	}
	if got := segs[2].Container(); len(got) != 125*testBytesPerSecond {
		t.Errorf("container should hold the whole stream, got %d bytes", len(got))
	}
}

func TestSegmenter_SealedSegmentsAreImmutable(t *testing.T) {
	s := newTestSegmenter()
	var first *Segment
	for i := 0; first == nil; i++ {
		seg, _ := s.Append(Fragment{Seq: uint64(i), Data: fragmentOf(5, 0xAA)})
		first = seg
	}
	snapshot := append([]byte{}, first.Data...)

	for i := 0; i < 30; i++ {
		s.Append(Fragment{Data: fragmentOf(5, 0x55)})
	}

	if !bytes.Equal(first.Data, snapshot) {
		t.Error("sealed data changed after further appends")
	}
	if cap(first.Data) != len(first.Data) {
		t.Error("sealed data must be capacity-capped")
	}
}

func TestSegmenter_AppendAfterClose(t *testing.T) {
	s := newTestSegmenter()
	s.Append(Fragment{Data: fragmentOf(5, 1)})
	s.Close()

	if _, err := s.Append(Fragment{Data: fragmentOf(5, 1)}); !errors.Is(err, ErrSegmenterClosed) {
		t.Errorf("expected ErrSegmenterClosed, got %v", err)
	}
	if s.Close() != nil {
		t.Error("second Close should return nil")
	}
}

func TestSegmenter_CloseWithoutPending(t *testing.T) {
	s := newTestSegmenter()
	for i := 0; i < 12; i++ {
		s.Append(Fragment{Data: fragmentOf(5, 1)})
	}
	if tail := s.Close(); tail != nil {
		t.Errorf("expected no terminal segment on a window boundary, got index %d", tail.Index)
	}
	if s.Sealed() != 1 {
		t.Errorf("expected 1 sealed segment, got %d", s.Sealed())
	}
}

func TestSegmenter_EmptyFragmentIgnored(t *testing.T) {
	s := newTestSegmenter()
	seg, err := s.Append(Fragment{})
	if seg != nil || err != nil {
		t.Fatalf("expected no-op, got %v %v", seg, err)
	}
	if s.Close() != nil {
		t.Error("empty session should have no terminal segment")
	}
}

func TestByteRateProber(t *testing.T) {
	p := ByteRateProber{BytesPerSecond: testBytesPerSecond}

	d, err := p.Probe(context.Background(), Segment{Data: fragmentOf(5, 0)})
	if err != nil || d != 5*time.Second {
		t.Errorf("Probe = %v, %v; want 5s", d, err)
	}
	if _, err := p.Probe(context.Background(), Segment{}); !errors.Is(err, ErrUnmeasurable) {
		t.Errorf("expected ErrUnmeasurable for empty data, got %v", err)
	}
}

func TestSegment_ID(t *testing.T) {
	if got := (Segment{Index: 3}).ID("abc"); got != "abc-seg-3" {
		t.Errorf("unexpected id %s", got)
	}
}
