package transcript

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

func ok(i int, text string) Piece { return Piece{Index: i, Text: text, OK: true} }

func failed(i int) Piece { return Piece{Index: i, Err: errors.New("boom")} }

func TestAggregator_OrdersByIndex(t *testing.T) {
	a := NewAggregator()
	for _, p := range []Piece{ok(2, "two"), ok(0, "zero"), ok(1, "one")} {
		if _, err := a.Record(p); err != nil {
			t.Fatal(err)
		}
	}

	snap := a.SnapshotOrdered()
	for i, p := range snap {
		if p.Index != i {
			t.Errorf("position %d holds index %d", i, p.Index)
		}
	}

	got := Assemble("s1", 3, snap)
	if got.Text != "zero\n\none\n\ntwo" {
		t.Errorf("unexpected text %q", got.Text)
	}
	if got.Partial || got.Status() != "complete" {
		t.Error("expected a complete transcript")
	}
}

func TestAggregator_DuplicateLastWriteWins(t *testing.T) {
	a := NewAggregator()
	if replaced, _ := a.Record(ok(0, "first")); replaced {
		t.Error("first write reported as replacement")
	}
	if replaced, _ := a.Record(ok(0, "second")); !replaced {
		t.Error("duplicate write not reported")
	}
	if a.Len() != 1 {
		t.Errorf("expected 1 piece, got %d", a.Len())
	}
	if got := a.SnapshotOrdered()[0].Text; got != "second" {
		t.Errorf("expected last write to win, got %q", got)
	}
}

func TestAggregator_Seal(t *testing.T) {
	a := NewAggregator()
	a.Record(ok(0, "kept"))
	a.Seal()

	if _, err := a.Record(ok(1, "late")); !errors.Is(err, ErrAggregatorSealed) {
		t.Errorf("expected ErrAggregatorSealed, got %v", err)
	}
	if a.Len() != 1 {
		t.Errorf("late write mutated the aggregator")
	}
}

func TestAggregator_ConcurrentRecord(t *testing.T) {
	a := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a.Record(ok(i, "x"))
		}(i)
	}
	wg.Wait()

	snap := a.SnapshotOrdered()
	if len(snap) != 100 {
		t.Fatalf("expected 100 pieces, got %d", len(snap))
	}
	for i, p := range snap {
		if p.Index != i {
			t.Fatalf("snapshot out of order at %d", i)
		}
	}
}

func TestAssemble(t *testing.T) {
	tests := []struct {
		name        string
		sealed      int
		pieces      []Piece
		wantText    string
		wantFailed  []int
		wantMissing []int
	}{
		{
			name:     "all successful",
			sealed:   3,
			pieces:   []Piece{ok(0, "a"), ok(1, "b"), ok(2, "c")},
			wantText: "a\n\nb\n\nc",
		},
		{
			name:       "middle failure is a silent gap",
			sealed:     3,
			pieces:     []Piece{ok(0, "piece zero"), failed(1), ok(2, "piece two")},
			wantText:   "piece zero\n\npiece two",
			wantFailed: []int{1},
		},
		{
			name:        "undrained index is missing",
			sealed:      3,
			pieces:      []Piece{ok(0, "a"), ok(1, "b")},
			wantText:    "a\n\nb",
			wantMissing: []int{2},
		},
		{
			name:     "blank pieces are skipped",
			sealed:   3,
			pieces:   []Piece{ok(0, "a"), ok(1, "   \n"), ok(2, " c ")},
			wantText: "a\n\nc",
		},
		{
			name:   "no segments",
			sealed: 0,
		},
		{
			name:       "everything failed",
			sealed:     2,
			pieces:     []Piece{failed(0), failed(1)},
			wantFailed: []int{0, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Assemble("s1", tt.sealed, tt.pieces)
			if got.Text != tt.wantText {
				t.Errorf("text: expected %q, got %q", tt.wantText, got.Text)
			}
			if !reflect.DeepEqual(got.Failed, tt.wantFailed) {
				t.Errorf("failed: expected %v, got %v", tt.wantFailed, got.Failed)
			}
			if !reflect.DeepEqual(got.Missing, tt.wantMissing) {
				t.Errorf("missing: expected %v, got %v", tt.wantMissing, got.Missing)
			}
			wantPartial := len(tt.wantFailed) > 0 || len(tt.wantMissing) > 0
			if got.Partial != wantPartial {
				t.Errorf("partial: expected %v", wantPartial)
			}
		})
	}
}
