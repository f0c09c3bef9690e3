package transcript

import (
	"errors"
	"strings"
)

// ErrIncompleteSession is returned when outstanding work could not be
// drained in time. The accompanying Transcript is still usable.
var ErrIncompleteSession = errors.New("session incomplete: outstanding work not drained")

// Separator goes between consecutive pieces.
const Separator = "\n\n"

// Transcript is the ordered result of one session.
type Transcript struct {
	SessionID string
	Text      string
	Pieces    []Piece
	Failed    []int // sealed indices whose piece failed
	Missing   []int // sealed indices with no piece at all
	Partial   bool  // true when Failed or Missing is non-empty
}

// Assemble joins the successful, non-blank pieces in index order. Every
// index in [0, sealed) is accounted for as ok, failed or missing.
func Assemble(sessionID string, sealed int, pieces []Piece) Transcript {
	t := Transcript{SessionID: sessionID, Pieces: pieces}

	byIndex := make(map[int]Piece, len(pieces))
	for _, p := range pieces {
		byIndex[p.Index] = p
	}

	var parts []string
	for i := 0; i < sealed; i++ {
		p, ok := byIndex[i]
		switch {
		case !ok:
			t.Missing = append(t.Missing, i)
		case !p.OK:
			t.Failed = append(t.Failed, i)
		default:
			if text := strings.TrimSpace(p.Text); text != "" {
				parts = append(parts, text)
			}
		}
	}

	t.Text = strings.Join(parts, Separator)
	t.Partial = len(t.Failed) > 0 || len(t.Missing) > 0
	return t
}

// Status summarises the transcript for events: "complete" or "partial".
func (t Transcript) Status() string {
	if t.Partial {
		return "partial"
	}
	return "complete"
}
