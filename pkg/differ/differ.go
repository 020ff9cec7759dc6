// Package differ stabilizes the confirmed/tentative split across
// successive, overlapping transcription passes (spec §4.3). Each pass
// yields the full text of the current cumulative buffer; the differ finds
// how much of it has become stable and never lets the emitted confirmed
// prefix shrink.
package differ

import "sync"

// State is a confirmed/tentative pair, the unit this package produces and
// consumes.
type State struct {
	Confirmed string
	Tentative string
}

// TextDiffer holds the previously-emitted confirmed/tentative split and
// computes the next one from a fresh full-text transcript.
type TextDiffer struct {
	mu    sync.Mutex
	state State
}

// New returns a TextDiffer with empty initial state.
func New() *TextDiffer {
	return &TextDiffer{}
}

// State returns the last-emitted confirmed/tentative pair without mutating
// it.
func (d *TextDiffer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Update computes the confirmed/tentative split for a new full transcript
// from the acoustic model, per spec §4.3.
//
// Text up through the last sentence boundary in newText is a confirmation
// candidate. It is accepted, and the confirmed prefix grows, only while
// newText still agrees with everything already confirmed. If the model's
// latest pass rewrites text inside the already-confirmed region, that
// region is left untouched and the whole of newText is treated as
// tentative instead: a later pass gets another chance to re-confirm past
// that point, but what was already handed to the client as settled never
// changes or shrinks.
func (d *TextDiffer) Update(newText string) State {
	d.mu.Lock()
	defer d.mu.Unlock()

	newRunes := []rune(newText)
	prevConfirmed := []rune(d.state.Confirmed)

	lcp := commonPrefixLen(newRunes, prevConfirmed)
	if lcp < len(prevConfirmed) {
		d.state = State{Confirmed: d.state.Confirmed, Tentative: newText}
		return d.state
	}

	boundary := nearestBoundaryAtMost(newRunes, len(newRunes))
	confirmedLen := boundary
	if confirmedLen < len(prevConfirmed) {
		confirmedLen = len(prevConfirmed)
	}

	confirmed := string(newRunes[:confirmedLen])
	tentative := string(newRunes[confirmedLen:])
	d.state = State{Confirmed: confirmed, Tentative: tentative}
	return d.state
}

// Finalize promotes all remaining tentative text to confirmed, for the
// end-of-stream protocol (spec §4.3). The returned state always has an
// empty Tentative.
func (d *TextDiffer) Finalize() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.state = State{Confirmed: d.state.Confirmed + d.state.Tentative}
	return d.state
}

// Reset clears the differ back to its initial empty state.
func (d *TextDiffer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = State{}
}
