// Package session owns per-connection state: processing options, the
// confirmed/tentative text history, and the process-wide registry that maps
// session ids to live sessions with idle eviction (spec §3, §4.5).
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kotoba-ai/kotoba-stream/pkg/buffer"
	"github.com/kotoba-ai/kotoba-stream/pkg/differ"
)

// Options are the client-controlled processing toggles, set via an
// "options" control message and idempotently overridden (last value wins,
// unknown keys ignored).
type Options struct {
	EnableHiragana    bool
	EnableTranslation bool
	EnableSummary     bool
	RawPCM            bool
}

// HistoryEntry records one growth of the confirmed prefix, appended
// append-only and released on session destroy.
type HistoryEntry struct {
	TimestampSec float64
	Text         string
	Hiragana     string
	Translation  string
}

// State is one connection's full server-side state: the id, its processing
// options, the rolling audio buffer, the differ, the derived text fields and
// history, and bookkeeping needed for idle eviction and sequencing.
//
// Buffer and Differ each serialize their own mutations with an internal
// mutex; mu guards the remaining fields of State.
type State struct {
	mu sync.Mutex

	ID           string
	CreatedAt    time.Time
	lastActivity time.Time

	Options Options

	Buffer *buffer.CumulativeBuffer
	Differ *differ.TextDiffer

	ConfirmedHiragana    string
	ConfirmedTranslation string

	history []HistoryEntry
	ended   bool

	sequence int

	chunksSinceTranscription int
}

// New builds a session with a fresh random id and the given buffer/differ
// configuration.
func New(maxAudioSeconds, overlapSeconds float64, sampleRate, promptMaxChars int) *State {
	now := time.Now()
	return &State{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		lastActivity: now,
		Buffer:       buffer.New(sampleRate, maxAudioSeconds, overlapSeconds, promptMaxChars),
		Differ:       differ.New(),
	}
}

// Touch records activity for idle-eviction purposes.
func (s *State) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// LastActivity returns the last-touch timestamp.
func (s *State) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// ApplyOptions replaces the session's options with opts as a whole, so a
// toggle absent from the latest message reads as false. Unknown keys are the caller's (stream layer's) concern to ignore during
// JSON decode; this just overwrites the four known toggles, last value wins.
func (s *State) ApplyOptions(opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Options = opts
}

// SnapshotOptions returns a copy of the current options.
func (s *State) SnapshotOptions() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Options
}

// NextSequence returns the next monotonically increasing sequence number
// for an emitted transcription_update/session_end (spec §4.4, §8).
func (s *State) NextSequence() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	return s.sequence
}

// IncrementChunkCounter bumps the chunks-since-last-transcription counter
// and returns the new value, used by the scheduler's trigger rule (§4.2).
func (s *State) IncrementChunkCounter() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunksSinceTranscription++
	return s.chunksSinceTranscription
}

// ResetChunkCounter zeroes the counter after a transcription is scheduled.
func (s *State) ResetChunkCounter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunksSinceTranscription = 0
}

// ChunksSinceTranscription reports the counter's current value without
// mutating it, for the stream layer's "accumulating" progress events.
func (s *State) ChunksSinceTranscription() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunksSinceTranscription
}

// AppendHistory records a confirmed-text growth. Called whenever the
// confirmed prefix grows, per spec §3.
func (s *State) AppendHistory(e HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, e)
}

// History returns a copy of the recorded history entries.
func (s *State) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// MarkEnded flags the session as having received "end" (or hit fatal
// error), idempotently. Returns true the first time it transitions.
func (s *State) MarkEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	return true
}

// Ended reports whether end-of-stream has already been initiated.
func (s *State) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}
