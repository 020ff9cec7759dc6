// Package transcriber defines the opaque acoustic-model contract (spec §6)
// and a concrete whisper.cpp-backed implementation.
package transcriber

import "context"

// Segment is one timed span of recognized text within a single
// transcription call. Segments are non-overlapping and ascending by start
// time within a call (spec §3).
type Segment struct {
	StartSec float64
	EndSec   float64
	Text     string
}

// Transcriber turns PCM into text. Implementations may be intrinsically
// thread-safe or require external serialization (spec §5); this package's
// whisper.cpp adapter requires the latter, via a semaphore owned by its
// caller.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, initialPrompt string, language string, beamSize int) (Result, error)
}

// Result is the full output of one transcription call.
type Result struct {
	Text             string
	Segments         []Segment
	LanguageDetected string
}
