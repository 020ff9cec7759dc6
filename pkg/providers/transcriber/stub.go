package transcriber

import "context"

// Stub is a deterministic Transcriber keyed by the PCM payload's length,
// used by tests that need reproducible acoustic-model behavior without a
// real model (spec §8: "a deterministic Transcriber stub").
type Stub struct {
	// ByLen maps a PCM byte length to the text Transcribe should return for
	// any call whose pcm is that long. Tests key scenarios by chunk size
	// since the cumulative buffer's snapshot length uniquely identifies
	// "how much audio has arrived so far" in the scenarios this spec tests.
	ByLen map[int]string

	// Calls records every pcm length seen, for single-flight assertions.
	Calls []int
}

// NewStub returns an empty Stub.
func NewStub() *Stub {
	return &Stub{ByLen: make(map[int]string)}
}

// Transcribe implements Transcriber.
func (s *Stub) Transcribe(ctx context.Context, pcm []byte, initialPrompt string, language string, beamSize int) (Result, error) {
	s.Calls = append(s.Calls, len(pcm))
	text := s.ByLen[len(pcm)]
	return Result{Text: text, LanguageDetected: "ja"}, nil
}
