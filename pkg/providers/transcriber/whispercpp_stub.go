//go:build !cgo

package transcriber

import (
	"context"
	"fmt"
)

// WhisperCPP is unavailable in a non-cgo build; this file keeps
// NewWhisperCPP linkable so cmd/server doesn't need its own build tags.
type WhisperCPP struct{}

// NewWhisperCPP always fails in a non-cgo build.
func NewWhisperCPP(modelPath string) (*WhisperCPP, error) {
	return nil, fmt.Errorf("transcriber: whisper.cpp requires a cgo build (modelPath %q)", modelPath)
}

// Transcribe is unreachable since NewWhisperCPP always errors.
func (w *WhisperCPP) Transcribe(ctx context.Context, pcm []byte, initialPrompt, language string, beamSize int) (Result, error) {
	return Result{}, fmt.Errorf("transcriber: whisper.cpp requires a cgo build")
}
