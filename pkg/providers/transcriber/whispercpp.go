//go:build cgo

package transcriber

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	whispercpp "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// WhisperCPP is a Transcriber backed by an in-process whisper.cpp model, the
// process-wide singleton acoustic model described in spec §5. A whisper.cpp
// Context is not safe for concurrent Process calls against the same Model,
// so callers must serialize access externally (the pipeline does this with
// a semaphore sized to the desired concurrency); WhisperCPP's own mutex is a
// last-resort backstop against misuse, not the primary serialization point.
type WhisperCPP struct {
	mu    sync.Mutex
	model whispercpp.Model
}

// NewWhisperCPP loads a ggml model file from modelPath.
func NewWhisperCPP(modelPath string) (*WhisperCPP, error) {
	model, err := whispercpp.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("transcriber: load whisper model %q: %w", modelPath, err)
	}
	return &WhisperCPP{model: model}, nil
}

// Transcribe implements Transcriber. The whisper.cpp binding processes
// synchronously and cannot be interrupted mid-call; ctx is only checked
// before starting so a caller that already timed out skips the call.
func (w *WhisperCPP) Transcribe(ctx context.Context, pcm []byte, initialPrompt string, language string, beamSize int) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	wctx, err := w.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("transcriber: new context: %w", err)
	}

	if language != "" {
		if err := wctx.SetLanguage(language); err != nil {
			return Result{}, fmt.Errorf("transcriber: set language: %w", err)
		}
	}
	if initialPrompt != "" {
		wctx.SetInitialPrompt(initialPrompt)
	}
	if beamSize > 0 {
		wctx.SetBeamSize(beamSize)
	}

	samples := pcm16ToFloat32(pcm)
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("transcriber: process audio: %w", err)
	}

	var (
		text     strings.Builder
		segments []Segment
	)
	for {
		seg, err := wctx.NextSegment()
		if err != nil {
			break
		}
		if text.Len() > 0 {
			text.WriteByte(' ')
		}
		text.WriteString(seg.Text)
		segments = append(segments, Segment{
			StartSec: seg.Start.Seconds(),
			EndSec:   seg.End.Seconds(),
			Text:     seg.Text,
		})
	}

	return Result{
		Text:             text.String(),
		Segments:         segments,
		LanguageDetected: wctx.DetectedLanguage(),
	}, nil
}

// pcm16ToFloat32 converts 16-bit little-endian signed PCM into the
// normalized [-1, 1] float32 samples whisper.cpp expects.
func pcm16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		out[i] = float32(s) / 32768.0
	}
	return out
}
