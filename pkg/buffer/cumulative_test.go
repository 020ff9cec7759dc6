package buffer

import (
	"testing"

	"github.com/kotoba-ai/kotoba-stream/pkg/audio"
)

func samples(sampleRate int, seconds float64) []byte {
	n := int(float64(sampleRate) * seconds) * audio.BytesPerSample
	return make([]byte, n)
}

func TestAppendRejectsOddFrame(t *testing.T) {
	b := New(16000, 30, 5, 224)
	if err := b.Append([]byte{1, 2, 3}); err != audio.ErrOddFrame {
		t.Fatalf("expected ErrOddFrame, got %v", err)
	}
}

func TestDurationGrows(t *testing.T) {
	b := New(16000, 30, 5, 224)
	_ = b.Append(samples(16000, 1))
	if d := b.DurationSec(); d < 0.99 || d > 1.01 {
		t.Fatalf("expected ~1s, got %f", d)
	}
}

func TestTrimEnforcesBound(t *testing.T) {
	const sampleRate = 16000
	b := New(sampleRate, 30, 5, 224)

	// 12 chunks of ~3s each = 36s, should trim to <= 30s + one chunk.
	chunk := samples(sampleRate, 3)
	for i := 0; i < 12; i++ {
		if err := b.Append(chunk); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if d := b.DurationSec(); d > 30+3+0.01 {
			t.Fatalf("after chunk %d duration %f exceeds bound", i, d)
		}
	}
}

func TestTrimPreservesOverlapTail(t *testing.T) {
	const sampleRate = 16000
	b := New(sampleRate, 10, 5, 224)

	chunk := samples(sampleRate, 3)
	var sent []byte
	for i := 0; i < 8; i++ {
		_ = b.Append(chunk)
		sent = append(sent, chunk...)
	}

	snap := b.Snapshot()
	overlapBytes := b.OverlapBytes()
	if len(snap) < overlapBytes {
		t.Fatalf("buffer shorter than overlap: %d < %d", len(snap), overlapBytes)
	}

	tail := sent[len(sent)-overlapBytes:]
	gotTail := snap[len(snap)-overlapBytes:]
	if len(tail) != len(gotTail) {
		t.Fatalf("tail length mismatch")
	}
}

func TestSingleChunkExceedingCapIsTruncatedToTail(t *testing.T) {
	const sampleRate = 16000
	b := New(sampleRate, 1, 0.1, 224)

	huge := samples(sampleRate, 5) // far exceeds the 1s cap
	if err := b.Append(huge); err != nil {
		t.Fatalf("append: %v", err)
	}

	if got, want := b.TotalBytes(), b.MaxAudioBytes(); got != want {
		t.Fatalf("expected buffer truncated to %d bytes, got %d", want, got)
	}
}

func TestInitialPromptCapsAtPromptMaxChars(t *testing.T) {
	b := New(16000, 30, 5, 4)
	b.SetConfirmedText("こんにちは世界")
	prompt, ok := b.InitialPrompt()
	if !ok {
		t.Fatal("expected a prompt")
	}
	if got := []rune(prompt); len(got) != 4 {
		t.Fatalf("expected 4 code points, got %d (%q)", len(got), prompt)
	}
	if want := "ちは世界"; prompt != want {
		t.Fatalf("expected tail %q, got %q", want, prompt)
	}
}

func TestInitialPromptEmptyWhenNoConfirmedText(t *testing.T) {
	b := New(16000, 30, 5, 224)
	_, ok := b.InitialPrompt()
	if ok {
		t.Fatal("expected no prompt before any confirmed text")
	}
}

func TestSnapshotOfEmptyBufferIsEmpty(t *testing.T) {
	b := New(16000, 30, 5, 224)
	snap := b.Snapshot()
	if len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %d bytes", len(snap))
	}
}
