// Package buffer implements the session's rolling PCM window: the
// cumulative audio buffer fed whole to each recognition pass, bounded to
// the acoustic model's context window and trimmed with an overlap tail so
// successive passes stay acoustically continuous (spec §4.1).
package buffer

import (
	"sync"
	"time"

	"github.com/kotoba-ai/kotoba-stream/pkg/audio"
)

// CumulativeBuffer accumulates PCM frames in append order, enforces a byte
// cap by evicting whole chunks from the head, and always preserves an
// overlap tail. Chunk boundaries are preserved internally so trimming never
// splits a chunk.
type CumulativeBuffer struct {
	mu sync.Mutex

	chunks     [][]byte
	totalBytes int

	sampleRate    int
	maxAudioBytes int
	overlapBytes  int

	promptMaxChars int
	confirmedTail  string

	createdAt time.Time
}

// New returns a CumulativeBuffer for sampleRate Hz 16-bit mono PCM, capped
// at maxAudioSeconds and retaining an overlapSeconds tail on trim.
// promptMaxChars bounds InitialPrompt's output (spec §4.1, §6).
func New(sampleRate int, maxAudioSeconds, overlapSeconds float64, promptMaxChars int) *CumulativeBuffer {
	bytesPerSec := sampleRate * audio.BytesPerSample
	return &CumulativeBuffer{
		sampleRate:     sampleRate,
		maxAudioBytes:  int(maxAudioSeconds * float64(bytesPerSec)),
		overlapBytes:   int(overlapSeconds * float64(bytesPerSec)),
		promptMaxChars: promptMaxChars,
		createdAt:      time.Now(),
	}
}

// Append records a chunk of PCM bytes, then trims. It rejects frames that
// aren't 16-bit aligned.
func (b *CumulativeBuffer) Append(chunk []byte) error {
	if len(chunk)%audio.BytesPerSample != 0 {
		return audio.ErrOddFrame
	}
	if len(chunk) == 0 {
		return nil
	}

	cp := make([]byte, len(chunk))
	copy(cp, chunk)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, cp)
	b.totalBytes += len(cp)
	b.trimLocked()
	return nil
}

// trimLocked enforces maxAudioBytes by evicting whole chunks from the head,
// but never below the overlap tail. A single chunk that alone exceeds
// maxAudioBytes replaces the entire buffer with its own tail.
func (b *CumulativeBuffer) trimLocked() {
	if len(b.chunks) > 0 {
		last := b.chunks[len(b.chunks)-1]
		if len(last) > b.maxAudioBytes {
			tail := make([]byte, b.maxAudioBytes)
			copy(tail, last[len(last)-b.maxAudioBytes:])
			b.chunks = [][]byte{tail}
			b.totalBytes = len(tail)
			return
		}
	}

	for b.totalBytes > b.maxAudioBytes && len(b.chunks) > 0 {
		head := b.chunks[0]
		if b.totalBytes-len(head) < b.overlapBytes {
			// Evicting this chunk would cut into the overlap tail we must keep.
			break
		}
		b.totalBytes -= len(head)
		b.chunks = b.chunks[1:]
	}
}

// Snapshot returns a copy of the buffer's current contents, safe to hand to
// a long-running Transcriber call without holding the lock.
func (b *CumulativeBuffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, 0, b.totalBytes)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// DurationSec returns the current buffer length in seconds of audio.
func (b *CumulativeBuffer) DurationSec() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.durationSecLocked()
}

func (b *CumulativeBuffer) durationSecLocked() float64 {
	bytesPerSec := float64(b.sampleRate * audio.BytesPerSample)
	if bytesPerSec == 0 {
		return 0
	}
	return float64(b.totalBytes) / bytesPerSec
}

// TotalBytes returns the current buffer length in bytes.
func (b *CumulativeBuffer) TotalBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalBytes
}

// OverlapBytes exposes the configured overlap tail size, for tests that
// assert the overlap-preservation invariant.
func (b *CumulativeBuffer) OverlapBytes() int {
	return b.overlapBytes
}

// MaxAudioBytes exposes the configured byte cap.
func (b *CumulativeBuffer) MaxAudioBytes() int {
	return b.maxAudioBytes
}

// SessionElapsedSec returns wall-clock seconds since the buffer (and thus
// the owning session) was created. Independent of buffer content length.
func (b *CumulativeBuffer) SessionElapsedSec() float64 {
	return time.Since(b.createdAt).Seconds()
}

// SetConfirmedText records the session's current confirmed transcript so
// InitialPrompt can derive a prompt hint from it. Called by the pipeline
// scheduler after each transcription pass.
func (b *CumulativeBuffer) SetConfirmedText(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmedTail = text
}

// InitialPrompt returns up to promptMaxChars code points from the tail of
// the confirmed transcript, to bias the next recognition pass (spec §4.1).
// The second return value is false when there is no confirmed text yet.
func (b *CumulativeBuffer) InitialPrompt() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.confirmedTail == "" {
		return "", false
	}
	runes := []rune(b.confirmedTail)
	if len(runes) > b.promptMaxChars {
		runes = runes[len(runes)-b.promptMaxChars:]
	}
	return string(runes), true
}

// Reset discards all buffered audio. Used on session destroy.
func (b *CumulativeBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.totalBytes = 0
}
