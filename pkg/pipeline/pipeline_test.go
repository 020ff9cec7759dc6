package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kotoba-ai/kotoba-stream/pkg/providers/transcriber"
	"github.com/kotoba-ai/kotoba-stream/pkg/session"
)

type collectingEmitter struct {
	mu      sync.Mutex
	updates []Update
}

func (c *collectingEmitter) Emit(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
}

func (c *collectingEmitter) snapshot() []Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Update, len(c.updates))
	copy(out, c.updates)
	return out
}

func samples(n int) []byte { return make([]byte, n) }

func newTestScheduler(stub *transcriber.Stub, emit *collectingEmitter) (*Scheduler, *session.State) {
	s := session.New(30, 5, 16000, 224)
	cfg := DefaultConfig()
	sc := New(context.Background(), s, cfg, stub, nil, nil, nil, nil, emit, nil)
	return sc, s
}

func waitForUpdates(t *testing.T, emit *collectingEmitter, n int) []Update {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := emit.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d updates, got %d", n, len(emit.snapshot()))
	return nil
}

const oneSecondBytes = 16000 * 2 // 16kHz, 16-bit mono: 32000 bytes/sec

func TestSingleChunkConfirmsWholeSentence(t *testing.T) {
	stub := transcriber.NewStub()
	chunk := samples(oneSecondBytes)
	stub.ByLen[oneSecondBytes] = "こんにちは。"

	sc, s := newTestScheduler(stub, &collectingEmitter{})
	emit := sc.emit.(*collectingEmitter)

	_ = s.Buffer.Append(chunk)
	sc.OnChunkAppended(context.Background())

	updates := waitForUpdates(t, emit, 1)
	if updates[0].Transcription.Confirmed != "こんにちは。" {
		t.Fatalf("confirmed = %q", updates[0].Transcription.Confirmed)
	}
	if updates[0].Transcription.Tentative != "" {
		t.Fatalf("tentative = %q, want empty", updates[0].Transcription.Tentative)
	}
	if updates[0].Sequence != 1 {
		t.Fatalf("sequence = %d, want 1", updates[0].Sequence)
	}
}

func TestTwoChunkGrowth(t *testing.T) {
	stub := transcriber.NewStub()
	chunkA := samples(oneSecondBytes)
	chunkB := samples(oneSecondBytes)
	stub.ByLen[oneSecondBytes] = "こんにちは"
	stub.ByLen[2*oneSecondBytes] = "こんにちは。さようなら"

	sc, s := newTestScheduler(stub, &collectingEmitter{})
	emit := sc.emit.(*collectingEmitter)

	_ = s.Buffer.Append(chunkA)
	sc.OnChunkAppended(context.Background())
	waitForUpdates(t, emit, 1)

	_ = s.Buffer.Append(chunkB)
	sc.OnChunkAppended(context.Background())
	updates := waitForUpdates(t, emit, 2)

	if updates[0].Transcription.Confirmed != "" || updates[0].Transcription.Tentative != "こんにちは" {
		t.Fatalf("update 1 = %+v", updates[0])
	}
	if updates[1].Transcription.Confirmed != "こんにちは。" || updates[1].Transcription.Tentative != "さようなら" {
		t.Fatalf("update 2 = %+v", updates[1])
	}
	if updates[1].Sequence != updates[0].Sequence+1 {
		t.Fatalf("sequence not monotonic: %d then %d", updates[0].Sequence, updates[1].Sequence)
	}
}

func TestSequenceMonotonicAcrossManyUpdates(t *testing.T) {
	stub := transcriber.NewStub()
	for i := 1; i <= 5; i++ {
		stub.ByLen[i*oneSecondBytes] = "x"
	}

	sc, s := newTestScheduler(stub, &collectingEmitter{})
	emit := sc.emit.(*collectingEmitter)

	for i := 1; i <= 5; i++ {
		_ = s.Buffer.Append(samples(oneSecondBytes))
		sc.OnChunkAppended(context.Background())
		waitForUpdates(t, emit, i)
	}

	updates := emit.snapshot()
	for i := 1; i < len(updates); i++ {
		if updates[i].Sequence != updates[i-1].Sequence+1 {
			t.Fatalf("sequence broke at index %d: %d -> %d", i, updates[i-1].Sequence, updates[i].Sequence)
		}
	}
}

func TestFinalizationTimeoutEmitsPartialResult(t *testing.T) {
	stub := &slowTranscriber{delay: 500 * time.Millisecond}
	s := session.New(30, 5, 16000, 224)
	cfg := DefaultConfig()
	cfg.FinalizationTimeout = 50 * time.Millisecond
	emit := &collectingEmitter{}
	sc := New(context.Background(), s, cfg, stub, nil, nil, nil, nil, emit, nil)

	_ = s.Buffer.Append(samples(1000))
	s.Differ.Update("進行中")

	sc.Finalize(context.Background())

	updates := emit.snapshot()
	if len(updates) != 1 {
		t.Fatalf("expected exactly 1 update, got %d", len(updates))
	}
	if !updates[0].Performance.FinalizationTimedOut {
		t.Fatal("expected FinalizationTimedOut=true")
	}
	if !updates[0].IsFinal {
		t.Fatal("expected IsFinal=true")
	}
}

type slowTranscriber struct {
	delay time.Duration
}

func (s *slowTranscriber) Transcribe(ctx context.Context, pcm []byte, initialPrompt, language string, beamSize int) (transcriber.Result, error) {
	select {
	case <-time.After(s.delay):
		return transcriber.Result{Text: "進行中終了"}, nil
	case <-ctx.Done():
		return transcriber.Result{}, ctx.Err()
	}
}
