// Package pipeline decides when to invoke the acoustic model and
// coordinates post-processing, one Scheduler per session (spec §4.2).
package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kotoba-ai/kotoba-stream/internal/audit"
	"github.com/kotoba-ai/kotoba-stream/pkg/differ"
	"github.com/kotoba-ai/kotoba-stream/pkg/logging"
	"github.com/kotoba-ai/kotoba-stream/pkg/providers/normalizer"
	"github.com/kotoba-ai/kotoba-stream/pkg/providers/transcriber"
	"github.com/kotoba-ai/kotoba-stream/pkg/providers/translator"
	"github.com/kotoba-ai/kotoba-stream/pkg/session"
)

// Config holds the scheduler's tunable knobs, all env-overridable per
// spec §6.
type Config struct {
	TranscriptionIntervalChunks int
	MinAudioSeconds             float64
	Language                    string
	BeamSize                    int
	FinalizationTimeout         time.Duration
}

// DefaultConfig returns spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		TranscriptionIntervalChunks: 1,
		MinAudioSeconds:             1.0,
		Language:                    "ja",
		BeamSize:                    3,
		FinalizationTimeout:         20 * time.Second,
	}
}

// TextPair is a confirmed/tentative pair shared by transcription, hiragana
// and translation fields of an emitted update (spec §6).
type TextPair struct {
	Confirmed string
	Tentative string
}

// Performance carries the latency/duration fields spec §6 attaches to every
// transcription_update / session_end.
type Performance struct {
	TranscriptionMs      int64
	NormalizationMs      *int64
	TranslationMs        *int64
	TotalMs              int64
	AudioSec             float64
	FinalizationTimedOut bool
}

// Update is everything the stream layer needs to serialize one
// transcription_update or session_end message.
type Update struct {
	Sequence      int
	IsFinal       bool
	Transcription TextPair
	Hiragana      *TextPair
	Translation   *TextPair
	Performance   Performance
}

// Emitter receives Updates as the scheduler produces them. The stream layer
// implements this to serialize updates onto the session's WebSocket
// connection (spec §5: "outbound messages are serialized through a single
// per-session writer").
type Emitter interface {
	Emit(Update)
}

// Scheduler is one session's transcription/post-processing coordinator.
type Scheduler struct {
	session *session.State
	cfg     Config

	transcriber transcriber.Transcriber
	normalizer  normalizer.Normalizer
	translator  translator.Translator

	sem    *semaphore.Weighted
	logger logging.Logger
	emit   Emitter
	audit  audit.Sink

	mu           sync.Mutex
	inFlight     bool
	pendingRerun bool
	finalizing   bool
	inFlightDone chan struct{}
	sessionCtx   context.Context

	normGen  int64
	transGen int64

	sttStartTime time.Time
	sttEndTime   time.Time
}

// New builds a Scheduler for one session. sessionCtx is cancelled when the
// session closes (spec §5: "Session close cancels the scheduler; in-flight
// transcription runs to completion but its result is discarded") and is
// reused for the coalesced follow-up runs OnChunkAppended may launch after
// its caller's own call has returned. sem gates concurrent Transcriber
// calls across every session sharing the process-wide acoustic model (spec
// §5); normalizer/translator may be nil when the process has none
// configured. Whether a stage runs also depends on the session's
// EnableHiragana/EnableTranslation options.
func New(sessionCtx context.Context, s *session.State, cfg Config, t transcriber.Transcriber, n normalizer.Normalizer, tr translator.Translator, sem *semaphore.Weighted, logger logging.Logger, emit Emitter, sink audit.Sink) *Scheduler {
	if logger == nil {
		logger = &logging.NoOpLogger{}
	}
	if sink == nil {
		sink = audit.NoOp{}
	}
	return &Scheduler{
		session:     s,
		cfg:         cfg,
		transcriber: t,
		normalizer:  n,
		translator:  tr,
		sem:         sem,
		logger:      logger,
		emit:        emit,
		audit:       sink,
		sessionCtx:  sessionCtx,
	}
}

// OnChunkAppended implements the trigger rule of spec §4.2: schedule a
// transcription if the chunk-count and min-duration thresholds are met and
// no call is already in flight; otherwise coalesce into a single follow-up.
func (sc *Scheduler) OnChunkAppended(ctx context.Context) {
	count := sc.session.IncrementChunkCounter()
	duration := sc.session.Buffer.DurationSec()

	if count < sc.cfg.TranscriptionIntervalChunks || duration < sc.cfg.MinAudioSeconds {
		return
	}

	sc.mu.Lock()
	if sc.finalizing {
		sc.mu.Unlock()
		return
	}
	if sc.inFlight {
		sc.pendingRerun = true
		sc.mu.Unlock()
		return
	}
	sc.inFlight = true
	sc.inFlightDone = make(chan struct{})
	sc.mu.Unlock()

	sc.session.ResetChunkCounter()
	go sc.runTranscription(ctx, false)
}

// runTranscription performs one transcription pass off the ingest path,
// then launches post-processing and emits an Update. If isFinal, it skips
// the in-flight/coalescing bookkeeping used mid-stream.
func (sc *Scheduler) runTranscription(ctx context.Context, isFinal bool) {
	start := time.Now()
	sc.mu.Lock()
	sc.sttStartTime = start
	sc.mu.Unlock()

	pcm := sc.session.Buffer.Snapshot()
	prompt, _ := sc.session.Buffer.InitialPrompt()

	// A final pass that yields no transcript of its own (empty buffer, failed
	// call) still ends in a session_end built from the differ's current
	// state. A cancelled ctx means Finalize has already emitted its timeout
	// result.
	emitted := false
	if isFinal {
		defer func() {
			if !emitted && ctx.Err() == nil {
				state := sc.session.Differ.Finalize()
				sc.dispatchPostProcessing(ctx, state, "", true, start, Performance{AudioSec: sc.session.Buffer.DurationSec()})
			}
		}()
	}

	if len(pcm) == 0 {
		sc.finishTranscription(isFinal)
		return
	}

	if sc.sem != nil {
		if err := sc.sem.Acquire(ctx, 1); err != nil {
			sc.logger.Warn("transcriber semaphore acquire failed", "sessionID", sc.session.ID, "error", err)
			sc.finishTranscription(isFinal)
			return
		}
		defer sc.sem.Release(1)
	}

	result, err := sc.transcriber.Transcribe(ctx, pcm, prompt, sc.cfg.Language, sc.cfg.BeamSize)
	sttEnd := time.Now()
	sc.mu.Lock()
	sc.sttEndTime = sttEnd
	sc.mu.Unlock()

	if err != nil {
		sc.logger.Warn("transcription pass failed, will retry on next trigger", "sessionID", sc.session.ID, "error", err)
		sc.finishTranscription(isFinal)
		return
	}

	prevConfirmed := sc.session.Differ.State().Confirmed
	var state differ.State
	if isFinal {
		state = sc.session.Differ.Update(result.Text)
		state = sc.session.Differ.Finalize()
	} else {
		state = sc.session.Differ.Update(result.Text)
	}
	sc.session.Buffer.SetConfirmedText(state.Confirmed)

	grown := growthSuffix(prevConfirmed, state.Confirmed)
	perf := Performance{
		TranscriptionMs: sttEnd.Sub(start).Milliseconds(),
		AudioSec:        sc.session.Buffer.DurationSec(),
	}

	emitted = true
	sc.dispatchPostProcessing(ctx, state, grown, isFinal, start, perf)
	sc.finishTranscription(isFinal)
}

// finishTranscription clears in-flight state and, if audio arrived during
// the call, immediately launches the coalesced follow-up (spec §4.2). Once
// Finalize has started (finalizing), no follow-up is launched and the
// in-flight signal is released so Finalize can proceed with its own pass
// (spec §8: no two concurrent Transcriber calls for the same session).
func (sc *Scheduler) finishTranscription(isFinal bool) {
	if isFinal {
		return
	}
	sc.mu.Lock()
	rerun := sc.pendingRerun && !sc.finalizing
	sc.pendingRerun = false
	sc.inFlight = rerun
	prevDone := sc.inFlightDone
	if rerun {
		sc.inFlightDone = make(chan struct{})
	} else {
		sc.inFlightDone = nil
	}
	sc.mu.Unlock()

	if prevDone != nil {
		close(prevDone)
	}

	if rerun {
		go sc.runTranscription(sc.sessionCtx, false)
	}
}

// growthSuffix returns the portion of newConfirmed beyond prevConfirmed,
// i.e. the newly-grown confirmed substring post-processing runs on (spec
// §4.2). Returns "" if confirmed didn't grow.
func growthSuffix(prevConfirmed, newConfirmed string) string {
	prevRunes := []rune(prevConfirmed)
	newRunes := []rune(newConfirmed)
	if len(newRunes) <= len(prevRunes) {
		return ""
	}
	return string(newRunes[len(prevRunes):])
}

// dispatchPostProcessing runs normalization and translation concurrently
// over the given text (the newly-grown substring mid-stream, or the full
// confirmed text on finalization per spec §4.3), single-flight per stage:
// a still-pending prior call's result is discarded in favor of the latest.
func (sc *Scheduler) dispatchPostProcessing(ctx context.Context, state differ.State, incrementalText string, isFinal bool, callStart time.Time, perf Performance) {
	text := incrementalText
	if isFinal {
		text = state.Confirmed
	}

	var hiragana, translation *TextPair
	var incrementalHiragana, incrementalTranslation string
	var normMs, transMs *int64

	if text != "" {
		g, gctx := errgroup.WithContext(ctx)

		if sc.session.SnapshotOptions().EnableHiragana && sc.normalizer != nil {
			gen := sc.bumpNormGen()
			g.Go(func() error {
				t0 := time.Now()
				hira := sc.normalizer.ToHiragana(text)
				ms := time.Since(t0).Milliseconds()
				if sc.currentNormGen() != gen {
					return nil // superseded by a newer dispatch; discard
				}
				sc.mu.Lock()
				sc.session.ConfirmedHiragana += hira
				confirmedHira := sc.session.ConfirmedHiragana
				sc.mu.Unlock()
				hiragana = &TextPair{Confirmed: confirmedHira}
				incrementalHiragana = hira
				normMs = &ms
				return nil
			})
		}

		if sc.session.SnapshotOptions().EnableTranslation && sc.translator != nil {
			gen := sc.bumpTransGen()
			g.Go(func() error {
				t0 := time.Now()
				tx, err := sc.translator.TranslateJaEn(gctx, text)
				ms := time.Since(t0).Milliseconds()
				if err != nil {
					sc.logger.Warn("translation failed, omitting field", "sessionID", sc.session.ID, "error", err)
					return nil
				}
				if sc.currentTransGen() != gen {
					return nil
				}
				sc.mu.Lock()
				sc.session.ConfirmedTranslation += tx
				confirmedTx := sc.session.ConfirmedTranslation
				sc.mu.Unlock()
				translation = &TextPair{Confirmed: confirmedTx}
				incrementalTranslation = tx
				transMs = &ms
				return nil
			})
		}

		_ = g.Wait()
	}

	perf.NormalizationMs = normMs
	perf.TranslationMs = transMs
	perf.TotalMs = time.Since(callStart).Milliseconds()

	if hiragana != nil {
		hiragana.Tentative = ""
	}
	if translation != nil {
		translation.Tentative = ""
	}

	if text != "" {
		timestampSec := sc.session.Buffer.SessionElapsedSec()
		sc.session.AppendHistory(session.HistoryEntry{
			TimestampSec: timestampSec,
			Text:         text,
			Hiragana:     incrementalHiragana,
			Translation:  incrementalTranslation,
		})
		if err := sc.audit.Record(ctx, audit.Entry{
			SessionID:    sc.session.ID,
			TimestampSec: timestampSec,
			Text:         text,
			Hiragana:     incrementalHiragana,
			Translation:  incrementalTranslation,
		}); err != nil {
			sc.logger.Warn("audit sink record failed", "sessionID", sc.session.ID, "error", err)
		}
	}

	sc.emit.Emit(Update{
		Sequence:      sc.session.NextSequence(),
		IsFinal:       isFinal,
		Transcription: TextPair{Confirmed: state.Confirmed, Tentative: state.Tentative},
		Hiragana:      hiragana,
		Translation:   translation,
		Performance:   perf,
	})
}

func (sc *Scheduler) bumpNormGen() int64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.normGen++
	return sc.normGen
}

func (sc *Scheduler) currentNormGen() int64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.normGen
}

func (sc *Scheduler) bumpTransGen() int64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.transGen++
	return sc.transGen
}

func (sc *Scheduler) currentTransGen() int64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.transGen
}

// GetLatencyBreakdown returns the most recent transcription pass's
// start/end timestamps, mirroring the teacher's ManagedStream instrumentation
// (spec SUPPLEMENTED FEATURES).
func (sc *Scheduler) GetLatencyBreakdown() (start, end time.Time) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.sttStartTime, sc.sttEndTime
}

// Finalize runs the end-of-stream protocol (spec §4.3, §5): it first waits
// for any mid-stream transcription OnChunkAppended already launched to
// finish (spec §8: no two concurrent Transcriber calls for the same
// session), suppressing any coalesced rerun that transcription would
// otherwise have queued, then runs one final transcription pass whenever the
// buffer holds audio (whether or not that audio was already transcribed),
// full-text post-processing, and a session_end Update, subject to
// FinalizationTimeout. An empty buffer or a failed final pass still yields
// a session_end from the differ's current state. On timeout, it promotes whatever
// tentative text exists and emits the last known state with
// FinalizationTimedOut set.
func (sc *Scheduler) Finalize(ctx context.Context) {
	deadline := sc.cfg.FinalizationTimeout
	if deadline <= 0 {
		deadline = 20 * time.Second
	}
	fctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	sc.mu.Lock()
	sc.finalizing = true
	waitFor := sc.inFlightDone
	sc.mu.Unlock()

	if waitFor != nil {
		select {
		case <-waitFor:
		case <-fctx.Done():
			sc.emitFinalizationTimeout()
			return
		}
	}

	done := make(chan struct{})
	go func() {
		sc.runTranscription(fctx, true)
		close(done)
	}()

	select {
	case <-done:
		return
	case <-fctx.Done():
		sc.emitFinalizationTimeout()
	}
}

// emitFinalizationTimeout promotes whatever tentative text exists and
// emits the final session_end with FinalizationTimedOut set, used by both
// of Finalize's timeout paths.
func (sc *Scheduler) emitFinalizationTimeout() {
	state := sc.session.Differ.Finalize()
	sc.emit.Emit(Update{
		Sequence:      sc.session.NextSequence(),
		IsFinal:       true,
		Transcription: TextPair{Confirmed: state.Confirmed, Tentative: ""},
		Performance: Performance{
			AudioSec:             sc.session.Buffer.DurationSec(),
			FinalizationTimedOut: true,
		},
	})
}
