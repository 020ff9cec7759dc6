// Package stream implements the WebSocket endpoint clients speak to: frame
// decoding, session lifecycle, and the server -> client event schema (spec
// §4.4, §6).
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/kotoba-ai/kotoba-stream/internal/audit"
	"github.com/kotoba-ai/kotoba-stream/internal/metrics"
	"github.com/kotoba-ai/kotoba-stream/pkg/audio"
	"github.com/kotoba-ai/kotoba-stream/pkg/logging"
	"github.com/kotoba-ai/kotoba-stream/pkg/pipeline"
	"github.com/kotoba-ai/kotoba-stream/pkg/providers/normalizer"
	"github.com/kotoba-ai/kotoba-stream/pkg/providers/transcriber"
	"github.com/kotoba-ai/kotoba-stream/pkg/providers/translator"
	"github.com/kotoba-ai/kotoba-stream/pkg/session"
	"golang.org/x/sync/semaphore"
)

// Error codes emitted in the "error" message's code field (spec §7).
const (
	ErrCodeDecode          = "decode"
	ErrCodeModelTransient  = "model_transient"
	ErrCodeModelFatal      = "model_fatal"
	ErrCodeProtocol        = "protocol"
	ErrCodeSessionNotFound = "session_not_found"
)

// clientMessage is the discriminated union of text frames a client may send
// (spec §6, §9: "dynamic message dispatch becomes a tagged variant").
type clientMessage struct {
	Type              string `json:"type"`
	EnableHiragana    bool   `json:"enableHiragana"`
	EnableTranslation bool   `json:"enableTranslation"`
	EnableSummary     bool   `json:"enableSummary"`
	RawPCM            *bool  `json:"rawPcm,omitempty"`
}

// wireMessage is the envelope every server -> client text frame is
// marshaled from; omitempty drops the fields a given message type does not
// populate. It also drops populated fields that hold their zero value: an
// empty tentative text or a chunksUntilNextTranscription of 0 is left out
// of the frame rather than sent as "" or 0.
type wireMessage struct {
	Type                         string           `json:"type"`
	SessionID                    string           `json:"sessionId,omitempty"`
	Step                         string           `json:"step,omitempty"`
	Message                      string           `json:"message,omitempty"`
	ChunkID                      int              `json:"chunkId,omitempty"`
	DurationSec                  float64          `json:"durationSec,omitempty"`
	SessionElapsedSec            float64          `json:"sessionElapsedSec,omitempty"`
	ChunksUntilNextTranscription int              `json:"chunksUntilNextTranscription,omitempty"`
	Sequence                     int              `json:"sequence,omitempty"`
	IsFinal                      *bool            `json:"isFinal,omitempty"`
	Transcription                *wireTextPair    `json:"transcription,omitempty"`
	Hiragana                     *wireTextPair    `json:"hiragana,omitempty"`
	Translation                  *wireTextPair    `json:"translation,omitempty"`
	Performance                  *wirePerformance `json:"performance,omitempty"`
	Code                         string           `json:"code,omitempty"`
}

type wireTextPair struct {
	Confirmed string `json:"confirmed"`
	Tentative string `json:"tentative,omitempty"`
}

type wirePerformance struct {
	TranscriptionMs      int64   `json:"transcriptionMs"`
	NormalizationMs      *int64  `json:"normalizationMs,omitempty"`
	TranslationMs        *int64  `json:"translationMs,omitempty"`
	TotalMs              int64   `json:"totalMs"`
	AudioSec             float64 `json:"audioSec"`
	FinalizationTimedOut bool    `json:"finalizationTimedOut,omitempty"`
}

// Dependencies bundles everything a connection needs that outlives any one
// session: the registry, the process-wide model singletons, and config.
type Dependencies struct {
	Registry    *session.Registry
	Transcriber transcriber.Transcriber
	Normalizer  normalizer.Normalizer
	Translator  translator.Translator
	Sem         *semaphore.Weighted
	PipelineCfg pipeline.Config
	SampleRate  int
	Logger      logging.Logger
	Audit       audit.Sink
	Metrics     *metrics.Recorder
}

// Endpoint serves one or more long-lived WebSocket connections over a
// shared Dependencies set. One Endpoint typically backs one HTTP route
// (spec §6: "e.g. /ws/transcribe-stream-cumulative").
type Endpoint struct {
	deps Dependencies
}

// New builds an Endpoint. Logger defaults to a no-op if deps.Logger is nil.
func New(deps Dependencies) *Endpoint {
	if deps.Logger == nil {
		deps.Logger = &logging.NoOpLogger{}
	}
	return &Endpoint{deps: deps}
}

// ServeHTTP upgrades the connection and runs the session's ingest loop for
// its lifetime. One goroutine per connection; it returns when the socket
// closes or a fatal error tears the session down.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		e.deps.Logger.Warn("websocket accept failed", "error", err)
		return
	}

	c := &connection{
		conn: conn,
		deps: e.deps,
	}
	c.run(r.Context())
}

// connection owns one session's ingest loop, decoder, and scheduler. Its
// writeMu serializes every outbound frame so that "outbound messages are
// serialized through a single per-session writer" (spec §5) holds even
// though the scheduler's Emit calls arrive from post-processing goroutines.
type connection struct {
	conn    *websocket.Conn
	deps    Dependencies
	decoder *audio.Decoder

	writeMu sync.Mutex

	sess        *session.State
	sched       *pipeline.Scheduler
	cancelSched context.CancelFunc

	chunkID int
}

// Emit implements pipeline.Emitter: it serializes an Update into a
// transcription_update or session_end wire message and writes it.
func (c *connection) Emit(u pipeline.Update) {
	msgType := "transcription_update"
	if u.IsFinal {
		msgType = "session_end"
	}

	isFinal := u.IsFinal
	msg := wireMessage{
		Type:          msgType,
		Sequence:      u.Sequence,
		IsFinal:       &isFinal,
		Transcription: &wireTextPair{Confirmed: u.Transcription.Confirmed, Tentative: u.Transcription.Tentative},
		Performance:   performanceToWire(u.Performance),
	}
	if u.Hiragana != nil {
		msg.Hiragana = &wireTextPair{Confirmed: u.Hiragana.Confirmed}
	}
	if u.Translation != nil {
		msg.Translation = &wireTextPair{Confirmed: u.Translation.Confirmed}
	}

	c.write(context.Background(), msg)
}

func performanceToWire(p pipeline.Performance) *wirePerformance {
	return &wirePerformance{
		TranscriptionMs:      p.TranscriptionMs,
		NormalizationMs:      p.NormalizationMs,
		TranslationMs:        p.TranslationMs,
		TotalMs:              p.TotalMs,
		AudioSec:             p.AudioSec,
		FinalizationTimedOut: p.FinalizationTimedOut,
	}
}

func (c *connection) write(ctx context.Context, msg wireMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		c.deps.Logger.Warn("failed to write outbound frame", "sessionID", c.sess.ID, "error", err)
	}
}

func (c *connection) writeError(ctx context.Context, code, message string) {
	c.write(ctx, wireMessage{Type: "error", Code: code, Message: message})
	if c.deps.Metrics == nil {
		return
	}
	switch code {
	case ErrCodeDecode:
		c.deps.Metrics.DecodeError(ctx)
	case ErrCodeModelTransient:
		c.deps.Metrics.ModelTransientError(ctx)
	case ErrCodeModelFatal:
		c.deps.Metrics.ModelFatalError(ctx)
	}
}

// run drives the connection from accept to close: allocate and register the
// session, emit "connected", then alternate reading binary and text frames
// until the socket closes or "end" is handled (spec §4.4).
func (c *connection) run(ctx context.Context) {
	c.sess = c.deps.Registry.Create()
	c.decoder = audio.NewDecoder(c.deps.SampleRate)

	if c.deps.Metrics != nil {
		c.deps.Metrics.SessionOpened(ctx)
	}

	schedCtx, cancel := context.WithCancel(ctx)
	c.cancelSched = cancel
	c.sched = pipeline.New(schedCtx, c.sess, c.deps.PipelineCfg, c.deps.Transcriber, c.deps.Normalizer, c.deps.Translator, c.deps.Sem, c.deps.Logger, c, c.deps.Audit)

	defer c.teardown()

	c.write(ctx, wireMessage{Type: "connected", SessionID: c.sess.ID})

	for {
		msgType, payload, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		c.sess.Touch()

		switch msgType {
		case websocket.MessageBinary:
			c.handleBinary(ctx, payload)
		case websocket.MessageText:
			if done := c.handleText(ctx, payload); done {
				return
			}
		}
	}
}

// handleBinary decodes one audio frame, appends it, reports progress, and
// notifies the scheduler (spec §4.4).
func (c *connection) handleBinary(ctx context.Context, frame []byte) {
	pcm, err := c.decoder.Decode(frame)
	if err != nil {
		c.deps.Logger.Warn("decode failed, dropping frame", "sessionID", c.sess.ID, "error", err)
		c.writeError(ctx, ErrCodeDecode, err.Error())
		return
	}

	c.write(ctx, wireMessage{Type: "progress", Step: "decoding"})

	if err := c.sess.Buffer.Append(pcm); err != nil {
		c.writeError(ctx, ErrCodeDecode, err.Error())
		return
	}

	interval := c.deps.PipelineCfg.TranscriptionIntervalChunks
	if interval <= 0 {
		interval = 1
	}
	c.chunkID++
	chunksUntil := interval - c.sess.ChunksSinceTranscription()
	if chunksUntil < 0 {
		chunksUntil = 0
	}
	c.write(ctx, wireMessage{
		Type:                         "accumulating",
		ChunkID:                      c.chunkID,
		DurationSec:                  c.sess.Buffer.DurationSec(),
		SessionElapsedSec:            c.sess.Buffer.SessionElapsedSec(),
		ChunksUntilNextTranscription: chunksUntil,
	})

	c.sched.OnChunkAppended(ctx)
}

// handleText applies an options message or initiates finalization on "end".
// Unknown types and malformed JSON are reported to the client as protocol
// errors and otherwise ignored (spec §7 kind 4); it returns true when the
// connection should close.
func (c *connection) handleText(ctx context.Context, payload []byte) bool {
	var msg clientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.writeError(ctx, ErrCodeProtocol, "malformed JSON")
		return false
	}

	switch msg.Type {
	case "options":
		opts := session.Options{
			EnableHiragana:    msg.EnableHiragana,
			EnableTranslation: msg.EnableTranslation,
			EnableSummary:     msg.EnableSummary,
		}
		if msg.RawPCM != nil {
			opts.RawPCM = *msg.RawPCM
			c.decoder.RawPCM = *msg.RawPCM
		} else {
			opts.RawPCM = c.sess.SnapshotOptions().RawPCM
		}
		c.sess.ApplyOptions(opts)
		return false
	case "end":
		c.finalize(ctx)
		return true
	default:
		c.writeError(ctx, ErrCodeProtocol, fmt.Sprintf("unknown message type %q", msg.Type))
		return false
	}
}

// finalize runs the end-of-stream protocol and emits session_end via the
// scheduler's Finalize, which itself honors the finalization deadline and
// emits the timeout fallback (spec §4.3, §5, §7 kind 6).
func (c *connection) finalize(ctx context.Context) {
	if !c.sess.MarkEnded() {
		return
	}
	c.write(ctx, wireMessage{Type: "progress", Step: "transcribing"})
	c.sched.Finalize(ctx)
}

// teardown cancels the scheduler and destroys the session, per "on socket
// close or fatal error: cancel scheduler, destroy session" (spec §4.4).
func (c *connection) teardown() {
	c.cancelSched()
	c.deps.Registry.Destroy(c.sess.ID)
	c.conn.Close(websocket.StatusNormalClosure, "")
	if c.deps.Metrics != nil {
		c.deps.Metrics.SessionClosed(context.Background())
	}
}
