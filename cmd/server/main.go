// Command server runs the streaming Japanese transcription endpoint: it
// loads a process-wide acoustic/normalizer/translator model set, then
// serves /ws/transcribe-stream-cumulative until SIGTERM drains active
// sessions (spec §6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kotoba-ai/kotoba-stream/internal/audit"
	"github.com/kotoba-ai/kotoba-stream/internal/config"
	"github.com/kotoba-ai/kotoba-stream/internal/metrics"
	"github.com/kotoba-ai/kotoba-stream/pkg/logging"
	"github.com/kotoba-ai/kotoba-stream/pkg/pipeline"
	"github.com/kotoba-ai/kotoba-stream/pkg/providers/normalizer"
	"github.com/kotoba-ai/kotoba-stream/pkg/providers/transcriber"
	"github.com/kotoba-ai/kotoba-stream/pkg/providers/translator"
	"github.com/kotoba-ai/kotoba-stream/pkg/session"
	"github.com/kotoba-ai/kotoba-stream/pkg/stream"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := logging.NewDefault(0)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}

	t, err := buildTranscriber(cfg)
	if err != nil {
		logger.Error("failed to load transcriber model", "error", err)
		return 1
	}

	n := buildNormalizer(cfg)
	tr := buildTranslator(cfg)
	auditSink := buildAuditSink(cfg, logger)
	defer auditSink.Close()

	rec, metricsShutdown, err := metrics.Init("kotoba-stream")
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		return 1
	}
	defer metricsShutdown(context.Background())

	sem := semaphore.NewWeighted(cfg.TranscriberSemCap)

	registry := session.NewRegistry(cfg.SessionIdleTTL(), 60*time.Second,
		func() *session.State {
			return session.New(cfg.CumulativeMaxAudioSeconds, cfg.CumulativeOverlapSeconds, cfg.SampleRate, cfg.PromptMaxChars)
		},
		func(s *session.State) {
			// Destroy on connection close runs this callback too; only
			// sessions idle past the TTL count as evicted.
			if time.Since(s.LastActivity()) > cfg.SessionIdleTTL() {
				rec.SessionEvicted(context.Background())
			}
			s.Buffer.Reset()
		},
	)
	defer registry.Close()

	pipelineCfg := pipeline.Config{
		TranscriptionIntervalChunks: cfg.CumulativeTranscriptionInterval,
		MinAudioSeconds:             cfg.CumulativeMinAudioSeconds,
		Language:                    "ja",
		BeamSize:                    cfg.WhisperBeamSize,
		FinalizationTimeout:         cfg.EndFinalizationTimeout(),
	}

	endpoint := stream.New(stream.Dependencies{
		Registry:    registry,
		Transcriber: t,
		Normalizer:  n,
		Translator:  tr,
		Sem:         sem,
		PipelineCfg: pipelineCfg,
		SampleRate:  cfg.SampleRate,
		Logger:      logger,
		Audit:       auditSink,
		Metrics:     rec,
	})

	mux := http.NewServeMux()
	mux.Handle("/ws/transcribe-stream-cumulative", endpoint)
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		serveErr <- srv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server exited unexpectedly", "error", err)
			return 1
		}
	case <-sig:
		logger.Info("shutting down, draining active sessions")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("graceful shutdown did not complete cleanly", "error", err)
		}
		// Shutdown does not wait for hijacked WebSocket connections, so wait
		// for their sessions to leave the registry within the same deadline.
		for registry.Len() > 0 && ctx.Err() == nil {
			select {
			case <-ctx.Done():
			case <-time.After(100 * time.Millisecond):
			}
		}
	}

	return 0
}

func buildTranscriber(cfg config.Config) (transcriber.Transcriber, error) {
	switch cfg.TranscriberProvider {
	case "groq":
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY must be set for TRANSCRIBER_PROVIDER=groq")
		}
		return transcriber.NewGroq(cfg.GroqAPIKey, cfg.WhisperModelSize, cfg.SampleRate), nil
	case "stub":
		return transcriber.NewStub(), nil
	default:
		if cfg.WhisperModelPath == "" {
			return transcriber.NewStub(), nil
		}
		return transcriber.NewWhisperCPP(cfg.WhisperModelPath)
	}
}

func buildNormalizer(cfg config.Config) normalizer.Normalizer {
	switch cfg.NormalizerProvider {
	case "", "katakana-fold":
		return normalizer.KatakanaFold{}
	default:
		return normalizer.KatakanaFold{}
	}
}

func buildTranslator(cfg config.Config) translator.Translator {
	switch cfg.TranslatorProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil
		}
		return translator.NewWithRetry(translator.NewOpenAI(cfg.OpenAIAPIKey, ""))
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil
		}
		return translator.NewWithRetry(translator.NewAnthropic(cfg.AnthropicAPIKey, ""))
	default:
		return nil
	}
}

func buildAuditSink(cfg config.Config, logger logging.Logger) audit.Sink {
	if cfg.AuditDatabaseURL == "" {
		return audit.NoOp{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sink, err := audit.NewPostgres(ctx, cfg.AuditDatabaseURL)
	if err != nil {
		logger.Warn("audit sink unavailable, falling back to no-op", "error", err)
		return audit.NoOp{}
	}
	return sink
}
