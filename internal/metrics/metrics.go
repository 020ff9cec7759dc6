// Package metrics wires the process-wide OpenTelemetry meter provider,
// backed by a Prometheus exporter, and the instruments a Recorder exposes:
// active-session count, per-stage latency histograms for the performance.*
// fields, error counters and an idle-eviction counter.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Recorder is the set of instruments the server reports through. It mirrors
// the performance fields spec §6 attaches to every transcription_update.
type Recorder struct {
	meter metric.Meter

	activeSessions       metric.Int64UpDownCounter
	transcriptionMs      metric.Int64Histogram
	normalizationMs      metric.Int64Histogram
	translationMs        metric.Int64Histogram
	totalMs              metric.Int64Histogram
	decodeErrors         metric.Int64Counter
	modelTransientErrors metric.Int64Counter
	modelFatalErrors     metric.Int64Counter
	sessionsEvicted      metric.Int64Counter
}

// Init registers the global MeterProvider with a Prometheus exporter and
// returns a Recorder plus a shutdown func for graceful drain on SIGTERM.
func Init(serviceName string) (*Recorder, func(context.Context) error, error) {
	exp, err := promexporter.New()
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
	otel.SetMeterProvider(mp)

	meter := mp.Meter(serviceName)

	r := &Recorder{meter: meter}
	if err := r.registerInstruments(); err != nil {
		return nil, nil, err
	}

	return r, mp.Shutdown, nil
}

func (r *Recorder) registerInstruments() error {
	var err error

	r.activeSessions, err = r.meter.Int64UpDownCounter("kotoba_stream_active_sessions",
		metric.WithDescription("Number of currently open streaming sessions"))
	if err != nil {
		return err
	}

	r.transcriptionMs, err = r.meter.Int64Histogram("kotoba_stream_transcription_ms",
		metric.WithDescription("Transcriber.transcribe latency"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	r.normalizationMs, err = r.meter.Int64Histogram("kotoba_stream_normalization_ms",
		metric.WithDescription("Normalizer.toHiragana latency"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	r.translationMs, err = r.meter.Int64Histogram("kotoba_stream_translation_ms",
		metric.WithDescription("Translator.translateJaEn latency"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	r.totalMs, err = r.meter.Int64Histogram("kotoba_stream_update_total_ms",
		metric.WithDescription("End-to-end latency of one transcription_update"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	r.decodeErrors, err = r.meter.Int64Counter("kotoba_stream_decode_errors_total",
		metric.WithDescription("Count of spec §7 kind 1 decode errors"))
	if err != nil {
		return err
	}

	r.modelTransientErrors, err = r.meter.Int64Counter("kotoba_stream_model_transient_errors_total",
		metric.WithDescription("Count of spec §7 kind 2 transient model errors"))
	if err != nil {
		return err
	}

	r.modelFatalErrors, err = r.meter.Int64Counter("kotoba_stream_model_fatal_errors_total",
		metric.WithDescription("Count of spec §7 kind 3 fatal model errors"))
	if err != nil {
		return err
	}

	r.sessionsEvicted, err = r.meter.Int64Counter("kotoba_stream_sessions_evicted_total",
		metric.WithDescription("Count of sessions removed by idle eviction"))
	return err
}

// SessionOpened records a new session entering the registry.
func (r *Recorder) SessionOpened(ctx context.Context) {
	r.activeSessions.Add(ctx, 1)
}

// SessionClosed records a session leaving the registry, whether by client
// close, fatal error, or idle eviction.
func (r *Recorder) SessionClosed(ctx context.Context) {
	r.activeSessions.Add(ctx, -1)
}

// SessionEvicted records an idle-eviction-specific removal, in addition to
// the SessionClosed decrement.
func (r *Recorder) SessionEvicted(ctx context.Context) {
	r.sessionsEvicted.Add(ctx, 1)
}

// ObservePerformance records one transcription_update's latency breakdown.
func (r *Recorder) ObservePerformance(ctx context.Context, transcriptionMs int64, normalizationMs, translationMs *int64, totalMs int64) {
	r.transcriptionMs.Record(ctx, transcriptionMs)
	r.totalMs.Record(ctx, totalMs)
	if normalizationMs != nil {
		r.normalizationMs.Record(ctx, *normalizationMs)
	}
	if translationMs != nil {
		r.translationMs.Record(ctx, *translationMs)
	}
}

// DecodeError records a spec §7 kind 1 error.
func (r *Recorder) DecodeError(ctx context.Context) { r.decodeErrors.Add(ctx, 1) }

// ModelTransientError records a spec §7 kind 2 error.
func (r *Recorder) ModelTransientError(ctx context.Context) { r.modelTransientErrors.Add(ctx, 1) }

// ModelFatalError records a spec §7 kind 3 error.
func (r *Recorder) ModelFatalError(ctx context.Context) { r.modelFatalErrors.Add(ctx, 1) }

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
