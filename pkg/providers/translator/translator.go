// Package translator implements the JA→EN machine-translation contract
// (spec §6) with hand-rolled net/http + encoding/json clients, the
// teacher's own convention for every out-of-process model call
// (pkg/providers/llm/{openai,anthropic}.go) — no SDK dependency.
package translator

import (
	"context"
	"errors"
	"time"
)

// Translator translates Japanese text to English. TranslateJaEn may fail
// with a transient error; callers retry at most twice with exponential
// backoff (100ms, 500ms) per spec §6 before surfacing the translation as
// absent.
type Translator interface {
	TranslateJaEn(ctx context.Context, text string) (string, error)
}

// ErrTransient marks an error as retryable. Adapters wrap their transport
// failures and 429/5xx responses with this so WithRetry knows to retry
// them; other non-2xx responses are returned unwrapped, as permanent errors.
var ErrTransient = errors.New("translator: transient error")

// retryDelays are the backoff steps specified in spec §6: two retries, not
// three attempts total from-scratch — the first call is not a "retry".
var retryDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond}

// WithRetry wraps a Translator so TranslateJaEn retries up to twice on a
// transient error, sleeping the spec's backoff steps between attempts. A
// non-transient error is returned immediately without retry.
type WithRetry struct {
	Translator
	// sleep is overridable in tests to avoid real waits.
	sleep func(time.Duration)
}

// NewWithRetry wraps t with the spec's retry policy.
func NewWithRetry(t Translator) *WithRetry {
	return &WithRetry{Translator: t, sleep: time.Sleep}
}

// TranslateJaEn implements Translator.
func (w *WithRetry) TranslateJaEn(ctx context.Context, text string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		result, err := w.Translator.TranslateJaEn(ctx, text)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !errors.Is(err, ErrTransient) {
			return "", err
		}
		if attempt < len(retryDelays) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			default:
			}
			w.sleep(retryDelays[attempt])
		}
	}
	return "", lastErr
}
