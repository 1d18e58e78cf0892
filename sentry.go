package strata

import (
	"os"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

// sentryOnce guards sentry.Init: it configures a process-global client,
// so repeated Strata.Open calls in the same process (tests in
// particular open many engines) must not re-initialize it.
var sentryOnce sync.Once
var sentryReady bool

// initSentry configures the global Sentry client from STRATA_SENTRY_DSN
// if set. Absent a DSN, reportPoison below is a no-op: crash reporting
// is opt-in infrastructure, not a hard dependency of a healthy engine.
func initSentry(logger zerolog.Logger) {
	sentryOnce.Do(func() {
		dsn := os.Getenv("STRATA_SENTRY_DSN")
		if dsn == "" {
			return
		}
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			logger.Warn().Err(err).Msg("sentry init failed, continuing without crash reporting")
			return
		}
		sentryReady = true
	})
}

// reportPoison captures the error that poisoned the engine — the one
// "this should never happen in a healthy deployment" signal in Strata
// (DurabilityFailed or Corruption, per spec.md §7).
func reportPoison(cause error) {
	if !sentryReady {
		return
	}
	sentry.CaptureException(cause)
}
