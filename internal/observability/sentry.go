// Package observability wires error reporting to Sentry. Reporting is a no-op
// until InitSentry is called with a non-empty DSN.
package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// CaptureError reports an unexpected server-side failure.
func CaptureError(err error) {
	if err == nil {
		return
	}
	sentry.CaptureException(err)
}

// CapturePanic reports a recovered panic with its stack.
func CapturePanic(recovered any, stack []byte) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetExtra("panic", recovered)
		scope.SetExtra("stack", string(stack))
		sentry.CaptureMessage("panic in request")
	})
}
