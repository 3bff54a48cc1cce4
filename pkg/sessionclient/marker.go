package sessionclient

import "context"

type retryMarkerKey struct{}

// WithRetryMarker marks a request as already retried after a refresh. A marked
// request that fails with 401 is returned to the caller as is.
func WithRetryMarker(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryMarkerKey{}, true)
}

func Retried(ctx context.Context) bool {
	marked, _ := ctx.Value(retryMarkerKey{}).(bool)
	return marked
}
