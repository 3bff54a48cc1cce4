package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"storefront-auth/internal/model"
)

const defaultRequestTimeout = 30 * time.Second

// Timeout bounds handler execution. Headers set by the handler, including
// cookies, are only flushed if it finishes in time.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	message, _ := json.Marshal(model.APIResponse{
		Success: false,
		Error:   &model.APIError{Code: "REQUEST_TIMEOUT", Message: "request timed out"},
	})

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, string(message))
	}
}
