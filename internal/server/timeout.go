package server

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ErrRequestTimeout is the cancellation cause of a request that outlived
// its budget. StatusFor maps it to 504.
var ErrRequestTimeout = fmt.Errorf("request budget exhausted: %w", context.DeadlineExceeded)

// DeadlineMiddleware bounds each request by budget. Pipeline steps see the
// deadline through Request.Context, and context.Cause reports
// ErrRequestTimeout once it fires. A non-positive budget disables it.
func DeadlineMiddleware(budget time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if budget <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeoutCause(r.Context(), budget, ErrRequestTimeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))

			if TimedOut(ctx) {
				AddLogField(r.Context(), "budget", budget.String())
			}
		})
	}
}

// TimedOut reports whether ctx ended because its request budget ran out.
func TimedOut(ctx context.Context) bool {
	return ctx.Err() != nil && context.Cause(ctx) == ErrRequestTimeout
}
