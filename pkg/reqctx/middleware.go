package reqctx

import (
	"context"
	"time"

	"github.com/edgesim/miniflare/pkg/config"
)

// Handler is a top-level fetch handler: whatever a Worker script's
// fetch event listener would be, reduced to an in-process call.
type Handler func(ctx context.Context) error

// Middleware establishes a fresh RequestContext around every call to
// next, the way the teacher's gRPC unary interceptor wraps a handler
// with request-scoped state (pkg/api/interceptor.go), rewired from
// permission-checking to the ambient accounting spec.md §4.6 requires.
func Middleware(limits config.Limits, usage UsageModel, clk func() time.Time, next Handler) Handler {
	return func(ctx context.Context) error {
		start := time.Now()
		if clk != nil {
			start = clk()
		}
		derived, _, cancel := New(ctx, limits, usage, start)
		defer cancel()
		return next(derived)
	}
}
