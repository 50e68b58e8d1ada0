package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/mnehpets/onerpc/endpoint"
)

// TimeoutProcessor bounds the time the rest of the chain may take by
// attaching a deadline to the request context.
//
// Handlers observe the deadline through ctx. When the chain returns after
// the deadline without having written a response, the processor answers
// 503 Service Unavailable.
type TimeoutProcessor struct {
	Timeout time.Duration
}

// NewTimeoutProcessor creates a TimeoutProcessor. A zero or negative
// timeout disables it.
func NewTimeoutProcessor(d time.Duration) *TimeoutProcessor {
	return &TimeoutProcessor{Timeout: d}
}

// Process implements endpoint.Processor.
func (p *TimeoutProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	if p.Timeout <= 0 {
		return next(w, r)
	}
	ctx, cancel := context.WithTimeout(r.Context(), p.Timeout)
	defer cancel()

	err := next(w, r.WithContext(ctx))
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return endpoint.Error(http.StatusServiceUnavailable, "request timed out", err)
	}
	return err
}

var _ endpoint.Processor = (*TimeoutProcessor)(nil)
