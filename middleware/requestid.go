package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnehpets/onerpc/endpoint"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

// maxRequestIDLength bounds ids accepted from clients.
const maxRequestIDLength = 128

type requestIDKey struct{}

// RequestIDProcessor assigns every request an id, stores it in the request
// context and echoes it in the X-Request-Id response header.
//
// An id sent by the client is reused when Trust is set and the value is
// printable ASCII no longer than 128 bytes. Otherwise a random UUID is
// generated.
type RequestIDProcessor struct {
	Trust bool

	// NewID overrides id generation. Defaults to uuid.NewString.
	NewID func() string
}

// NewRequestIDProcessor creates a RequestIDProcessor that trusts
// client-supplied ids.
func NewRequestIDProcessor() *RequestIDProcessor {
	return &RequestIDProcessor{Trust: true}
}

// Process implements endpoint.Processor.
func (p *RequestIDProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	id := ""
	if p.Trust {
		id = r.Header.Get(RequestIDHeader)
		if !validRequestID(id) {
			id = ""
		}
	}
	if id == "" {
		if p.NewID != nil {
			id = p.NewID()
		} else {
			id = uuid.NewString()
		}
	}
	w.Header().Set(RequestIDHeader, id)
	return next(w, r.WithContext(WithRequestID(r.Context(), id)))
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// WithRequestID returns a copy of ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id stored by RequestIDProcessor, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDFields returns a request_id log field when ctx carries an id.
// It matches the signature of jsonrpc.WithLogFields.
func RequestIDFields(ctx context.Context) []zap.Field {
	if id := RequestID(ctx); id != "" {
		return []zap.Field{zap.String("request_id", id)}
	}
	return nil
}

var _ endpoint.Processor = (*RequestIDProcessor)(nil)
