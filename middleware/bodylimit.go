package middleware

import (
	"net/http"

	"github.com/mnehpets/onerpc/endpoint"
)

// BodyLimit caps the request body at n bytes. Reading past the cap fails,
// and endpoint.Unmarshal reports it as 413 Request Entity Too Large.
// A request whose declared Content-Length is already over the cap is
// rejected before the chain runs.
func BodyLimit(n int64) endpoint.Processor {
	return endpoint.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		if n <= 0 {
			return next(w, r)
		}
		if r.ContentLength > n {
			return endpoint.Error(http.StatusRequestEntityTooLarge, "", nil)
		}
		if r.Body != nil && r.Body != http.NoBody {
			r = r.WithContext(r.Context())
			r.Body = http.MaxBytesReader(w, r.Body, n)
		}
		return next(w, r)
	})
}
