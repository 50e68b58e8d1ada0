package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mnehpets/onerpc/endpoint"
)

// JSONRPCEndpoint serves a Dispatcher over HTTP.
// Use endpoint.Handler(e.Endpoint, processors...) to create an http.Handler,
// or Mount to register both the shared and per-method paths.
type JSONRPCEndpoint struct {
	d *Dispatcher
}

// NewEndpoint creates an endpoint over d.
func NewEndpoint(d *Dispatcher) *JSONRPCEndpoint {
	return &JSONRPCEndpoint{d: d}
}

// rpcParams captures the raw JSON-RPC request body.
// Parsing is deferred to the dispatcher, as JSON-RPC reports malformed
// JSON in the response body rather than as an HTTP error. The body size is
// bounded by a processor (see middleware.BodyLimit), not here.
type rpcParams struct {
	Body []byte `body:"" maxLength:"0"`
}

// methodParams is rpcParams for the per-method path.
type methodParams struct {
	Method string `path:"method"`
	Body   []byte `body:"" maxLength:"0"`
}

func checkTransport(r *http.Request) error {
	if r.Method != http.MethodPost {
		return endpoint.Error(http.StatusMethodNotAllowed, "JSON-RPC requires POST method", nil)
	}
	// Per JSON-RPC over HTTP, Content-Type must be application/json.
	if r.Header.Get("Content-Type") != "" && !endpoint.RequestIsJSON(r) {
		return endpoint.Error(http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
	}
	return nil
}

// Endpoint is the endpoint function that processes JSON-RPC requests.
// Pass to endpoint.Handler() to create an http.Handler.
//
// The HTTP status is always 200 once the body has been read; JSON-RPC
// errors travel in the body.
func (e *JSONRPCEndpoint) Endpoint(w http.ResponseWriter, r *http.Request, params rpcParams) (endpoint.Renderer, error) {
	if err := checkTransport(r); err != nil {
		return nil, err
	}
	out, err := e.d.Process(r.Context(), params.Body)
	return render(out, err)
}

// MethodEndpoint serves a single method at a path of its own. The body must
// be a single request object naming that method and carrying params.
func (e *JSONRPCEndpoint) MethodEndpoint(w http.ResponseWriter, r *http.Request, params methodParams) (endpoint.Renderer, error) {
	if err := checkTransport(r); err != nil {
		return nil, err
	}
	out, err := e.processMethod(r.Context(), params.Method, params.Body)
	return render(out, err)
}

func (e *JSONRPCEndpoint) processMethod(ctx context.Context, method string, body []byte) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, ErrAbandoned
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || !json.Valid(body) {
		return encode(errorResponse(ParseError.New(nil), nil))
	}
	if body[0] != '{' {
		return encode(errorResponse(invalidRequest([]Violation{{
			Loc:  []string{},
			Msg:  "a single request object is required",
			Type: "type_error",
		}}), nil))
	}

	req, rpcErr, id := decodeRequest(e.d.validator, e.d.requestSchema, body)
	if rpcErr == nil {
		var vs []Violation
		if req.Method != method {
			vs = append(vs, Violation{Loc: []string{"method"}, Msg: "must be " + method, Type: "const"})
		}
		if req.Params == nil {
			vs = append(vs, Violation{Loc: []string{"params"}, Msg: "field required", Type: "required"})
		}
		if vs != nil {
			rpcErr = invalidRequest(vs)
		}
	}
	if rpcErr != nil {
		return encode(errorResponse(rpcErr, id))
	}

	resp, err := e.d.Dispatch(ctx, req)
	if err != nil || resp == nil {
		return nil, err
	}
	return encode(resp)
}

func render(out []byte, err error) (endpoint.Renderer, error) {
	if errors.Is(err, ErrAbandoned) {
		return nil, endpoint.Error(http.StatusServiceUnavailable, "request abandoned", err)
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		return &endpoint.NoContentRenderer{Status: http.StatusOK}, nil
	}
	return &endpoint.BytesRenderer{ContentType: "application/json", Body: out}, nil
}

// Mount registers the shared path at prefix and one path per method below
// it ("POST prefix/{method}") on mux. A prefix of "" or "/" mounts the shared
// path at the root.
func (e *JSONRPCEndpoint) Mount(mux *http.ServeMux, prefix string, processors ...endpoint.Processor) {
	prefix = strings.TrimSuffix(prefix, "/")
	shared := prefix
	if shared == "" {
		shared = "/{$}"
	}
	mux.Handle(shared, endpoint.Handler(e.Endpoint, processors...))
	mux.Handle(prefix+"/{method...}", endpoint.Handler(e.MethodEndpoint, processors...))
}
