// Package jsonrpc provides a JSON-RPC 2.0 server integrated with onerpc's processor chain.
//
// This package implements the JSON-RPC 2.0 specification (https://www.jsonrpc.org/specification)
// and JSON-RPC over HTTP (https://www.simple-is-better.org/json-rpc/transport_http.html).
//
// # Basic Usage
//
// Build a registry, register methods, seal it into a dispatcher and serve it:
//
//	reg := jsonrpc.NewRegistry()
//	reg.MustRegister("add", jsonrpc.Func(add))
//	d, err := jsonrpc.NewDispatcher(reg, jsonrpc.WithLogger(logger))
//	if err != nil { ... }
//	jsonrpc.NewEndpoint(d).Mount(mux, "/rpc")
//
// Methods take a context and a params struct:
//
//	type AddParams struct {
//	    A int `json:"a"`
//	    B int `json:"b" jsonschema:"minimum=0"`
//	}
//
//	func add(ctx context.Context, p AddParams) (int, error) {
//	    return p.A + p.B, nil
//	}
//
// # Parameters
//
// Params may be sent by name ({"a":1,"b":2}) or by position ([1,2]); the
// form is chosen per request from the JSON type of the params member.
// Positions follow field declaration order. Fields tagged omitempty, or with
// a jsonschema default, are optional. Violations are reported all at once
// as an InvalidParams error whose data lists {loc, msg, type} entries.
//
// The `jsonschema` struct tag adds constraints and documentation:
//
//	Amount int `json:"amount" jsonschema:"exclusiveMinimum=5,example=10"`
//
// # Services
//
// RegisterService registers every method of a receiver with the signature
//
//	func(ctx context.Context, params <StructType>) (result, error)
//
// The namespace prefixes method names; an empty namespace uses the Go names:
//
//	reg.RegisterService("math", &MathMethods{})  // -> "math.Add"
//	reg.RegisterService("", &MathMethods{})      // -> "Add"
//
// A `_` field with a `jsonrpc` tag overrides the method name:
//
//	type AddParams struct {
//	    _ struct{} `jsonrpc:"add"`
//	    A int      `json:"a"`
//	}
//
// # Errors
//
// Declare method-specific errors up front and list them on the method:
//
//	var NotEnough = jsonrpc.MustDeclareError("NotEnough", 6001, "Not enough", Shortfall{})
//	reg.MustRegister("withdraw", jsonrpc.Func(withdraw), jsonrpc.WithErrors(NotEnough))
//
// and return them from the handler:
//
//	return nil, NotEnough.New(Shortfall{Missing: 10})
//
// Any other error, an undeclared kind, or a panic is answered with a generic
// InternalError; the detail is logged, never sent.
//
// # Notifications and batches
//
// Requests without an id are notifications: the handler runs but nothing is
// returned, even on error. Batches are answered in order; a batch made only
// of notifications yields an empty HTTP 200 response.
//
// # Schemas
//
// Every method gets its own request, response and error response schemas
// at registration. Synthesize collects them for documentation; see package
// openapi.
//
// # Processor Integration
//
// Processors can be passed to endpoint.Handler or Mount for cross-cutting concerns:
//
//	jsonrpc.NewEndpoint(d).Mount(mux, "/rpc", authProcessor, middleware.NewRequestIDProcessor())
//
// Processor errors return HTTP error responses (not JSON-RPC errors).
package jsonrpc
