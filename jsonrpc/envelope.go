package jsonrpc

import (
	"bytes"
	"encoding/json"
	"regexp"
)

// Version is the only protocol version accepted and produced.
const Version = "2.0"

// Request is one JSON-RPC request envelope.
//
// Params and ID are kept as raw JSON; ID is echoed back unchanged.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no id. An explicit
// null id is treated as absent.
func (r *Request) IsNotification() bool {
	return isNull(r.ID)
}

// Response is a response or error envelope. Exactly one of Result and Error
// is set. A nil ID encodes as null.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

func errorResponse(err *Error, id json.RawMessage) *Response {
	return &Response{JSONRPC: Version, Error: err, ID: id}
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

var integerRE = regexp.MustCompile(`^-?(0|[1-9][0-9]*)$`)

// validID reports whether raw is a string or an integer.
func validID(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	if raw[0] == '"' {
		var s string
		return json.Unmarshal(raw, &s) == nil
	}
	return integerRE.Match(raw)
}

// jsonrpcSchema, idSchema and friends are the members shared by every
// envelope schema.
func jsonrpcSchema() *Schema {
	return &Schema{Title: "Jsonrpc", Type: "string", Const: Version, Default: Version, Example: Version}
}

func idSchema() *Schema {
	return &Schema{
		Title:   "Id",
		AnyOf:   []*Schema{{Type: "string"}, {Type: "integer"}},
		Example: 0,
	}
}

func paramsSchema() *Schema {
	return &Schema{
		Title: "Params",
		AnyOf: []*Schema{
			{Type: "object"},
			{Type: "array", Items: &Items{Schema: &Schema{}}},
		},
	}
}

// requestSchema is the generic request envelope.
func requestSchema() *Schema {
	s := &Schema{Title: "_Request", Type: "object", AdditionalProperties: false}
	s.setProperty("jsonrpc", jsonrpcSchema())
	s.setProperty("id", idSchema())
	s.setProperty("method", &Schema{Title: "Method", Type: "string"})
	s.setProperty("params", paramsSchema())
	s.Required = []string{"method"}
	return s
}

// requestValidationSchema is requestSchema loosened to accept null for id
// and params, which are read as absent.
func requestValidationSchema() *Schema {
	s := requestSchema().clone()
	id := idSchema()
	id.AnyOf = append(id.AnyOf, &Schema{Type: "null"})
	s.setProperty("id", id)
	params := paramsSchema()
	params.AnyOf = append(params.AnyOf, &Schema{Type: "null"})
	s.setProperty("params", params)
	return s
}

// responseSchema is the generic success envelope.
func responseSchema() *Schema {
	s := &Schema{Title: "_Response", Type: "object", AdditionalProperties: false}
	s.setProperty("jsonrpc", jsonrpcSchema())
	s.setProperty("id", idSchema())
	s.setProperty("result", &Schema{Title: "Result", Type: "object"})
	s.Required = []string{"result"}
	return s
}

// decodeRequest validates one batch item as a request envelope. On failure
// it returns the InvalidRequest error and the item's id when one can be
// read, so the error envelope can still be correlated.
func decodeRequest(v ModelValidator, schema *Schema, raw json.RawMessage) (*Request, *Error, json.RawMessage) {
	var id json.RawMessage
	var members map[string]json.RawMessage
	if json.Unmarshal(raw, &members) == nil {
		if candidate, ok := members["id"]; ok && validID(candidate) {
			id = candidate
		}
	}

	req := &Request{}
	if vs := v.Validate(schema, raw, req); vs != nil {
		return nil, invalidRequest(vs), id
	}
	if req.JSONRPC == "" {
		req.JSONRPC = Version
	}
	if isNull(req.Params) {
		req.Params = nil
	}
	if isNull(req.ID) {
		req.ID = nil
	} else if !validID(req.ID) {
		return nil, invalidRequest([]Violation{{
			Loc:  []string{"id"},
			Msg:  "id must be a string or an integer literal",
			Type: "invalid_type",
		}}), nil
	}
	return req, nil, id
}
