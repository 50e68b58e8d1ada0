// Package openapi renders the schemas synthesized for a jsonrpc.Registry
// as an OpenAPI 3.0 document.
//
// The document has one POST operation for the shared entrypoint and one per
// exposed method at "<path>/<method>". Every operation answers HTTP 200; the
// success envelope and the error envelopes the operation can produce are
// alternatives (oneOf) of that single response.
package openapi

import (
	"encoding/json"
	"strings"
	"unicode"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/mnehpets/onerpc/jsonrpc"
)

// Version is the OpenAPI version the document declares.
const Version = "3.0.2"

// Document is an OpenAPI document. Its JSON encoding is deterministic.
type Document struct {
	OpenAPI    string                                    `json:"openapi"`
	Info       Info                                      `json:"info"`
	Servers    []ServerObject                            `json:"servers,omitempty"`
	Paths      *orderedmap.OrderedMap[string, *PathItem] `json:"paths"`
	Components Components                                `json:"components"`
}

type Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

// ServerObject is an entry of Document.Servers.
type ServerObject struct {
	URL string `json:"url"`
}

type PathItem struct {
	Post *Operation `json:"post"`
}

type Operation struct {
	OperationID string               `json:"operationId"`
	Summary     string               `json:"summary,omitempty"`
	Description string               `json:"description,omitempty"`
	Tags        []string             `json:"tags,omitempty"`
	RequestBody *RequestBody         `json:"requestBody"`
	Responses   map[string]*Response `json:"responses"`
}

type RequestBody struct {
	Content  map[string]*MediaType `json:"content"`
	Required bool                  `json:"required"`
}

type Response struct {
	Description string                `json:"description"`
	Content     map[string]*MediaType `json:"content"`
}

type MediaType struct {
	Schema *jsonrpc.Schema `json:"schema"`
}

type Components struct {
	Schemas *orderedmap.OrderedMap[string, *jsonrpc.Schema] `json:"schemas"`
}

// Options describe the served API.
type Options struct {
	Title       string
	Version     string
	Description string

	// Path is the entrypoint path, e.g. "/api/v1/jsonrpc". Methods are
	// documented below it.
	Path string

	// Servers lists base URLs. Optional.
	Servers []string

	// Tags are attached to every method operation.
	Tags []string
}

const mediaJSON = "application/json"

// Build renders set as an OpenAPI document.
func Build(set *jsonrpc.SchemaSet, opts Options) *Document {
	if opts.Title == "" {
		opts.Title = "JSON-RPC"
	}
	if opts.Version == "" {
		opts.Version = "0.1.0"
	}
	path := "/" + strings.Trim(opts.Path, "/")

	doc := &Document{
		OpenAPI: Version,
		Info:    Info{Title: opts.Title, Description: opts.Description, Version: opts.Version},
		Paths:   orderedmap.New[string, *PathItem](),
		Components: Components{
			Schemas: set.Components,
		},
	}
	for _, s := range opts.Servers {
		doc.Servers = append(doc.Servers, ServerObject{URL: s})
	}

	doc.Paths.Set(path, &PathItem{Post: &Operation{
		OperationID: operationID("entrypoint", path),
		Summary:     "Entrypoint",
		RequestBody: requestBody(set.Entrypoint.Request),
		Responses:   responses(set.Entrypoint.Response, set.Entrypoint.Errors),
	}})

	for _, m := range set.Methods {
		mpath := strings.TrimSuffix(path, "/") + "/" + m.Method
		summary := m.Summary
		if summary == "" {
			summary = titleCase(m.Method)
		}
		doc.Paths.Set(mpath, &PathItem{Post: &Operation{
			OperationID: operationID(m.Method, mpath),
			Summary:     summary,
			Description: m.Description,
			Tags:        opts.Tags,
			RequestBody: requestBody(m.Request),
			Responses:   responses(m.Response, m.Errors),
		}})
	}
	return doc
}

func requestBody(component string) *RequestBody {
	return &RequestBody{
		Content:  map[string]*MediaType{mediaJSON: {Schema: jsonrpc.Ref(component)}},
		Required: true,
	}
}

// responses lists the success envelope and each error envelope as
// alternatives of the one HTTP 200 response.
func responses(success string, kinds []*jsonrpc.ErrorKind) map[string]*Response {
	schema := jsonrpc.Ref(success)
	desc := "Successful Response"
	if len(kinds) > 0 {
		alts := []*jsonrpc.Schema{jsonrpc.Ref(success)}
		lines := make([]string, 0, len(kinds))
		for _, k := range kinds {
			alts = append(alts, jsonrpc.Ref(jsonrpc.ErrorResponseName(k)))
			lines = append(lines, k.String())
		}
		schema = &jsonrpc.Schema{OneOf: alts}
		desc += "\n\n" + strings.Join(lines, "\n")
	}
	return map[string]*Response{
		"200": {
			Description: desc,
			Content:     map[string]*MediaType{mediaJSON: {Schema: schema}},
		},
	}
}

// operationID joins name and path with underscores, replacing anything that
// is not a letter, digit or underscore: ("probe", "/api/v1/jsonrpc/probe")
// gives "probe_api_v1_jsonrpc_probe_post".
func operationID(name, path string) string {
	raw := name + strings.ReplaceAll(path, "/", "_") + "_post"
	var b strings.Builder
	for _, r := range raw {
		if r == '_' || (r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// titleCase turns "probe_by_position_params" into "Probe By Position Params".
func titleCase(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '_' })
	for i, w := range words {
		rs := []rune(w)
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}

// JSON encodes the document with two-space indentation.
func (d *Document) JSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}
