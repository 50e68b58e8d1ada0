package jsonrpc

import (
	"encoding/json"
	"fmt"
	"reflect"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// MethodSchemas names the component schemas instantiated for one method.
type MethodSchemas struct {
	Method      string
	Summary     string
	Description string
	Style       ParamStyle

	// Request and Response are component names, e.g. "_Request_probe_".
	Request  string
	Response string
	// Errors lists the kinds the method can answer with: InvalidParams,
	// InternalError, then its declared kinds.
	Errors []*ErrorKind
}

// EntrypointSchemas names the schemas of the shared entrypoint, which
// accepts any method.
type EntrypointSchemas struct {
	Request  string
	Response string
	Errors   []*ErrorKind
}

// SchemaSet is the output of Synthesize.
type SchemaSet struct {
	// Components holds every named schema referenced from the entrypoint
	// and the methods, in first-reference order.
	Components *orderedmap.OrderedMap[string, *Schema]
	Entrypoint EntrypointSchemas
	// Methods holds the exposed methods in registration order.
	Methods []*MethodSchemas
}

// JSON encodes the component schemas.
func (s *SchemaSet) JSON() ([]byte, error) {
	return json.Marshal(s.Components)
}

// ErrorResponseName is the component name of the error envelope of kind k.
func ErrorResponseName(k *ErrorKind) string {
	return SchemaName("_ErrorResponse[" + k.Name + "]")
}

func requestName(method string) string {
	return SchemaName("_Request[" + method + "]")
}

func responseName(method string) string {
	return SchemaName("_Response[" + method + "]")
}

var builtinKinds = []*ErrorKind{ParseError, InvalidRequest, MethodNotFound, InvalidParams, InternalError}

// mustDefineGeneric defines the envelope and built-in error schemas every
// registry shares.
func (r *Registry) mustDefineGeneric() {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(r.docs.define("_Request", requestSchema()))
	must(r.docs.define("_Response", responseSchema()))
	for _, k := range builtinKinds {
		must(r.defineKind(k))
	}
}

func (r *Registry) defineKind(k *ErrorKind) error {
	if err := r.docs.define(k.Name, r.kindSchema(k)); err != nil {
		return err
	}
	if err := r.docs.define(ErrorResponseName(k), errorResponseSchema(k)); err != nil {
		return err
	}
	r.kinds[k.Name] = k
	return nil
}

func (r *Registry) kindSchema(k *ErrorKind) *Schema {
	s := &Schema{Title: k.Name, Description: k.Description, Type: "object"}
	s.setProperty("code", &Schema{Title: "Code", Type: "integer", Const: k.Code, Default: k.Code, Example: k.Code})
	s.setProperty("message", &Schema{Title: "Message", Type: "string", Const: k.Message, Default: k.Message, Example: k.Message})
	if k.DataType != nil {
		s.setProperty("data", titled(r.docs.schemaFor(k.DataType), "Data"))
	}
	return s
}

func errorResponseSchema(k *ErrorKind) *Schema {
	s := &Schema{Title: "_ErrorResponse[" + k.Name + "]", Type: "object", AdditionalProperties: false}
	s.setProperty("jsonrpc", jsonrpcSchema())
	s.setProperty("id", idSchema())
	s.setProperty("error", Ref(k.Name))
	s.Required = []string{"error"}
	return s
}

// instantiate builds the per-method schemas of m and defines them. Called
// with r.mu held.
func (r *Registry) instantiate(m *Method) (*MethodSchemas, error) {
	reqName, respName := requestName(m.name), responseName(m.name)
	for _, n := range []string{reqName, respName} {
		if r.docs.inUse(n) {
			return nil, fmt.Errorf("%w: schema name %s already in use", ErrDuplicateMethod, n)
		}
	}
	var fresh []*ErrorKind
	for _, k := range m.errors {
		if _, known := r.kinds[k.Name]; known || containsKind(fresh, k) {
			continue
		}
		if r.docs.inUse(k.Name) || r.docs.inUse(ErrorResponseName(k)) {
			return nil, fmt.Errorf("%w: schema name %s already in use", ErrInvalidKind, k.Name)
		}
		fresh = append(fresh, k)
	}

	req := &Schema{Title: "_Request[" + m.name + "]", Type: "object", AdditionalProperties: false}
	req.setProperty("jsonrpc", jsonrpcSchema())
	req.setProperty("id", idSchema())
	req.setProperty("method", &Schema{Title: "Method", Type: "string", Const: m.name, Default: m.name, Example: m.name})
	req.setProperty("params", r.paramsDoc(m))
	req.Required = []string{"params"}

	resp := &Schema{Title: "_Response[" + m.name + "]", Type: "object", AdditionalProperties: false}
	resp.setProperty("jsonrpc", jsonrpcSchema())
	resp.setProperty("id", idSchema())
	resp.setProperty("result", titled(r.docs.schemaFor(m.handler.resultType), "Result"))
	resp.Required = []string{"result"}

	if err := r.docs.define(reqName, req); err != nil {
		return nil, err
	}
	if err := r.docs.define(respName, resp); err != nil {
		return nil, err
	}
	for _, k := range fresh {
		if err := r.defineKind(k); err != nil {
			return nil, err
		}
	}

	errs := []*ErrorKind{InvalidParams, InternalError}
	for _, k := range m.errors {
		if !containsKind(errs, k) {
			errs = append(errs, k)
		}
	}
	return &MethodSchemas{
		Method:      m.name,
		Summary:     m.summary,
		Description: m.description,
		Style:       m.style,
		Request:     reqName,
		Response:    respName,
		Errors:      errs,
	}, nil
}

// paramsDoc is the documented params member of m: the params struct for
// by-name methods, a fixed-length tuple for by-position ones.
func (r *Registry) paramsDoc(m *Method) *Schema {
	byName := func() *Schema {
		s := r.docs.schemaFor(m.params.typ)
		if s.Ref == "" {
			s.Title = "Params"
		}
		return s
	}
	tuple := func() *Schema {
		fields := structFields(m.params.typ)
		items := make([]*Schema, 0, len(fields))
		for _, f := range fields {
			s := r.docs.schemaFor(f.typ)
			if s.Ref == "" {
				applyTags(s, f.typ, f.tags)
			}
			if f.typ.Kind() == reflect.Pointer {
				s = nullable(s)
			}
			items = append(items, s)
		}
		lo, hi := m.params.MinPositional(), len(items)
		return &Schema{Title: "Params", Type: "array", Items: &Items{Tuple: items}, MinItems: &lo, MaxItems: &hi}
	}

	switch m.style {
	case ParamsByPosition:
		return tuple()
	case ParamsEither:
		return &Schema{Title: "Params", AnyOf: []*Schema{byName(), tuple()}}
	}
	return byName()
}

func containsKind(ks []*ErrorKind, k *ErrorKind) bool {
	for _, x := range ks {
		if x == k {
			return true
		}
	}
	return false
}

var entrypointKinds = []*ErrorKind{InvalidParams, MethodNotFound, ParseError, InvalidRequest, InternalError}

// Synthesize collects the schemas of every exposed method of reg. The result
// is deterministic: repeated calls over the same registry encode to the same
// bytes, and methods appear in registration order.
func Synthesize(reg *Registry) *SchemaSet {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	set := &SchemaSet{
		Components: orderedmap.New[string, *Schema](),
		Entrypoint: EntrypointSchemas{Request: "_Request", Response: "_Response"},
	}

	var add func(name string)
	add = func(name string) {
		if _, ok := set.Components.Get(name); ok {
			return
		}
		s, ok := reg.docs.lookup(name)
		if !ok {
			return
		}
		set.Components.Set(name, s)
		s.walkRefs(add)
	}

	add("_Request")
	add("_Response")
	set.Entrypoint.Errors = append(set.Entrypoint.Errors, entrypointKinds...)
	for _, k := range entrypointKinds {
		add(ErrorResponseName(k))
	}

	for _, m := range reg.order {
		if m.hidden {
			continue
		}
		ms := m.schemas
		set.Methods = append(set.Methods, ms)
		add(ms.Request)
		add(ms.Response)
		for _, k := range ms.Errors {
			add(ErrorResponseName(k))
			if !containsKind(set.Entrypoint.Errors, k) {
				set.Entrypoint.Errors = append(set.Entrypoint.Errors, k)
			}
		}
	}
	return set
}
