package jsonrpc

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Schema is the subset of JSON Schema (as used by OpenAPI 3) that the
// synthesizer emits and the model validator enforces.
//
// Field order is the serialization order; property order is insertion order.
type Schema struct {
	Ref                  string                                   `json:"$ref,omitempty"`
	Title                string                                   `json:"title,omitempty"`
	Description          string                                   `json:"description,omitempty"`
	Type                 string                                   `json:"type,omitempty"`
	Format               string                                   `json:"format,omitempty"`
	Const                any                                      `json:"const,omitempty"`
	Default              any                                      `json:"default,omitempty"`
	Example              any                                      `json:"example,omitempty"`
	Enum                 []any                                    `json:"enum,omitempty"`
	Pattern              string                                   `json:"pattern,omitempty"`
	Minimum              *float64                                 `json:"minimum,omitempty"`
	Maximum              *float64                                 `json:"maximum,omitempty"`
	ExclusiveMinimum     *float64                                 `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum     *float64                                 `json:"exclusiveMaximum,omitempty"`
	MinLength            *int                                     `json:"minLength,omitempty"`
	MaxLength            *int                                     `json:"maxLength,omitempty"`
	Items                *Items                                   `json:"items,omitempty"`
	MinItems             *int                                     `json:"minItems,omitempty"`
	MaxItems             *int                                     `json:"maxItems,omitempty"`
	Properties           *orderedmap.OrderedMap[string, *Schema] `json:"properties,omitempty"`
	Required             []string                                 `json:"required,omitempty"`
	AdditionalProperties any                                      `json:"additionalProperties,omitempty"`
	AnyOf                []*Schema                                `json:"anyOf,omitempty"`
	OneOf                []*Schema                                `json:"oneOf,omitempty"`
}

// Items is the "items" keyword: a single schema for homogeneous arrays, or a
// tuple of per-position schemas.
type Items struct {
	Schema *Schema
	Tuple  []*Schema
}

func (it *Items) MarshalJSON() ([]byte, error) {
	if it.Tuple != nil {
		return json.Marshal(it.Tuple)
	}
	if it.Schema == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(it.Schema)
}

// Ref returns a schema referencing the named component.
func Ref(name string) *Schema {
	return &Schema{Ref: ComponentRef(name)}
}

// ComponentRef is the JSON pointer of a component schema.
func ComponentRef(name string) string {
	return "#/components/schemas/" + name
}

// SchemaName turns a display title such as "_Request[probe]" into a
// component name ("_Request_probe_").
func SchemaName(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r == '_' || r == '.' || r == '-':
			b.WriteRune(r)
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// clone copies s one level deep. Property values are shared.
func (s *Schema) clone() *Schema {
	c := *s
	if s.Properties != nil {
		c.Properties = orderedmap.New[string, *Schema]()
		for p := s.Properties.Oldest(); p != nil; p = p.Next() {
			c.Properties.Set(p.Key, p.Value)
		}
	}
	c.Required = append([]string(nil), s.Required...)
	c.Enum = append([]any(nil), s.Enum...)
	c.AnyOf = append([]*Schema(nil), s.AnyOf...)
	c.OneOf = append([]*Schema(nil), s.OneOf...)
	return &c
}

// walkRefs calls visit with the component name of every $ref reachable from
// s, in document order.
func (s *Schema) walkRefs(visit func(name string)) {
	if s == nil {
		return
	}
	if name, ok := strings.CutPrefix(s.Ref, ComponentRef("")); ok {
		visit(name)
	}
	if s.Items != nil {
		s.Items.Schema.walkRefs(visit)
		for _, it := range s.Items.Tuple {
			it.walkRefs(visit)
		}
	}
	if s.Properties != nil {
		for p := s.Properties.Oldest(); p != nil; p = p.Next() {
			p.Value.walkRefs(visit)
		}
	}
	if ap, ok := s.AdditionalProperties.(*Schema); ok {
		ap.walkRefs(visit)
	}
	for _, sub := range s.AnyOf {
		sub.walkRefs(visit)
	}
	for _, sub := range s.OneOf {
		sub.walkRefs(visit)
	}
}

func (s *Schema) setProperty(name string, p *Schema) {
	if s.Properties == nil {
		s.Properties = orderedmap.New[string, *Schema]()
	}
	s.Properties.Set(name, p)
}

func (s *Schema) property(name string) *Schema {
	if s.Properties == nil {
		return nil
	}
	p, _ := s.Properties.Get(name)
	return p
}

// titled returns s with title set, unless s is a reference (siblings of
// $ref are ignored by OpenAPI 3.0).
func titled(s *Schema, title string) *Schema {
	if s.Ref != "" {
		return s
	}
	c := s.clone()
	c.Title = title
	return c
}

// fieldTitle derives a display title from a json member name:
// "whole_params" -> "Whole Params".
func fieldTitle(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		rs := []rune(w)
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}

var (
	timeType       = reflect.TypeFor[time.Time]()
	rawMessageType = reflect.TypeFor[json.RawMessage]()
	errorDataType  = reflect.TypeFor[ErrorData]()
	violationType  = reflect.TypeFor[Violation]()
)

// reflector builds schemas from Go types.
//
// In inline mode (used for validation) nested structs are expanded in place.
// Otherwise named structs are defined once in defs and referenced by name.
type reflector struct {
	inline bool

	names    map[reflect.Type]string
	taken    map[string]reflect.Type
	defs     map[string]*Schema
	building map[reflect.Type]bool
}

// claimedType marks component names taken by something other than a Go type
// (error kinds, envelopes).
var claimedType = reflect.TypeFor[struct{ claimed bool }]()

func newReflector(inline bool) *reflector {
	r := &reflector{
		inline:   inline,
		names:    map[reflect.Type]string{},
		taken:    map[string]reflect.Type{},
		defs:     map[string]*Schema{},
		building: map[reflect.Type]bool{},
	}
	r.reserve(errorDataType, "_ErrorData__Error_")
	r.reserve(violationType, "_Error")
	return r
}

func (r *reflector) reserve(t reflect.Type, name string) {
	r.names[t] = name
	r.taken[name] = t
}

// define stores a component schema under name. It fails if name is already
// taken by a different Go type or another definition.
func (r *reflector) define(name string, s *Schema) error {
	if _, ok := r.taken[name]; ok {
		return fmt.Errorf("schema name %q already in use", name)
	}
	r.taken[name] = claimedType
	r.defs[name] = s
	return nil
}

// reflectorState is a copy of the naming tables of a reflector.
type reflectorState struct {
	names map[reflect.Type]string
	taken map[string]reflect.Type
	defs  map[string]*Schema
}

func (r *reflector) snapshot() reflectorState {
	return reflectorState{names: maps.Clone(r.names), taken: maps.Clone(r.taken), defs: maps.Clone(r.defs)}
}

// restore discards every name claimed since st was taken.
func (r *reflector) restore(st reflectorState) {
	r.names, r.taken, r.defs = st.names, st.taken, st.defs
}

// inUse reports whether name is taken.
func (r *reflector) inUse(name string) bool {
	_, ok := r.taken[name]
	return ok
}

// lookup returns the component schema called name.
func (r *reflector) lookup(name string) (*Schema, bool) {
	s, ok := r.defs[name]
	return s, ok
}

// componentTitle is the title given to a named struct schema.
func componentTitle(t reflect.Type, name string) string {
	switch t {
	case errorDataType:
		return "_ErrorData[_Error]"
	case violationType:
		return "_Error"
	}
	return name
}

// nameFor returns a unique component name for the named struct type t.
func (r *reflector) nameFor(t reflect.Type) string {
	if n, ok := r.names[t]; ok {
		return n
	}
	base := SchemaName(t.Name())
	name := base
	if other, ok := r.taken[name]; ok && other != t {
		pkg := t.PkgPath()
		if i := strings.LastIndex(pkg, "/"); i >= 0 {
			pkg = pkg[i+1:]
		}
		name = SchemaName(pkg + "." + base)
		for i := 2; r.taken[name] != nil && r.taken[name] != t; i++ {
			name = SchemaName(fmt.Sprintf("%s.%s%d", pkg, base, i))
		}
	}
	r.reserve(t, name)
	return name
}

// schemaFor returns the schema of t.
func (r *reflector) schemaFor(t reflect.Type) *Schema {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch {
	case t == timeType:
		return &Schema{Type: "string", Format: "date-time"}
	case t == rawMessageType:
		return &Schema{}
	}

	switch t.Kind() {
	case reflect.String:
		return &Schema{Type: "string"}
	case reflect.Bool:
		return &Schema{Type: "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &Schema{Type: "number"}
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return &Schema{Type: "string", Format: "byte"}
		}
		return &Schema{Type: "array", Items: &Items{Schema: r.schemaFor(t.Elem())}}
	case reflect.Array:
		n := t.Len()
		return &Schema{Type: "array", Items: &Items{Schema: r.schemaFor(t.Elem())}, MinItems: &n, MaxItems: &n}
	case reflect.Map:
		return &Schema{Type: "object", AdditionalProperties: r.schemaFor(t.Elem())}
	case reflect.Struct:
		return r.structSchema(t)
	}
	return &Schema{}
}

func (r *reflector) structSchema(t reflect.Type) *Schema {
	if r.inline || t.Name() == "" {
		if r.building[t] {
			// Recursive type; accept anything below this point.
			return &Schema{Type: "object"}
		}
		r.building[t] = true
		defer delete(r.building, t)
		s := r.objectSchema(t)
		if t.Name() != "" {
			s.Title = componentTitle(t, t.Name())
		}
		return s
	}

	name := r.nameFor(t)
	if _, done := r.defs[name]; !done && !r.building[t] {
		r.building[t] = true
		s := r.objectSchema(t)
		s.Title = componentTitle(t, name)
		delete(r.building, t)
		r.defs[name] = s
	}
	return Ref(name)
}

// objectSchema builds the object schema of struct t from its fields.
func (r *reflector) objectSchema(t reflect.Type) *Schema {
	s := &Schema{Type: "object"}
	for _, f := range structFields(t) {
		fs := r.schemaFor(f.typ)
		if fs.Ref == "" {
			fs.Title = fieldTitle(f.name)
			applyTags(fs, f.typ, f.tags)
		}
		if f.typ.Kind() == reflect.Pointer {
			ref := fs.Ref != ""
			fs = nullable(fs)
			if ref {
				fs.Title = fieldTitle(f.name)
			}
		}
		s.setProperty(f.name, fs)
		if !f.optional {
			s.Required = append(s.Required, f.name)
		}
	}
	return s
}

// nullable wraps s so that null is also accepted. Annotations move to the
// wrapper.
func nullable(s *Schema) *Schema {
	inner := *s
	w := &Schema{
		Title:       inner.Title,
		Description: inner.Description,
		Default:     inner.Default,
		Example:     inner.Example,
	}
	inner.Title, inner.Description, inner.Default, inner.Example = "", "", nil, nil
	w.AnyOf = []*Schema{&inner, {Type: "null"}}
	return w
}

// field is one JSON member of a struct.
type field struct {
	name     string
	index    []int
	typ      reflect.Type
	optional bool
	tags     []tagOption
}

// structFields lists the JSON members of struct t in declaration order,
// flattening untagged embedded structs the way encoding/json does.
func structFields(t reflect.Type) []field {
	var out []field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Name == "_" {
			continue
		}
		jsonTag := sf.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(jsonTag, ",")

		ft := sf.Type
		if sf.Anonymous && name == "" {
			et := ft
			if et.Kind() == reflect.Pointer {
				et = et.Elem()
			}
			if et.Kind() == reflect.Struct {
				for _, inner := range structFields(et) {
					inner.index = append([]int{i}, inner.index...)
					out = append(out, inner)
				}
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}

		tags := parseTagOptions(sf.Tag.Get("jsonschema"))
		optional := ft.Kind() == reflect.Pointer || strings.Contains(","+opts+",", ",omitempty,")
		for _, o := range tags {
			if o.key == "default" || o.key == "optional" {
				optional = true
			}
		}
		out = append(out, field{
			name:     name,
			index:    []int{i},
			typ:      ft,
			optional: optional,
			tags:     tags,
		})
	}
	return out
}

type tagOption struct {
	key   string
	value string
}

func parseTagOptions(tag string) []tagOption {
	if tag == "" {
		return nil
	}
	var out []tagOption
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		out = append(out, tagOption{key: strings.TrimSpace(k), value: strings.TrimSpace(v)})
	}
	return out
}

// applyTags applies `jsonschema` struct tag options to s. Unknown keys are
// ignored. Repeated example/enum/default keys on slices accumulate.
func applyTags(s *Schema, t reflect.Type, opts []tagOption) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	isList := t.Kind() == reflect.Slice && t.Elem().Kind() != reflect.Uint8
	elem := t
	if isList {
		elem = t.Elem()
	}

	target := s
	if isList && s.Items != nil && s.Items.Schema != nil {
		target = s.Items.Schema
	}

	for _, o := range opts {
		switch o.key {
		case "title":
			s.Title = o.value
		case "description":
			s.Description = o.value
		case "format":
			target.Format = o.value
		case "pattern":
			target.Pattern = o.value
		case "example":
			if isList {
				s.Example = appendAny(s.Example, tagValue(elem, o.value))
			} else {
				s.Example = tagValue(t, o.value)
			}
		case "default":
			if isList {
				s.Default = appendAny(s.Default, tagValue(elem, o.value))
			} else {
				s.Default = tagValue(t, o.value)
			}
		case "enum":
			target.Enum = append(target.Enum, tagValue(elem, o.value))
		case "minimum":
			target.Minimum = floatPtr(o.value)
		case "maximum":
			target.Maximum = floatPtr(o.value)
		case "exclusiveMinimum":
			target.ExclusiveMinimum = floatPtr(o.value)
		case "exclusiveMaximum":
			target.ExclusiveMaximum = floatPtr(o.value)
		case "minLength":
			target.MinLength = intPtr(o.value)
		case "maxLength":
			target.MaxLength = intPtr(o.value)
		case "minItems":
			s.MinItems = intPtr(o.value)
		case "maxItems":
			s.MaxItems = intPtr(o.value)
		}
	}
}

func appendAny(list any, v any) any {
	l, _ := list.([]any)
	return append(l, v)
}

// tagValue parses a tag value according to the Go type it annotates.
func tagValue(t reflect.Type, v string) any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return v
	case reflect.Bool:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	case reflect.Float32, reflect.Float64:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	var out any
	if err := json.Unmarshal([]byte(v), &out); err == nil {
		return out
	}
	return v
}

func floatPtr(v string) *float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func intPtr(v string) *int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}
