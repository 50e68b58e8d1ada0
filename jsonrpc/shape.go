package jsonrpc

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Shape is the parameter model of a method: an ordered list of named slots
// backed by a Go struct type. Field declaration order is positional order.
type Shape struct {
	typ    reflect.Type
	slots  []slot
	byName map[string]int
	schema *Schema
}

type slot struct {
	name     string
	typ      reflect.Type
	optional bool
	def      json.RawMessage
}

// NewShape builds the parameter shape of struct type t.
func NewShape(t reflect.Type) (*Shape, error) {
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: params must be a struct, got %v", ErrInvalidHandler, t)
	}

	s := &Shape{typ: t, byName: map[string]int{}}

	schema := newReflector(true).objectSchema(t)
	schema.Title = t.Name()
	schema.AdditionalProperties = false

	for _, f := range structFields(t) {
		if _, dup := s.byName[f.name]; dup {
			return nil, fmt.Errorf("%w: %v declares param %q twice", ErrInvalidHandler, t, f.name)
		}
		sl := slot{name: f.name, typ: f.typ, optional: f.optional}
		if p := schema.property(f.name); p != nil && p.Default != nil {
			def, err := json.Marshal(p.Default)
			if err != nil {
				return nil, fmt.Errorf("%w: default of %q: %v", ErrInvalidHandler, f.name, err)
			}
			sl.def = def
		}
		s.byName[f.name] = len(s.slots)
		s.slots = append(s.slots, sl)
	}
	s.schema = schema
	return s, nil
}

// methodRename returns the method name given by a `_ struct{} jsonrpc:"name"`
// field of params struct t, or "".
func methodRename(t reflect.Type) string {
	if sf, ok := t.FieldByName("_"); ok {
		return sf.Tag.Get("jsonrpc")
	}
	return ""
}

// Type returns the Go type bound values have.
func (s *Shape) Type() reflect.Type { return s.typ }

// Len returns the number of slots.
func (s *Shape) Len() int { return len(s.slots) }

// Names returns the slot names in positional order.
func (s *Shape) Names() []string {
	names := make([]string, len(s.slots))
	for i, sl := range s.slots {
		names[i] = sl.name
	}
	return names
}

// Schema returns the inline validation schema of the shape.
func (s *Shape) Schema() *Schema { return s.schema }

// MinPositional is the shortest positional array the shape accepts: the index
// of the last required slot plus one.
func (s *Shape) MinPositional() int {
	n := 0
	for i, sl := range s.slots {
		if !sl.optional {
			n = i + 1
		}
	}
	return n
}

// index returns the position of the slot called name, or -1.
func (s *Shape) index(name string) int {
	if i, ok := s.byName[name]; ok {
		return i
	}
	return -1
}
