package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ModelValidator checks a JSON document against a schema and decodes it.
//
// Validate returns every violation found, or nil after decoding doc into dst.
// dst may be nil when only validation is wanted.
type ModelValidator interface {
	Validate(schema *Schema, doc []byte, dst any) []Violation
}

// SchemaValidator is the default ModelValidator, backed by gojsonschema
// (draft 7). Compiled schemas are cached per *Schema.
type SchemaValidator struct {
	compiled sync.Map // *Schema -> *gojsonschema.Schema
}

func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{}
}

// Prepare compiles and caches s. Calling it is optional; Validate compiles on
// first use.
func (v *SchemaValidator) Prepare(s *Schema) error {
	_, err := v.compile(s)
	return err
}

func (v *SchemaValidator) compile(s *Schema) (*gojsonschema.Schema, error) {
	if c, ok := v.compiled.Load(s); ok {
		return c.(*gojsonschema.Schema), nil
	}
	sl := gojsonschema.NewSchemaLoader()
	sl.Draft = gojsonschema.Draft7
	sl.AutoDetect = false
	c, err := sl.Compile(gojsonschema.NewGoLoader(s))
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: compile schema %q: %w", s.Title, err)
	}
	actual, _ := v.compiled.LoadOrStore(s, c)
	return actual.(*gojsonschema.Schema), nil
}

func (v *SchemaValidator) Validate(s *Schema, doc []byte, dst any) []Violation {
	c, err := v.compile(s)
	if err != nil {
		return []Violation{{Loc: []string{}, Msg: err.Error(), Type: "schema_error"}}
	}
	res, err := c.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return []Violation{{Loc: []string{}, Msg: err.Error(), Type: "decode_error"}}
	}
	if !res.Valid() {
		out := make([]Violation, 0, len(res.Errors()))
		for _, re := range res.Errors() {
			out = append(out, violationOf(re))
		}
		return out
	}
	if dst == nil {
		return nil
	}
	if err := json.NewDecoder(bytes.NewReader(doc)).Decode(dst); err != nil {
		return []Violation{{Loc: decodeErrorLoc(err), Msg: err.Error(), Type: "decode_error"}}
	}
	return nil
}

// violationOf converts a gojsonschema error into a Violation. Errors raised
// on the parent object about a member (required, additional property) are
// located at the member itself.
func violationOf(re gojsonschema.ResultError) Violation {
	loc := []string{}
	if ctx := re.Context(); ctx != nil {
		parts := strings.Split(ctx.String("\x00"), "\x00")
		if len(parts) > 0 && parts[0] == gojsonschema.STRING_CONTEXT_ROOT {
			parts = parts[1:]
		}
		loc = append(loc, parts...)
	}
	switch re.Type() {
	case "required", "additional_property_not_allowed":
		if p, ok := re.Details()["property"].(string); ok {
			loc = append(loc, p)
		}
	}
	return Violation{Loc: loc, Msg: re.Description(), Type: re.Type()}
}

// decodeErrorLoc extracts the member path from an encoding/json type error.
func decodeErrorLoc(err error) []string {
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) && te.Field != "" {
		return strings.Split(te.Field, ".")
	}
	return []string{}
}
