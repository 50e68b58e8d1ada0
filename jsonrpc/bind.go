package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// paramsMode is the binding mode of a params member, decided by the JSON
// type of its value.
type paramsMode int

const (
	paramsAbsent paramsMode = iota
	paramsByName
	paramsByPosition
	paramsMalformed
)

func modeOf(raw json.RawMessage) paramsMode {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return paramsAbsent
	}
	switch raw[0] {
	case '{':
		return paramsByName
	case '[':
		return paramsByPosition
	}
	return paramsMalformed
}

// Bind binds raw params to shape and returns a value of the shape's type.
//
// Objects bind by name and arrays by position; an absent params member binds
// as an empty object. Defaults fill missing optional slots before the
// document is handed to v. All violations are returned, located under
// "params"; positional violations name the slot index rather than its name.
func Bind(v ModelValidator, shape *Shape, raw json.RawMessage) (reflect.Value, []Violation) {
	mode := modeOf(raw)
	doc := map[string]json.RawMessage{}
	var vs []Violation

	switch mode {
	case paramsByName:
		if err := json.Unmarshal(raw, &doc); err != nil {
			return reflect.Value{}, []Violation{{Loc: []string{"params"}, Msg: err.Error(), Type: "type_error"}}
		}
	case paramsByPosition:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return reflect.Value{}, []Violation{{Loc: []string{"params"}, Msg: err.Error(), Type: "type_error"}}
		}
		for i, item := range items {
			if i >= len(shape.slots) {
				vs = append(vs, Violation{
					Loc:  []string{strconv.Itoa(i)},
					Msg:  fmt.Sprintf("at most %d positional params are allowed", len(shape.slots)),
					Type: "additional_items",
				})
				continue
			}
			doc[shape.slots[i].name] = item
		}
	case paramsMalformed:
		return reflect.Value{}, []Violation{{
			Loc:  []string{"params"},
			Msg:  "params must be an object or an array",
			Type: "type_error",
		}}
	}

	for _, sl := range shape.slots {
		if _, ok := doc[sl.name]; !ok && sl.def != nil {
			doc[sl.name] = sl.def
		}
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return reflect.Value{}, []Violation{{Loc: []string{"params"}, Msg: err.Error(), Type: "type_error"}}
	}

	ptr := reflect.New(shape.typ)
	if found := v.Validate(shape.schema, body, ptr.Interface()); len(found) > 0 {
		for _, f := range found {
			if mode == paramsByPosition && len(f.Loc) > 0 {
				if i := shape.index(f.Loc[0]); i >= 0 {
					f.Loc = append([]string{strconv.Itoa(i)}, f.Loc[1:]...)
				}
			}
			vs = append(vs, f)
		}
	}
	if len(vs) == 0 {
		return ptr.Elem(), nil
	}

	for i := range vs {
		vs[i].Loc = append([]string{"params"}, vs[i].Loc...)
	}
	sortViolations(shape, mode, vs)
	return reflect.Value{}, vs
}

// sortViolations orders violations by slot position, then by location and
// type, so the reported list does not depend on validator iteration order.
func sortViolations(shape *Shape, mode paramsMode, vs []Violation) {
	rank := func(v Violation) int {
		if len(v.Loc) < 2 {
			return -1
		}
		if mode == paramsByPosition {
			if n, err := strconv.Atoi(v.Loc[1]); err == nil {
				return n
			}
		}
		if i := shape.index(v.Loc[1]); i >= 0 {
			return i
		}
		return len(shape.slots)
	}
	sort.SliceStable(vs, func(i, j int) bool {
		ri, rj := rank(vs[i]), rank(vs[j])
		if ri != rj {
			return ri < rj
		}
		li, lj := strings.Join(vs[i].Loc, "\x00"), strings.Join(vs[j].Loc, "\x00")
		if li != lj {
			return li < lj
		}
		return vs[i].Type < vs[j].Type
	})
}
