package endpoint

import (
	"bytes"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// defaultFieldLimit is the maximum byte length of a single decoded value when
// a field carries no maxLength tag.
var defaultFieldLimit = 16 * 1024

// Unmarshal populates dst (must be a non-nil pointer to a struct) from the
// request.
//
// Sources, in order of precedence:
//   - path params: r.PathValue()  `path:"name"`
//   - query params: r.URL.Query() `query:"name"`
//   - headers: r.Header           `header:"name"`
//   - request body: r.Body        `body:""`
//
// A tag value is "name[,flag...]". An empty name defaults to the lowercased
// field name; "-" skips the field. Flags select a decoding: json (any field),
// base64 or base64url ([]byte only). Body fields that are not string or
// []byte decode as JSON and require a JSON Content-Type.
//
// Untagged scalar fields are read from path, then query. Untagged struct
// fields are descended into unless they implement encoding.TextUnmarshaler.
//
// Every value is limited to 16KB unless the field carries `maxLength:"n"`;
// `maxLength:"0"` removes the limit. A value over its limit is a 400 (413
// for the body). Fields with no value present are left unchanged.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}

	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct (or pointer to struct)"))
	}

	d := &decoder{r: r}
	return d.decodeStruct(root)
}

// source reads the raw values of one named parameter from the request.
type source struct {
	key   string
	fetch func(d *decoder, tag sourceTag) ([][]byte, bool, error)
}

var sources = []source{
	{key: "path", fetch: (*decoder).fetchPath},
	{key: "query", fetch: (*decoder).fetchQuery},
	{key: "header", fetch: (*decoder).fetchHeader},
	{key: "body", fetch: (*decoder).fetchBody},
}

type decoder struct {
	r        *http.Request
	bodyUsed string
}

type sourceTag struct {
	Source    string
	Name      string
	Encoding  string
	MaxLength int
}

var textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()

func (d *decoder) decodeStruct(sv reflect.Value) error {
	t := sv.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := sv.Field(i)

		tags, skip, err := fieldTags(sf)
		if err != nil {
			return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
		}
		if skip {
			continue
		}

		if len(tags) == 0 {
			if leaf := leafValue(fv); leaf.Kind() == reflect.Struct && !isTextUnmarshaler(leaf) {
				if err := d.decodeStruct(leaf); err != nil {
					return err
				}
				continue
			}
			name := strings.ToLower(sf.Name)
			tags = []sourceTag{{Source: "path", Name: name}, {Source: "query", Name: name}}
		}

		limit, err := fieldLengthLimit(sf)
		if err != nil {
			return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
		}

		for _, tag := range tags {
			tag.MaxLength = limit
			if tag.Source == "body" {
				if d.bodyUsed != "" {
					return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: multiple body fields: %s and %s", d.bodyUsed, sf.Name))
				}
				d.bodyUsed = sf.Name
				if tag.Encoding == "" && !isStringOrBytes(fv.Type()) {
					tag.Encoding = "json"
				}
			}
			ok, err := d.setField(fv, tag, sf.Name)
			if err != nil {
				return err
			}
			if ok {
				break
			}
		}
	}
	return nil
}

// fieldTags returns the source tags of sf in precedence order. skip is true
// when any source tag is "-".
func fieldTags(sf reflect.StructField) (tags []sourceTag, skip bool, err error) {
	defaultName := strings.ToLower(sf.Name)
	for _, src := range sources {
		tag, has, err := parseSourceTag(sf, src.key, defaultName)
		if err != nil {
			return nil, false, err
		}
		if !has {
			continue
		}
		if tag.Name == "-" {
			return nil, true, nil
		}
		tags = append(tags, tag)
	}
	return tags, false, nil
}

func parseSourceTag(sf reflect.StructField, key, defaultName string) (sourceTag, bool, error) {
	val, has := sf.Tag.Lookup(key)
	if !has {
		return sourceTag{}, false, nil
	}
	name, flags, _ := strings.Cut(val, ",")
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultName
	}

	tag := sourceTag{Source: key, Name: name}
	for _, f := range strings.Split(flags, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		switch f {
		case "":
		case "json", "base64", "base64url":
			if tag.Encoding != "" {
				return sourceTag{}, false, fmt.Errorf("multiple encoding flags on %s tag", key)
			}
			tag.Encoding = f
		default:
			return sourceTag{}, false, fmt.Errorf("unknown %s tag flag %q", key, f)
		}
	}
	return tag, true, nil
}

func fieldLengthLimit(sf reflect.StructField) (int, error) {
	val, has := sf.Tag.Lookup("maxLength")
	if !has {
		return defaultFieldLimit, nil
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("maxLength: invalid integer %q", val)
	}
	if n < 0 {
		return 0, errors.New("maxLength: must be >= 0")
	}
	return n, nil
}

func (d *decoder) setField(fv reflect.Value, tag sourceTag, fieldName string) (bool, error) {
	var fetch func(*decoder, sourceTag) ([][]byte, bool, error)
	for _, src := range sources {
		if src.key == tag.Source {
			fetch = src.fetch
		}
	}
	raw, ok, err := fetch(d, tag)
	if err != nil || !ok {
		return false, err
	}

	for _, val := range raw {
		if tag.MaxLength > 0 && len(val) > tag.MaxLength {
			status := http.StatusBadRequest
			if tag.Source == "body" {
				status = http.StatusRequestEntityTooLarge
			}
			return false, newEndpointError(status, "", fmt.Errorf("endpoint: decode: %s %q -> %s: value exceeds max length %d", tag.Source, tag.Name, fieldName, tag.MaxLength))
		}
	}

	if err := setValues(fv, raw, tag.Encoding); err != nil {
		var ee *EndpointError
		if errors.As(err, &ee) {
			return false, err
		}
		return false, newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: %w", tag.Source, tag.Name, fieldName, err))
	}
	return true, nil
}

func (d *decoder) fetchPath(tag sourceTag) ([][]byte, bool, error) {
	v := d.r.PathValue(tag.Name)
	if v == "" {
		return nil, false, nil
	}
	return [][]byte{[]byte(v)}, true, nil
}

func (d *decoder) fetchQuery(tag sourceTag) ([][]byte, bool, error) {
	if d.r.URL == nil {
		return nil, false, nil
	}
	return byteValues(d.r.URL.Query()[tag.Name])
}

func (d *decoder) fetchHeader(tag sourceTag) ([][]byte, bool, error) {
	// Direct map access distinguishes present-but-empty from missing.
	return byteValues(d.r.Header[http.CanonicalHeaderKey(tag.Name)])
}

func (d *decoder) fetchBody(tag sourceTag) ([][]byte, bool, error) {
	r := d.r
	if r.Body == nil || r.Body == http.NoBody {
		return nil, false, nil
	}
	if tag.Encoding == "json" && !requestBodyIsJSON(r) {
		mt := requestBodyMediaType(r)
		if mt == "" {
			mt = "(missing)"
		}
		return nil, false, newEndpointError(http.StatusUnsupportedMediaType, "", fmt.Errorf("endpoint: decode: body: unsupported media type %s", mt))
	}

	var body io.Reader = r.Body
	if tag.MaxLength > 0 {
		// One extra byte so an oversize body is reported rather than truncated.
		body = io.LimitReader(r.Body, int64(tag.MaxLength)+1)
	}
	b, err := io.ReadAll(body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, false, newEndpointError(http.StatusRequestEntityTooLarge, "", fmt.Errorf("endpoint: decode: body: %w", err))
		}
		return nil, false, newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: body: %w", err))
	}
	return [][]byte{b}, true, nil
}

func byteValues(vs []string) ([][]byte, bool, error) {
	if len(vs) == 0 {
		return nil, false, nil
	}
	out := make([][]byte, len(vs))
	for i, s := range vs {
		out[i] = []byte(s)
	}
	return out, true, nil
}

// RequestIsJSON reports whether the request declares a JSON body
// (application/json or any +json media type).
func RequestIsJSON(r *http.Request) bool {
	mt := requestBodyMediaType(r)
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func requestBodyIsJSON(r *http.Request) bool {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return false
	}
	return RequestIsJSON(r)
}

func requestBodyMediaType(r *http.Request) string {
	if r == nil {
		return ""
	}
	ct := strings.TrimSpace(r.Header.Get("Content-Type"))
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(ct)
	}
	return strings.ToLower(mt)
}

func leafValue(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			if v.Type().Elem().Kind() != reflect.Struct {
				return v
			}
			v.Set(reflect.New(v.Type().Elem()))
		}
		return v.Elem()
	}
	return v
}

func isTextUnmarshaler(v reflect.Value) bool {
	if v.CanAddr() && v.Addr().Type().Implements(textUnmarshalerType) {
		return true
	}
	return v.Type().Implements(textUnmarshalerType)
}

func isStringOrBytes(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.String || (t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8)
}

// setValues stores values into v. Slice fields (other than []byte, or with
// json decoding) receive one element per value; everything else takes the
// first value.
func setValues(v reflect.Value, values [][]byte, enc string) error {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}

	isBytes := v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8
	if v.Kind() == reflect.Slice && !isBytes && enc != "json" {
		slice := reflect.MakeSlice(v.Type(), 0, len(values))
		for _, val := range values {
			elem := reflect.New(v.Type().Elem()).Elem()
			if err := setValue(elem, val, enc); err != nil {
				return err
			}
			slice = reflect.Append(slice, elem)
		}
		v.Set(slice)
		return nil
	}
	return setValue(v, values[0], enc)
}

func setValue(v reflect.Value, b []byte, enc string) error {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		return setValue(v.Elem(), b, enc)
	}

	switch enc {
	case "json":
		return json.NewDecoder(bytes.NewReader(b)).Decode(v.Addr().Interface())
	case "base64", "base64url":
		if v.Kind() != reflect.Slice || v.Type().Elem().Kind() != reflect.Uint8 {
			return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: encoding %q not supported for type %s", enc, v.Type()))
		}
		e := base64.StdEncoding
		if enc == "base64url" {
			e = base64.RawURLEncoding
		}
		out, err := e.DecodeString(string(bytes.TrimSpace(b)))
		if err != nil {
			return err
		}
		v.SetBytes(out)
		return nil
	}

	if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
		return u.UnmarshalText(b)
	}

	s := string(b)
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.Uint8 {
			return fmt.Errorf("unsupported slice type %s", v.Type())
		}
		v.SetBytes(b)
	case reflect.Bool:
		bb, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(bb)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	default:
		return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("unsupported kind %s", v.Kind()))
	}
	return nil
}
