package endpoint

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type textUpper string

func (t *textUpper) UnmarshalText(b []byte) error {
	*t = textUpper(strings.ToUpper(string(b)))
	return nil
}

type decodeParams struct {
	ID    string   `path:"id"`
	Q     string   `query:"q"`
	N     int      `query:"n"`
	Ok    bool     `query:"ok"`
	Ratio float64  `query:"ratio"`
	P     *int     `query:"p"`
	Limit uint     `header:"X-Limit"`
	Score *float64 `header:"X-Score"`
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var ee *EndpointError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *EndpointError, got %T (%v)", err, err)
	}
	return ee.Status
}

func TestUnmarshal_PathQueryHeader(t *testing.T) {
	var p decodeParams
	var decodeErr error

	mux := http.NewServeMux()
	mux.HandleFunc("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		decodeErr = Unmarshal(r, &p)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/users/42?q=hello&n=7&ok=true&ratio=0.5&p=9", nil)
	req.Header.Set("X-Limit", "3")
	req.Header.Set("X-Score", "1.25")
	mux.ServeHTTP(httptest.NewRecorder(), req)
	if decodeErr != nil {
		t.Fatalf("Unmarshal returned error: %v", decodeErr)
	}

	if p.ID != "42" || p.Q != "hello" || p.N != 7 || !p.Ok || p.Ratio != 0.5 {
		t.Fatalf("unexpected params: %+v", p)
	}
	if p.P == nil || *p.P != 9 {
		t.Fatalf("expected P 9, got %v", p.P)
	}
	if p.Limit != 3 {
		t.Fatalf("expected Limit 3, got %d", p.Limit)
	}
	if p.Score == nil || *p.Score != 1.25 {
		t.Fatalf("expected Score 1.25, got %v", p.Score)
	}
}

func TestUnmarshal_NonStructParams_ReturnsError(t *testing.T) {
	var p int
	req := httptest.NewRequest(http.MethodGet, "/t", nil)
	if err := Unmarshal(req, &p); err == nil {
		t.Fatalf("expected error for non-struct dst, got nil")
	}
}

func TestUnmarshal_InterfaceParams_ReturnsError(t *testing.T) {
	var p any
	req := httptest.NewRequest(http.MethodGet, "/t", nil)
	if err := Unmarshal(req, &p); err == nil {
		t.Fatalf("expected error for interface dst, got nil")
	}
}

func TestUnmarshal_PointerToStructParams(t *testing.T) {
	type params struct {
		Q string `query:"q"`
	}
	var p *params
	req := httptest.NewRequest(http.MethodGet, "/t?q=x", nil)
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if p == nil || p.Q != "x" {
		t.Fatalf("unexpected params: %+v", p)
	}
}

func TestUnmarshal_Body_JSON_Explicit(t *testing.T) {
	type params struct {
		Body struct {
			A string `json:"a"`
			N int    `json:"n"`
		} `body:",json"`
	}

	req := httptest.NewRequest(http.MethodPost, "/t", strings.NewReader(`{"a":"x","n":7}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	var p params
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if p.Body.A != "x" || p.Body.N != 7 {
		t.Fatalf("unexpected body: %+v", p.Body)
	}
}

func TestUnmarshal_Body_JSON_ContentTypeMismatch(t *testing.T) {
	type params struct {
		Body map[string]any `body:""`
	}

	req := httptest.NewRequest(http.MethodPost, "/t", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "text/plain")

	var p params
	err := Unmarshal(req, &p)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := statusOf(t, err); got != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", got)
	}
}

func TestUnmarshal_Body_VendorJSONMediaType(t *testing.T) {
	type params struct {
		Body map[string]int `body:""`
	}

	req := httptest.NewRequest(http.MethodPost, "/t", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/vnd.api+json")

	var p params
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if p.Body["a"] != 1 {
		t.Fatalf("unexpected body: %v", p.Body)
	}
}

func TestUnmarshal_Body_RawBytesIgnoreContentType(t *testing.T) {
	type params struct {
		Body []byte `body:""`
	}
	req := httptest.NewRequest(http.MethodPost, "/t", strings.NewReader(`not json`))
	req.Header.Set("Content-Type", "text/plain")

	var p params
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if string(p.Body) != "not json" {
		t.Fatalf("expected %q, got %q", "not json", string(p.Body))
	}
}

func TestUnmarshal_Body_String(t *testing.T) {
	type params struct {
		Body string `body:"placeholder"`
	}
	req := httptest.NewRequest(http.MethodPost, "/t", strings.NewReader("hello"))

	var p params
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if p.Body != "hello" {
		t.Fatalf("expected %q, got %q", "hello", p.Body)
	}
}

func TestUnmarshal_Body_MissingLeavesZero(t *testing.T) {
	type params struct {
		Body []byte `body:""`
	}
	req := httptest.NewRequest(http.MethodPost, "/t", nil)

	var p params
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if p.Body != nil {
		t.Fatalf("expected nil body, got %q", p.Body)
	}
}

func TestUnmarshal_Body_MultipleFieldsError(t *testing.T) {
	type params struct {
		A string `body:"a"`
		B string `body:"b"`
	}
	req := httptest.NewRequest(http.MethodPost, "/t", strings.NewReader("x"))

	var p params
	err := Unmarshal(req, &p)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := statusOf(t, err); got != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got)
	}
}

func TestUnmarshal_Body_OverLimit_Is413(t *testing.T) {
	type params struct {
		Body []byte `body:"" maxLength:"4"`
	}
	req := httptest.NewRequest(http.MethodPost, "/t", strings.NewReader("12345"))

	var p params
	err := Unmarshal(req, &p)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := statusOf(t, err); got != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", got)
	}
}

func TestUnmarshal_Body_MaxBytesReader_Is413(t *testing.T) {
	type params struct {
		Body []byte `body:"" maxLength:"0"`
	}
	req := httptest.NewRequest(http.MethodPost, "/t", strings.NewReader("0123456789"))
	req.Body = http.MaxBytesReader(httptest.NewRecorder(), req.Body, 5)

	var p params
	err := Unmarshal(req, &p)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := statusOf(t, err); got != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", got)
	}
}

func TestUnmarshal_Query_JSON_DecodesIntoStruct(t *testing.T) {
	type inner struct {
		A int `json:"a"`
	}
	type params struct {
		Q inner `query:"q,json"`
	}

	req := httptest.NewRequest(http.MethodGet, "/t?q=%7B%22a%22%3A123%7D", nil)

	var p params
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if p.Q.A != 123 {
		t.Fatalf("expected %d, got %d", 123, p.Q.A)
	}
}

func TestUnmarshal_Body_DefaultJSON_DecodesIntoScalar(t *testing.T) {
	type params struct {
		N int `body:"n"`
	}

	req := httptest.NewRequest(http.MethodPost, "/t", strings.NewReader("123"))
	req.Header.Set("Content-Type", "application/json")

	var p params
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if p.N != 123 {
		t.Fatalf("expected %d, got %d", 123, p.N)
	}
}

func TestUnmarshal_JSONBody_TypeMismatch_Is400(t *testing.T) {
	type params struct {
		N int `body:""`
	}
	req := httptest.NewRequest(http.MethodPost, "/t", strings.NewReader(`"abc"`))
	req.Header.Set("Content-Type", "application/json")

	var p params
	err := Unmarshal(req, &p)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := statusOf(t, err); got != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", got)
	}
}

func TestUnmarshal_PointerFieldsMissingRemainNil(t *testing.T) {
	type params struct {
		P *int    `query:"p"`
		S *string `header:"X-S"`
	}
	req := httptest.NewRequest(http.MethodGet, "/t", nil)

	var p params
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if p.P != nil || p.S != nil {
		t.Fatalf("expected nil pointers, got %+v", p)
	}
}

func TestUnmarshal_SourcePrecedence(t *testing.T) {
	type params struct {
		X string `path:"x" query:"x" header:"X"`
		Y string `query:"y" header:"Y"`
	}

	var p params
	var decodeErr error
	mux := http.NewServeMux()
	mux.HandleFunc("/t/{x}", func(w http.ResponseWriter, r *http.Request) {
		decodeErr = Unmarshal(r, &p)
	})

	req := httptest.NewRequest(http.MethodGet, "/t/path?x=query", nil)
	req.Header.Set("X", "header")
	req.Header.Set("Y", "header")
	mux.ServeHTTP(httptest.NewRecorder(), req)

	if decodeErr != nil {
		t.Fatalf("Unmarshal returned error: %v", decodeErr)
	}
	if p.X != "path" {
		t.Fatalf("expected path to win, got %q", p.X)
	}
	if p.Y != "header" {
		t.Fatalf("expected header fallback, got %q", p.Y)
	}
}

func TestUnmarshal_Bytes(t *testing.T) {
	type params struct {
		Raw []byte `query:"raw"`
		Std []byte `query:"std,base64"`
		URL []byte `header:"X-Url,base64url"`
	}
	payload := []byte{0xfb, 0xff, 'h', 'i'}
	q := "raw=plain&std=" + strings.ReplaceAll(base64.StdEncoding.EncodeToString(payload), "+", "%2B")
	req := httptest.NewRequest(http.MethodGet, "/t?"+q, nil)
	req.Header.Set("X-Url", base64.RawURLEncoding.EncodeToString(payload))

	var p params
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if string(p.Raw) != "plain" {
		t.Fatalf("expected %q, got %q", "plain", p.Raw)
	}
	if string(p.Std) != string(payload) {
		t.Fatalf("expected %v, got %v", payload, p.Std)
	}
	if string(p.URL) != string(payload) {
		t.Fatalf("expected %v, got %v", payload, p.URL)
	}
}

func TestUnmarshal_Base64_OnNonByteField_ReturnsError(t *testing.T) {
	type params struct {
		S string `query:"s,base64"`
	}
	req := httptest.NewRequest(http.MethodGet, "/t?s=aGk=", nil)

	var p params
	err := Unmarshal(req, &p)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := statusOf(t, err); got != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got)
	}
}

func TestUnmarshal_EmptyTagValue_UsesFieldNameLowercased(t *testing.T) {
	type params struct {
		Name string `query:""`
	}
	req := httptest.NewRequest(http.MethodGet, "/t?name=ok", nil)

	var p params
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if p.Name != "ok" {
		t.Fatalf("expected %q, got %q", "ok", p.Name)
	}
}

func TestUnmarshal_MaxLength(t *testing.T) {
	type limited struct {
		Q string `query:"q" maxLength:"3"`
	}
	type unlimited struct {
		Q string `query:"q" maxLength:"0"`
	}
	type defaulted struct {
		Q string `query:"q"`
	}
	type invalid struct {
		Q string `query:"q" maxLength:"abc"`
	}

	req := httptest.NewRequest(http.MethodGet, "/t?q=abcd", nil)
	var l limited
	if got := statusOf(t, Unmarshal(req, &l)); got != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", got)
	}

	long := strings.Repeat("x", defaultFieldLimit+1)
	req = httptest.NewRequest(http.MethodGet, "/t?q="+long, nil)
	var d defaulted
	if got := statusOf(t, Unmarshal(req, &d)); got != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", got)
	}
	var u unlimited
	if err := Unmarshal(req, &u); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if len(u.Q) != len(long) {
		t.Fatalf("expected full value, got %d bytes", len(u.Q))
	}

	var i invalid
	if got := statusOf(t, Unmarshal(req, &i)); got != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got)
	}
}

func TestUnmarshal_SourceTag_IgnoreDash(t *testing.T) {
	type params struct {
		A string `query:"-"`
		B string `header:"-"`
		C string
	}
	req := httptest.NewRequest(http.MethodGet, "/t?a=1&b=2&c=3", nil)
	req.Header.Set("B", "2")

	var p params
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if p.A != "" || p.B != "" {
		t.Fatalf("expected ignored fields to stay empty, got %+v", p)
	}
	if p.C != "3" {
		t.Fatalf("expected untagged C from query, got %q", p.C)
	}
}

func TestUnmarshal_UnknownFlag_ReturnsError(t *testing.T) {
	type params struct {
		A string `query:"a,hex"`
	}
	req := httptest.NewRequest(http.MethodGet, "/t?a=1", nil)

	var p params
	if got := statusOf(t, Unmarshal(req, &p)); got != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got)
	}
}

func TestUnmarshal_NestedStruct(t *testing.T) {
	type Paging struct {
		Page int `query:"page"`
		Size int `query:"size"`
	}
	type params struct {
		Paging
		Filter *struct {
			Tag string `query:"tag"`
		}
	}
	req := httptest.NewRequest(http.MethodGet, "/t?page=2&size=10&tag=go", nil)

	var p params
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if p.Page != 2 || p.Size != 10 {
		t.Fatalf("unexpected paging: %+v", p.Paging)
	}
	if p.Filter == nil || p.Filter.Tag != "go" {
		t.Fatalf("unexpected filter: %+v", p.Filter)
	}
}

func TestUnmarshal_TextUnmarshaler(t *testing.T) {
	type params struct {
		Name textUpper `query:"name"`
		At   time.Time `query:"at"`
		Auto time.Time
	}
	req := httptest.NewRequest(http.MethodGet, "/t?name=ada&at=2024-01-02T03:04:05Z&auto=2025-06-07T00:00:00Z", nil)

	var p params
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if p.Name != "ADA" {
		t.Fatalf("expected %q, got %q", "ADA", p.Name)
	}
	if want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC); !p.At.Equal(want) {
		t.Fatalf("expected %v, got %v", want, p.At)
	}
	if want := time.Date(2025, 6, 7, 0, 0, 0, 0, time.UTC); !p.Auto.Equal(want) {
		t.Fatalf("expected %v, got %v", want, p.Auto)
	}
}

func TestUnmarshal_Header_PresentButEmpty(t *testing.T) {
	type params struct {
		S *string `header:"X-Empty"`
	}
	req := httptest.NewRequest(http.MethodGet, "/t", nil)
	req.Header["X-Empty"] = []string{""}

	var p params
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if p.S == nil || *p.S != "" {
		t.Fatalf("expected empty non-nil string, got %v", p.S)
	}
}

func TestUnmarshal_Slices(t *testing.T) {
	type params struct {
		IDs   []int    `query:"id"`
		Tags  []string `header:"X-Tag"`
		Extra []int    `query:"extra,json"`
	}
	req := httptest.NewRequest(http.MethodGet, "/t?id=1&id=2&id=3&extra=%5B7%2C8%5D", nil)
	req.Header.Add("X-Tag", "a")
	req.Header.Add("X-Tag", "b")

	p := params{IDs: []int{99}}
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if len(p.IDs) != 3 || p.IDs[0] != 1 || p.IDs[2] != 3 {
		t.Fatalf("unexpected ids: %v", p.IDs)
	}
	if len(p.Tags) != 2 || p.Tags[0] != "a" || p.Tags[1] != "b" {
		t.Fatalf("unexpected tags: %v", p.Tags)
	}
	if len(p.Extra) != 2 || p.Extra[0] != 7 || p.Extra[1] != 8 {
		t.Fatalf("unexpected extra: %v", p.Extra)
	}
}

func TestRequestIsJSON(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"Application/JSON", true},
		{"application/problem+json", true},
		{"text/plain", false},
		{"application/jsonx", false},
		{"", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if tt.ct != "" {
			req.Header.Set("Content-Type", tt.ct)
		}
		if got := RequestIsJSON(req); got != tt.want {
			t.Errorf("RequestIsJSON(%q) = %v, want %v", tt.ct, got, tt.want)
		}
	}
}
