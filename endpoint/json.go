package endpoint

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// JSONRenderer serializes a value as JSON and writes it to the response.
//
// The value is encoded before anything is written, so an encoding failure
// leaves the response untouched and the handler answers 500.
//
// Content-Type is always "application/json". HTML characters are not
// escaped. Indent, when set, pretty-prints the output.
type JSONRenderer struct {
	Status int
	Value  any
	Indent string
}

func (jr *JSONRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if jr.Indent != "" {
		enc.SetIndent("", jr.Indent)
	}
	if err := enc.Encode(jr.Value); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	br := &BytesRenderer{Status: jr.Status, ContentType: "application/json", Body: buf.Bytes()}
	return br.Render(w, r)
}
