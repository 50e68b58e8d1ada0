package endpoint

import (
	"net/http"
	"strconv"
)

// StringRenderer writes a string as the response body with an optional
// status code and content type.
//
// When ContentType is empty, StringRenderer defaults to
// "text/plain; charset=utf-8".
type StringRenderer struct {
	Status      int
	Body        string
	ContentType string
}

// setContentType sets Content-Type unless an outer renderer or processor
// already did. An empty contentType means "text/plain; charset=utf-8".
func setContentType(w http.ResponseWriter, contentType string) {
	if w.Header().Get("Content-Type") == "" {
		if contentType == "" {
			contentType = "text/plain; charset=utf-8"
		}
		w.Header().Set("Content-Type", contentType)
	}
}

func statusOr(status, def int) int {
	if status == 0 {
		return def
	}
	return status
}

// Render implements Renderer for StringRenderer.
func (tr *StringRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	setContentType(w, tr.ContentType)
	w.WriteHeader(statusOr(tr.Status, http.StatusOK))
	if tr.Body == "" {
		return nil
	}
	_, err := w.Write([]byte(tr.Body))
	return err
}

// HTMLRenderer is a StringRenderer that forces an HTML content type.
type HTMLRenderer struct {
	StringRenderer
}

// Render implements Renderer for HTMLRenderer.
func (hr *HTMLRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	hr.StringRenderer.ContentType = "text/html; charset=utf-8"
	return hr.StringRenderer.Render(w, r)
}

// BytesRenderer writes an already encoded body.
//
// Status defaults to 200 and ContentType to "application/octet-stream".
// Content-Length is always set.
type BytesRenderer struct {
	Status      int
	ContentType string
	Body        []byte
}

func (br *BytesRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	ct := br.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	setContentType(w, ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(br.Body)))
	w.WriteHeader(statusOr(br.Status, http.StatusOK))
	if len(br.Body) == 0 {
		return nil
	}
	_, err := w.Write(br.Body)
	return err
}

// NoContentRenderer writes a response with no body and a specific status code.
//
// If Status is 0, it defaults to http.StatusNoContent. Any other status is
// sent with "Content-Length: 0".
type NoContentRenderer struct {
	Status int
}

func (ncr *NoContentRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	status := statusOr(ncr.Status, http.StatusNoContent)
	if status != http.StatusNoContent && status >= 200 {
		w.Header().Set("Content-Length", "0")
	}
	w.WriteHeader(status)
	return nil
}
