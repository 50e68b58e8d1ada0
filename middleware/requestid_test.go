package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func captureRequestID(got *string) func(http.ResponseWriter, *http.Request) error {
	return func(_ http.ResponseWriter, r *http.Request) error {
		*got = RequestID(r.Context())
		return nil
	}
}

func TestRequestIDProcessor_GeneratesUUID(t *testing.T) {
	p := NewRequestIDProcessor()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/rpc", nil)

	var seen string
	require.NoError(t, p.Process(w, r, captureRequestID(&seen)))

	_, err := uuid.Parse(seen)
	require.NoError(t, err, "generated id %q is not a UUID", seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
}

func TestRequestIDProcessor_ReusesClientID(t *testing.T) {
	p := NewRequestIDProcessor()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	r.Header.Set(RequestIDHeader, "abc-123")

	var seen string
	require.NoError(t, p.Process(w, r, captureRequestID(&seen)))
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestRequestIDProcessor_RejectsUnsafeClientID(t *testing.T) {
	for _, id := range []string{"has space", strings.Repeat("x", maxRequestIDLength+1), "tab\there"} {
		p := &RequestIDProcessor{Trust: true, NewID: func() string { return "fresh" }}
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/rpc", nil)
		r.Header.Set(RequestIDHeader, id)

		var seen string
		require.NoError(t, p.Process(w, r, captureRequestID(&seen)))
		assert.Equal(t, "fresh", seen, "id %q", id)
	}
}

func TestRequestIDProcessor_Untrusted(t *testing.T) {
	p := &RequestIDProcessor{NewID: func() string { return "server-id" }}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	r.Header.Set(RequestIDHeader, "client-id")

	var seen string
	require.NoError(t, p.Process(w, r, captureRequestID(&seen)))
	assert.Equal(t, "server-id", seen)
}

func TestRequestIDFields(t *testing.T) {
	assert.Nil(t, RequestIDFields(context.Background()))

	fields := RequestIDFields(WithRequestID(context.Background(), "r1"))
	require.Len(t, fields, 1)
	assert.Equal(t, zap.String("request_id", "r1"), fields[0])
}
