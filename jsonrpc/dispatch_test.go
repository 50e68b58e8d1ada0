package jsonrpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observedDispatcher(c *counter, opts ...Option) (*Dispatcher, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	opts = append([]Option{WithLogger(zap.New(core))}, opts...)
	return newProbeDispatcher(c, opts...), logs
}

func process(t *testing.T, d *Dispatcher, body string) string {
	t.Helper()
	out, err := d.Process(context.Background(), []byte(body))
	require.NoError(t, err)
	return string(out)
}

func TestNotificationRunsWithoutResponse(t *testing.T) {
	c := &counter{}
	d, logs := observedDispatcher(c)

	assert.Empty(t, process(t, d, `{"jsonrpc":"2.0","method":"touch"}`))
	assert.Empty(t, process(t, d, `{"jsonrpc":"2.0","method":"touch","id":null}`))
	assert.EqualValues(t, 2, c.calls.Load())

	assert.Empty(t, process(t, d, `{"jsonrpc":"2.0","method":"touch_and_fail"}`))
	assert.EqualValues(t, 3, c.calls.Load())
	assert.Equal(t, 1, logs.FilterMessage("jsonrpc: internal error").Len())
	assert.Equal(t, 1, logs.FilterMessage("jsonrpc: notification error dropped").Len())

	// Errors are swallowed for notifications, even before the handler runs.
	assert.Empty(t, process(t, d, `{"jsonrpc":"2.0","method":"nope"}`))
	assert.Empty(t, process(t, d, `{"jsonrpc":"2.0","method":"greet","params":{}}`))
}

func TestDeclaredErrorCarriesData(t *testing.T) {
	d := newProbeDispatcher(nil)

	got := process(t, d, `{"jsonrpc":"2.0","method":"withdraw","params":{"amount":150},"id":7}`)
	assert.Equal(t, `{"jsonrpc":"2.0","error":{"code":6001,"message":"Not enough funds","data":{"missing":50}},"id":7}`, got)

	got = process(t, d, `{"jsonrpc":"2.0","method":"withdraw","params":[40],"id":"a"}`)
	assert.Equal(t, `{"jsonrpc":"2.0","result":60,"id":"a"}`, got)
}

func TestUndeclaredErrorBecomesInternal(t *testing.T) {
	d, logs := observedDispatcher(nil)

	got := process(t, d, `{"jsonrpc":"2.0","method":"leak","id":1}`)
	assert.Equal(t, `{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal error"},"id":1}`, got)

	entries := logs.FilterMessage("jsonrpc: internal error").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "leak", fields["method"])
	assert.Equal(t, "1", fields["id"])
}

func TestPanicIsLoggedWithStack(t *testing.T) {
	d, logs := observedDispatcher(nil)

	got := process(t, d, `{"jsonrpc":"2.0","method":"boom","id":2}`)
	assert.Equal(t, `{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal error"},"id":2}`, got)
	assert.NotContains(t, got, "something went wrong")

	entries := logs.FilterMessage("jsonrpc: internal error").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Contains(t, fields["error"], "something went wrong")
	assert.NotEmpty(t, fields["stack"])
}

func TestLogFieldsAreAttached(t *testing.T) {
	d, logs := observedDispatcher(nil, WithLogFields(func(context.Context) []zap.Field {
		return []zap.Field{zap.String("request_id", "req-1")}
	}))

	process(t, d, `{"jsonrpc":"2.0","method":"leak","id":1}`)
	entries := logs.FilterMessage("jsonrpc: internal error").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
}

func TestInvalidParamsData(t *testing.T) {
	d := newProbeDispatcher(nil)

	out := process(t, d, `{"jsonrpc":"2.0","method":"greet","params":{"loud":"yes"},"id":3}`)
	var resp struct {
		Error struct {
			Code int       `json:"code"`
			Data ErrorData `json:"data"`
		} `json:"error"`
		ID int `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
	assert.Equal(t, 3, resp.ID)
	require.Len(t, resp.Error.Data.Errors, 2)
	assert.Equal(t, []string{"params", "name"}, resp.Error.Data.Errors[0].Loc)
	assert.Equal(t, "required", resp.Error.Data.Errors[0].Type)
	assert.Equal(t, []string{"params", "loud"}, resp.Error.Data.Errors[1].Loc)
	assert.Equal(t, "invalid_type", resp.Error.Data.Errors[1].Type)
}

func TestNonIntegerNumericIDs(t *testing.T) {
	d := newProbeDispatcher(nil)

	for _, id := range []string{`1.0`, `1e2`, `-0.5`} {
		t.Run(id, func(t *testing.T) {
			out := process(t, d, `{"jsonrpc":"2.0","method":"greet","params":["ada"],"id":`+id+`}`)
			var resp struct {
				ID    json.RawMessage `json:"id"`
				Error *struct {
					Code int `json:"code"`
					Data struct {
						Errors []Violation `json:"errors"`
					} `json:"data"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
			assert.Equal(t, "null", string(resp.ID))
			require.Len(t, resp.Error.Data.Errors, 1)
			assert.Equal(t, []string{"id"}, resp.Error.Data.Errors[0].Loc)
		})
	}

	out := process(t, d, `{"jsonrpc":"2.0","method":"greet","params":["ada"],"id":-12}`)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":"hello ada","id":-12}`, out)
}

func TestDispatchDirect(t *testing.T) {
	d := newProbeDispatcher(nil)
	ctx := context.Background()

	resp, err := d.Dispatch(ctx, &Request{JSONRPC: "1.0", Method: "greet", ID: json.RawMessage(`5`)})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
	assert.Equal(t, json.RawMessage(`5`), resp.ID)

	resp, err = d.Dispatch(ctx, &Request{Method: "nope", ID: json.RawMessage(`6`)})
	require.NoError(t, err)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)

	resp, err = d.Dispatch(ctx, &Request{Method: "greet", Params: json.RawMessage(`["ada"]`), ID: json.RawMessage(`"x"`)})
	require.NoError(t, err)
	assert.Nil(t, resp.Error)
	assert.JSONEq(t, `"hello ada"`, string(resp.Result))

	resp, err = d.Dispatch(ctx, &Request{Method: "greet", Params: json.RawMessage(`["ada"]`)})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestDispatchAbandoned(t *testing.T) {
	c := &counter{}
	d := newProbeDispatcher(c)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dispatch(ctx, &Request{Method: "touch", ID: json.RawMessage(`1`)})
	assert.ErrorIs(t, err, ErrAbandoned)
	_, err = d.Process(ctx, []byte(`{"jsonrpc":"2.0","method":"touch","id":1}`))
	assert.ErrorIs(t, err, ErrAbandoned)
	assert.Zero(t, c.calls.Load())
}

func TestDispatchSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	d := newProbeDispatcher(nil, WithTracerProvider(tp))

	process(t, d, `{"jsonrpc":"2.0","method":"greet","params":["ada"],"id":1}`)
	process(t, d, `{"jsonrpc":"2.0","method":"withdraw","params":{"amount":500},"id":2}`)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	for _, s := range spans {
		assert.Equal(t, "jsonrpc.dispatch", s.Name())
	}

	attrs := func(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
		m := map[attribute.Key]attribute.Value{}
		for _, kv := range s.Attributes() {
			m[kv.Key] = kv.Value
		}
		return m
	}

	ok := attrs(spans[0])
	assert.Equal(t, "jsonrpc", ok["rpc.system"].AsString())
	assert.Equal(t, "greet", ok["rpc.method"].AsString())
	assert.NotContains(t, ok, attribute.Key("rpc.jsonrpc.error_code"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	failed := attrs(spans[1])
	assert.Equal(t, "withdraw", failed["rpc.method"].AsString())
	assert.EqualValues(t, 6001, failed["rpc.jsonrpc.error_code"].AsInt64())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
