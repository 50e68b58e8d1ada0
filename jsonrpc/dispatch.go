package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/mnehpets/onerpc/jsonrpc"

// Dispatcher runs requests against a sealed Registry.
type Dispatcher struct {
	reg         *Registry
	validator   ModelValidator
	logger      *zap.Logger
	tracer      trace.Tracer
	concurrency int
	maxBatch    int
	logFields   func(context.Context) []zap.Field

	requestSchema *Schema
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger for internal failures. Defaults to a no-op
// logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithValidator replaces the default SchemaValidator.
func WithValidator(v ModelValidator) Option {
	return func(d *Dispatcher) {
		if v != nil {
			d.validator = v
		}
	}
}

// WithTracerProvider sets the provider of the dispatch spans. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) {
		if tp != nil {
			d.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithBatchConcurrency sets how many items of a batch run at once. The
// default of 1 runs items sequentially.
func WithBatchConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithMaxBatchSize rejects batches with more than n items. Zero means no
// limit.
func WithMaxBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.maxBatch = n
		}
	}
}

// WithLogFields adds request-scoped fields (e.g. a request id) to every log
// entry written for a request.
func WithLogFields(fn func(context.Context) []zap.Field) Option {
	return func(d *Dispatcher) {
		d.logFields = fn
	}
}

// preparer is implemented by validators that can compile schemas ahead of
// time.
type preparer interface {
	Prepare(*Schema) error
}

// NewDispatcher seals reg and returns a Dispatcher over it. Schemas are
// compiled up front when the validator supports it, so a broken parameter
// model is reported here rather than on first call.
func NewDispatcher(reg *Registry, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		reg:           reg,
		validator:     NewSchemaValidator(),
		logger:        zap.NewNop(),
		tracer:        otel.GetTracerProvider().Tracer(tracerName),
		concurrency:   1,
		requestSchema: requestValidationSchema(),
	}
	for _, opt := range opts {
		opt(d)
	}
	reg.seal()

	if p, ok := d.validator.(preparer); ok {
		if err := p.Prepare(d.requestSchema); err != nil {
			return nil, err
		}
		for _, m := range reg.Methods() {
			if err := p.Prepare(m.params.schema); err != nil {
				return nil, err
			}
		}
	}
	return d, nil
}

// Registry returns the registry the dispatcher serves.
func (d *Dispatcher) Registry() *Registry {
	return d.reg
}

// Dispatch runs one decoded request. It returns nil for notifications and
// ErrAbandoned if ctx ends before the response is assembled.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	if ctx.Err() != nil {
		return nil, ErrAbandoned
	}

	ctx, span := d.tracer.Start(ctx, "jsonrpc.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", req.Method),
		))
	defer span.End()

	result, rpcErr := d.execute(ctx, req)

	if ctx.Err() != nil {
		span.SetStatus(codes.Error, ErrAbandoned.Error())
		d.logger.Debug("jsonrpc: request abandoned", d.fields(ctx, req, zap.Error(ctx.Err()))...)
		return nil, ErrAbandoned
	}

	if rpcErr != nil {
		span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", rpcErr.Code))
		span.SetStatus(codes.Error, rpcErr.Message)
	}

	if req.IsNotification() {
		if rpcErr != nil {
			d.logger.Debug("jsonrpc: notification error dropped", d.fields(ctx, req, zap.Int("code", rpcErr.Code))...)
		}
		return nil, nil
	}

	if rpcErr != nil {
		return errorResponse(rpcErr, req.ID), nil
	}
	return &Response{JSONRPC: Version, Result: result, ID: req.ID}, nil
}

// execute drives one request from RECEIVED to EXECUTED.
func (d *Dispatcher) execute(ctx context.Context, req *Request) (json.RawMessage, *Error) {
	if req.JSONRPC != "" && req.JSONRPC != Version {
		return nil, invalidRequest([]Violation{{Loc: []string{"jsonrpc"}, Msg: "must be " + Version, Type: "const"}})
	}
	if req.Method == "" {
		return nil, invalidRequest([]Violation{{Loc: []string{"method"}, Msg: "method is required", Type: "required"}})
	}

	m, ok := d.reg.Resolve(req.Method)
	if !ok {
		return nil, MethodNotFound.New(nil)
	}

	params, vs := Bind(d.validator, m.params, req.Params)
	if vs != nil {
		return nil, invalidParams(vs)
	}

	out, err := m.call(ctx, params)
	if err != nil {
		rpcErr, known := classify(m, err)
		if !known {
			d.logInternal(ctx, req, err)
		}
		if rpcErr.Data != nil {
			if _, merr := json.Marshal(rpcErr.Data); merr != nil {
				d.logInternal(ctx, req, merr)
				return nil, InternalError.New(nil)
			}
		}
		return nil, rpcErr
	}

	raw, err := json.Marshal(out)
	if err != nil {
		d.logInternal(ctx, req, err)
		return nil, InternalError.New(nil)
	}
	return raw, nil
}

func (d *Dispatcher) logInternal(ctx context.Context, req *Request, err error) {
	fields := []zap.Field{zap.Error(err)}
	var pe *panicError
	if errors.As(err, &pe) {
		fields = append(fields, zap.ByteString("stack", pe.stack))
	}
	d.logger.Error("jsonrpc: internal error", d.fields(ctx, req, fields...)...)
}

func (d *Dispatcher) fields(ctx context.Context, req *Request, extra ...zap.Field) []zap.Field {
	fields := []zap.Field{zap.String("method", req.Method)}
	if !req.IsNotification() {
		fields = append(fields, zap.ByteString("id", req.ID))
	}
	if d.logFields != nil {
		fields = append(fields, d.logFields(ctx)...)
	}
	return append(fields, extra...)
}
