package jsonrpc

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"regexp"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Handler is a method implementation adapted for the registry. Build one
// with Func.
type Handler struct {
	fn         func(ctx context.Context, params reflect.Value) (any, error)
	paramType  reflect.Type
	resultType reflect.Type
}

// Func adapts a typed function into a Handler. P must be a struct; its
// exported json fields are the method's parameters in declaration order.
//
// To signal a declared error, return one built with ErrorKind.New.
func Func[P, R any](fn func(context.Context, P) (R, error)) Handler {
	if fn == nil {
		return Handler{}
	}
	return Handler{
		fn: func(ctx context.Context, params reflect.Value) (any, error) {
			r, err := fn(ctx, params.Interface().(P))
			return r, err
		},
		paramType:  reflect.TypeFor[P](),
		resultType: reflect.TypeFor[R](),
	}
}

// ParamStyle selects how a method's params are documented. Binding always
// accepts both objects and arrays.
type ParamStyle int

const (
	// ParamsByName documents params as an object (the default).
	ParamsByName ParamStyle = iota
	// ParamsByPosition documents params as a fixed-length array.
	ParamsByPosition
	// ParamsEither documents both forms.
	ParamsEither
)

func (s ParamStyle) String() string {
	switch s {
	case ParamsByName:
		return "by-name"
	case ParamsByPosition:
		return "by-position"
	case ParamsEither:
		return "either"
	}
	return fmt.Sprintf("ParamStyle(%d)", int(s))
}

// Method is a registered method descriptor. It is immutable once registered.
type Method struct {
	name        string
	handler     Handler
	params      *Shape
	errors      []*ErrorKind
	style       ParamStyle
	summary     string
	description string
	hidden      bool

	schemas *MethodSchemas
}

func (m *Method) Name() string { return m.name }
func (m *Method) Params() *Shape { return m.params }
func (m *Method) ResultType() reflect.Type { return m.handler.resultType }
func (m *Method) Style() ParamStyle { return m.style }
func (m *Method) Summary() string { return m.summary }
func (m *Method) Description() string { return m.description }
func (m *Method) Hidden() bool { return m.hidden }
func (m *Method) Schemas() *MethodSchemas { return m.schemas }

// Errors returns the custom error kinds declared by the method.
func (m *Method) Errors() []*ErrorKind {
	return append([]*ErrorKind(nil), m.errors...)
}

func (m *Method) declares(k *ErrorKind) bool {
	for _, d := range m.errors {
		if d == k {
			return true
		}
	}
	return false
}

// panicError carries a value recovered from a handler.
type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("jsonrpc: handler panic: %v", p.value)
}

func (m *Method) call(ctx context.Context, params reflect.Value) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return m.handler.fn(ctx, params)
}

// MethodOption configures a method at registration.
type MethodOption func(*Method)

// WithErrors declares the custom error kinds the method may return. Any
// other custom kind is reported to the client as InternalError.
func WithErrors(kinds ...*ErrorKind) MethodOption {
	return func(m *Method) {
		m.errors = append(m.errors, kinds...)
	}
}

// WithParamStyle sets how params are documented.
func WithParamStyle(s ParamStyle) MethodOption {
	return func(m *Method) {
		m.style = s
	}
}

func WithSummary(s string) MethodOption {
	return func(m *Method) {
		m.summary = s
	}
}

func WithDescription(s string) MethodOption {
	return func(m *Method) {
		m.description = s
	}
}

// Hidden keeps the method callable but out of the synthesized schemas.
func Hidden() MethodOption {
	return func(m *Method) {
		m.hidden = true
	}
}

var methodNameRE = regexp.MustCompile(`^[^\s]+$`)

// Registry maps method names to descriptors.
//
// Registration happens at startup. Building a Dispatcher seals the registry;
// after that it is read without locking.
type Registry struct {
	mu      sync.Mutex
	sealed  atomic.Bool
	methods map[string]*Method
	order   []*Method
	kinds   map[string]*ErrorKind
	docs    *reflector
}

func NewRegistry() *Registry {
	r := &Registry{
		methods: map[string]*Method{},
		kinds:   map[string]*ErrorKind{},
		docs:    newReflector(false),
	}
	r.mustDefineGeneric()
	return r
}

// Register adds a method. It fails if name is taken, the handler is invalid,
// a declared error kind is invalid or clashes by name with another kind, or
// the registry is sealed.
func (r *Registry) Register(name string, h Handler, opts ...MethodOption) error {
	if r.sealed.Load() {
		return fmt.Errorf("%w: cannot register %q", ErrRegistrySealed, name)
	}
	if !methodNameRE.MatchString(name) {
		return fmt.Errorf("%w: bad method name %q", ErrInvalidHandler, name)
	}
	if h.fn == nil {
		return fmt.Errorf("%w: %q has no function", ErrInvalidHandler, name)
	}
	shape, err := NewShape(h.paramType)
	if err != nil {
		return fmt.Errorf("method %q: %w", name, err)
	}

	m := &Method{name: name, handler: h, params: shape}
	for _, opt := range opts {
		opt(m)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return fmt.Errorf("%w: cannot register %q", ErrRegistrySealed, name)
	}
	if _, exists := r.methods[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, name)
	}
	if err := r.checkKinds(m); err != nil {
		return fmt.Errorf("method %q: %w", name, err)
	}

	saved, kinds := r.docs.snapshot(), maps.Clone(r.kinds)
	schemas, err := r.instantiate(m)
	if err != nil {
		r.docs.restore(saved)
		r.kinds = kinds
		return fmt.Errorf("method %q: %w", name, err)
	}
	m.schemas = schemas

	r.methods[name] = m
	r.order = append(r.order, m)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, h Handler, opts ...MethodOption) {
	if err := r.Register(name, h, opts...); err != nil {
		panic(err)
	}
}

func (r *Registry) checkKinds(m *Method) error {
	seen := map[string]*ErrorKind{}
	for _, k := range m.errors {
		if k == nil {
			return fmt.Errorf("%w: nil kind", ErrInvalidKind)
		}
		if other, ok := seen[k.Name]; ok && other != k {
			return fmt.Errorf("%w: two kinds named %s", ErrInvalidKind, k.Name)
		}
		seen[k.Name] = k
		if k.Code >= reservedCodeMin && k.Code <= reservedCodeMax {
			return fmt.Errorf("%w: %s uses reserved code %d", ErrInvalidKind, k.Name, k.Code)
		}
		if other, ok := r.kinds[k.Name]; ok && other != k {
			return fmt.Errorf("%w: two kinds named %s", ErrInvalidKind, k.Name)
		}
	}
	return nil
}

// Resolve returns the method called name.
func (r *Registry) Resolve(name string) (*Method, bool) {
	if !r.sealed.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	m, ok := r.methods[name]
	return m, ok
}

// Methods returns all methods in registration order.
func (r *Registry) Methods() []*Method {
	if !r.sealed.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	return append([]*Method(nil), r.order...)
}

// Sealed reports whether registration is closed.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

func (r *Registry) seal() {
	r.mu.Lock()
	r.sealed.Store(true)
	r.mu.Unlock()
}

// MethodOptioner may be implemented by a service passed to RegisterService
// to supply options per method.
type MethodOptioner interface {
	MethodOptions(name string) []MethodOption
}

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// RegisterService registers every exported method of receiver with the
// signature
//
//	func(ctx context.Context, params P) (R, error)
//
// where P is a struct. Methods are named namespace + "." + the Go method
// name, or just the Go name when namespace is empty. A `_ struct{}` field
// with a `jsonrpc:"name"` tag in P overrides the Go name. Methods with other
// signatures are skipped.
func (r *Registry) RegisterService(namespace string, receiver any) error {
	val := reflect.ValueOf(receiver)
	typ := val.Type()
	optioner, _ := receiver.(MethodOptioner)

	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !method.IsExported() {
			continue
		}
		h, methodName, ok := parseMethod(val, method)
		if !ok {
			continue
		}

		name := methodName
		if namespace != "" {
			name = namespace + "." + methodName
		}
		var opts []MethodOption
		if optioner != nil {
			opts = optioner.MethodOptions(name)
		}
		if err := r.Register(name, h, opts...); err != nil {
			return err
		}
	}
	return nil
}

// parseMethod builds a Handler from a method value via reflection.
func parseMethod(receiver reflect.Value, method reflect.Method) (Handler, string, bool) {
	ft := method.Func.Type()
	if ft.NumIn() != 3 || ft.In(1) != contextType {
		return Handler{}, "", false
	}
	if ft.NumOut() != 2 || ft.Out(1) != errorType {
		return Handler{}, "", false
	}
	paramType := ft.In(2)
	if paramType.Kind() != reflect.Struct {
		return Handler{}, "", false
	}

	name := method.Name
	if rename := methodRename(paramType); rename != "" {
		name = rename
	}

	fn := method.Func
	h := Handler{
		fn: func(ctx context.Context, params reflect.Value) (any, error) {
			out := fn.Call([]reflect.Value{receiver, reflect.ValueOf(&ctx).Elem(), params})
			var err error
			if !out[1].IsNil() {
				err = out[1].Interface().(error)
			}
			return out[0].Interface(), err
		},
		paramType:  paramType,
		resultType: ft.Out(0),
	}
	return h, name, true
}
