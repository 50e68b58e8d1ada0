package jsonrpc

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
)

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Reserved range for pre-defined errors. Custom kinds may not use it.
const (
	reservedCodeMin = -32768
	reservedCodeMax = -32000
)

var (
	ErrDuplicateMethod = errors.New("jsonrpc: duplicate method name")
	ErrRegistrySealed  = errors.New("jsonrpc: registry is sealed")
	ErrInvalidHandler  = errors.New("jsonrpc: invalid handler")
	ErrInvalidKind     = errors.New("jsonrpc: invalid error kind")

	// ErrAbandoned is returned when the surrounding request was cancelled
	// before a response could be assembled. Nothing must be written.
	ErrAbandoned = errors.New("jsonrpc: request abandoned")
)

// ErrorKind describes one JSON-RPC error: a fixed code, a fixed message and an
// optional structured data type.
type ErrorKind struct {
	// Name is the schema name of the kind, e.g. "InvalidParams".
	Name    string
	Code    int
	Message string
	// Description is the long form used by documentation.
	Description string
	// DataType is the Go type of the error's data member, nil if the kind
	// never carries data.
	DataType reflect.Type
}

// New returns an Error of this kind carrying data. data is dropped when the
// kind declares no data type.
func (k *ErrorKind) New(data any) *Error {
	e := &Error{Code: k.Code, Message: k.Message, kind: k}
	if k.DataType != nil && data != nil {
		e.Data = data
	}
	return e
}

func (k *ErrorKind) String() string {
	return fmt.Sprintf("[%d] %s", k.Code, k.Message)
}

var (
	ParseError = &ErrorKind{
		Name:        "ParseError",
		Code:        CodeParseError,
		Message:     "Parse error",
		Description: "Invalid JSON was received by the server",
	}
	InvalidRequest = &ErrorKind{
		Name:        "InvalidRequest",
		Code:        CodeInvalidRequest,
		Message:     "Invalid Request",
		Description: "The JSON sent is not a valid Request object",
		DataType:    reflect.TypeFor[ErrorData](),
	}
	MethodNotFound = &ErrorKind{
		Name:        "MethodNotFound",
		Code:        CodeMethodNotFound,
		Message:     "Method not found",
		Description: "The method does not exist / is not available",
	}
	InvalidParams = &ErrorKind{
		Name:        "InvalidParams",
		Code:        CodeInvalidParams,
		Message:     "Invalid params",
		Description: "Invalid method parameter(s)",
		DataType:    reflect.TypeFor[ErrorData](),
	}
	InternalError = &ErrorKind{
		Name:        "InternalError",
		Code:        CodeInternalError,
		Message:     "Internal error",
		Description: "Internal JSON-RPC error",
	}
)

var kindNameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// DeclareError declares a method-specific error kind. dataSample is a value
// of the data type (nil for no data); only its type is retained.
//
// Declared kinds become reachable for a method once listed with WithErrors.
func DeclareError(name string, code int, message string, dataSample any, description ...string) (*ErrorKind, error) {
	if !kindNameRE.MatchString(name) {
		return nil, fmt.Errorf("%w: name %q", ErrInvalidKind, name)
	}
	if code >= reservedCodeMin && code <= reservedCodeMax {
		return nil, fmt.Errorf("%w: code %d is reserved", ErrInvalidKind, code)
	}
	if message == "" {
		return nil, fmt.Errorf("%w: %s has no message", ErrInvalidKind, name)
	}
	k := &ErrorKind{Name: name, Code: code, Message: message}
	if len(description) > 0 {
		k.Description = description[0]
	}
	if dataSample != nil {
		k.DataType = reflect.TypeOf(dataSample)
	}
	return k, nil
}

// MustDeclareError is like DeclareError but panics on error. Intended for
// package-level vars.
func MustDeclareError(name string, code int, message string, dataSample any, description ...string) *ErrorKind {
	k, err := DeclareError(name, code, message, dataSample, description...)
	if err != nil {
		panic(err)
	}
	return k
}

// Error is the JSON-RPC error object. Handlers signal a declared error by
// returning one built with ErrorKind.New.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`

	kind *ErrorKind
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc: %d %s", e.Code, e.Message)
}

// Kind returns the kind the error was built from, or nil.
func (e *Error) Kind() *ErrorKind {
	return e.kind
}

// Violation is one field-level failure reported by the model validator.
type Violation struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// ErrorData is the data member of InvalidParams and InvalidRequest errors.
type ErrorData struct {
	Errors []Violation `json:"errors"`
}

func invalidParams(vs []Violation) *Error {
	return InvalidParams.New(ErrorData{Errors: vs})
}

func invalidRequest(vs []Violation) *Error {
	if len(vs) == 0 {
		return InvalidRequest.New(nil)
	}
	return InvalidRequest.New(ErrorData{Errors: vs})
}

// classify maps the error returned by a handler to the error object sent to
// the client. The second return is false when the error was not one the
// method may surface; the caller should log it.
func classify(m *Method, err error) (*Error, bool) {
	var rpcErr *Error
	if !errors.As(err, &rpcErr) || rpcErr == nil {
		return InternalError.New(nil), false
	}
	switch k := rpcErr.kind; {
	case k == InvalidParams:
		return rpcErr, true
	case k == InternalError:
		return InternalError.New(nil), true
	case k != nil && m.declares(k):
		return rpcErr, true
	}
	return InternalError.New(nil), false
}
