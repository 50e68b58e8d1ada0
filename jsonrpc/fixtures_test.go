package jsonrpc

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
)

type WholeParams struct {
	Data   []string `json:"data" jsonschema:"example=111,example=222"`
	Amount int      `json:"amount" jsonschema:"exclusiveMinimum=5,example=10"`
}

func probe(_ context.Context, p WholeParams) ([]int, error) {
	out := make([]int, 0, len(p.Data))
	for _, item := range p.Data {
		n, err := strconv.Atoi(item)
		if err != nil {
			return nil, err
		}
		out = append(out, n+p.Amount)
	}
	return out, nil
}

type positionParams struct {
	Data   []string `json:"data"`
	Amount int      `json:"amount"`
}

func probeByPosition(ctx context.Context, p positionParams) ([]int, error) {
	return probe(ctx, WholeParams(p))
}

type greetParams struct {
	Name     string `json:"name"`
	Greeting string `json:"greeting" jsonschema:"default=hello"`
	Loud     bool   `json:"loud,omitempty"`
}

func greet(_ context.Context, p greetParams) (string, error) {
	s := p.Greeting + " " + p.Name
	if p.Loud {
		s += "!"
	}
	return s, nil
}

type Shortfall struct {
	Missing int `json:"missing"`
}

var notEnough = MustDeclareError("NotEnough", 6001, "Not enough funds", Shortfall{}, "The account balance is too low")

var undeclared = MustDeclareError("Undeclared", 6002, "Never listed", nil)

type withdrawParams struct {
	Amount int `json:"amount"`
}

func withdraw(_ context.Context, p withdrawParams) (int, error) {
	if p.Amount > 100 {
		return 0, notEnough.New(Shortfall{Missing: p.Amount - 100})
	}
	return 100 - p.Amount, nil
}

type emptyParams struct{}

// counter counts calls and fails on demand.
type counter struct {
	calls atomic.Int64
}

func (c *counter) touch(_ context.Context, _ emptyParams) (int64, error) {
	return c.calls.Add(1), nil
}

func (c *counter) touchAndFail(_ context.Context, _ emptyParams) (any, error) {
	c.calls.Add(1)
	return nil, errors.New("database is on fire")
}

// newProbeRegistry registers the methods used across tests.
func newProbeRegistry(c *counter) *Registry {
	reg := NewRegistry()
	reg.MustRegister("probe", Func(probe))
	reg.MustRegister("probe_by_position_params", Func(probeByPosition), WithParamStyle(ParamsByPosition))
	reg.MustRegister("greet", Func(greet))
	reg.MustRegister("withdraw", Func(withdraw), WithErrors(notEnough))
	reg.MustRegister("leak", Func(func(context.Context, emptyParams) (any, error) {
		return nil, undeclared.New(nil)
	}))
	reg.MustRegister("boom", Func(func(context.Context, emptyParams) (any, error) {
		panic("something went wrong")
	}))
	if c != nil {
		reg.MustRegister("touch", Func(c.touch))
		reg.MustRegister("touch_and_fail", Func(c.touchAndFail))
	}
	return reg
}

func newProbeDispatcher(c *counter, opts ...Option) *Dispatcher {
	d, err := NewDispatcher(newProbeRegistry(c), opts...)
	if err != nil {
		panic(err)
	}
	return d
}
