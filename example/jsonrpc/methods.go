package main

import (
	"context"
	"strconv"
	"sync"

	"github.com/mnehpets/onerpc/jsonrpc"
)

type ProbeParams struct {
	Data   []string `json:"data" jsonschema:"example=111,example=222"`
	Amount int      `json:"amount" jsonschema:"exclusiveMinimum=5,example=10"`
}

// probe adds amount to every number in data.
func probe(_ context.Context, p ProbeParams) ([]int, error) {
	out := make([]int, 0, len(p.Data))
	for _, item := range p.Data {
		n, err := strconv.Atoi(item)
		if err != nil {
			return nil, jsonrpc.InvalidParams.New(jsonrpc.ErrorData{Errors: []jsonrpc.Violation{{
				Loc:  []string{"params", "data"},
				Msg:  "not an integer: " + item,
				Type: "value_error.integer",
			}}})
		}
		out = append(out, n+p.Amount)
	}
	return out, nil
}

type Shortfall struct {
	Missing int `json:"missing"`
}

var ErrNotEnough = jsonrpc.MustDeclareError("NotEnough", 6001, "Not enough funds", Shortfall{},
	"The account balance is lower than the amount requested")

type WithdrawParams struct {
	Amount int `json:"amount" jsonschema:"minimum=1"`
}

type Balance struct {
	Balance int `json:"balance"`
}

type bank struct {
	mu      sync.Mutex
	balance int
}

func newBank(balance int) *bank {
	return &bank{balance: balance}
}

func (b *bank) withdraw(_ context.Context, p WithdrawParams) (Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.Amount > b.balance {
		return Balance{}, ErrNotEnough.New(Shortfall{Missing: p.Amount - b.balance})
	}
	b.balance -= p.Amount
	return Balance{Balance: b.balance}, nil
}

type NoParams struct{}

func (b *bank) balanceOf(context.Context, NoParams) (Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Balance{Balance: b.balance}, nil
}

// Math is registered as a service under the "math" namespace.
type Math struct{}

type Operands struct {
	A int `json:"a"`
	B int `json:"b"`
}

func (Math) Add(_ context.Context, p Operands) (int, error) {
	return p.A + p.B, nil
}

type SubParams struct {
	_ struct{} `jsonrpc:"subtract"`
	A int      `json:"a"`
	B int      `json:"b"`
}

func (Math) Sub(_ context.Context, p SubParams) (int, error) {
	return p.A - p.B, nil
}

func (Math) MethodOptions(string) []jsonrpc.MethodOption {
	return []jsonrpc.MethodOption{jsonrpc.WithParamStyle(jsonrpc.ParamsEither)}
}

func registerMethods(reg *jsonrpc.Registry, b *bank) error {
	if err := reg.Register("probe", jsonrpc.Func(probe),
		jsonrpc.WithSummary("Probe"),
		jsonrpc.WithDescription("Adds amount to each number in data.")); err != nil {
		return err
	}
	if err := reg.Register("probe_by_position_params", jsonrpc.Func(probe),
		jsonrpc.WithParamStyle(jsonrpc.ParamsByPosition)); err != nil {
		return err
	}
	if err := reg.Register("withdraw", jsonrpc.Func(b.withdraw), jsonrpc.WithErrors(ErrNotEnough)); err != nil {
		return err
	}
	if err := reg.Register("balance", jsonrpc.Func(b.balanceOf)); err != nil {
		return err
	}
	return reg.RegisterService("math", Math{})
}
