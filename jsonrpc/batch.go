package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Process handles one payload: a single request object or a batch.
//
// It returns the encoded response, or nil when nothing should be sent (a
// notification, or a batch of notifications). ErrAbandoned is returned if
// ctx ends first; no partial output is produced in that case.
func (d *Dispatcher) Process(ctx context.Context, body []byte) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, ErrAbandoned
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || !json.Valid(body) {
		return encode(errorResponse(ParseError.New(nil), nil))
	}

	if body[0] != '[' {
		resp, err := d.dispatchRaw(ctx, body)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, nil
		}
		return encode(resp)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return encode(errorResponse(ParseError.New(nil), nil))
	}
	if len(items) == 0 {
		return encode(errorResponse(invalidRequest([]Violation{{
			Loc:  []string{},
			Msg:  "batch must not be empty",
			Type: "empty_batch",
		}}), nil))
	}
	if d.maxBatch > 0 && len(items) > d.maxBatch {
		return encode(errorResponse(invalidRequest([]Violation{{
			Loc:  []string{},
			Msg:  fmt.Sprintf("batch of %d requests exceeds the limit of %d", len(items), d.maxBatch),
			Type: "batch_too_large",
		}}), nil))
	}

	responses := make([]*Response, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, item := range items {
		g.Go(func() error {
			resp, err := d.dispatchRaw(gctx, item)
			if err != nil {
				return err
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ErrAbandoned
	}

	out := make([]*Response, 0, len(responses))
	for _, resp := range responses {
		if resp != nil {
			out = append(out, resp)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return encode(out)
}

// dispatchRaw validates one item as a request envelope and dispatches it.
// Malformed items always get an InvalidRequest envelope, id or not.
func (d *Dispatcher) dispatchRaw(ctx context.Context, raw json.RawMessage) (*Response, error) {
	req, rpcErr, id := decodeRequest(d.validator, d.requestSchema, raw)
	if rpcErr != nil {
		if ctx.Err() != nil {
			return nil, ErrAbandoned
		}
		return errorResponse(rpcErr, id), nil
	}
	return d.Dispatch(ctx, req)
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("jsonrpc: encode response: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
