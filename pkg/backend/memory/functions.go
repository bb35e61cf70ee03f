package memory

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/firepwn/firepwn/pkg/backend"
)

// Func is a callable function handler. A returned *backend.Error is passed
// through; any other error is reported as internal.
type Func func(ctx context.Context, data any) (any, error)

// HTTPFunc is a plain HTTP function handler.
type HTTPFunc func(method string, query url.Values, body []byte) (status int, respBody []byte)

// RegisterFunction makes name callable.
func (b *Backend) RegisterFunction(name string, fn Func) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.functions[name] = fn
}

// RegisterHTTPFunction makes name reachable as a plain HTTP endpoint.
func (b *Backend) RegisterHTTPFunction(name string, fn HTTPFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.httpFunctions[name] = fn
}

type functions struct {
	b    *Backend
	opts backend.Options
}

func (f *functions) Call(ctx context.Context, name string, data any) (any, error) {
	f.b.mu.Lock()
	if err := f.b.enter("Functions.Call"); err != nil {
		f.b.mu.Unlock()
		return nil, err
	}
	fn, ok := f.b.functions[name]
	f.b.mu.Unlock()

	if !ok {
		return nil, backend.NewError(backend.CodeNotFound, "not-found")
	}

	res, err := fn(ctx, copyValue(data))
	if err != nil {
		var be *backend.Error
		if errors.As(err, &be) {
			return nil, be
		}
		return nil, &backend.Error{Code: backend.CodeInternal, Message: "internal", Err: err}
	}
	return res, nil
}

func (f *functions) HTTP(ctx context.Context, method, name string, query url.Values, body []byte) (*backend.HTTPResponse, error) {
	f.b.mu.Lock()
	if err := f.b.enter("Functions.HTTP"); err != nil {
		f.b.mu.Unlock()
		return nil, err
	}
	fn, ok := f.b.httpFunctions[name]
	f.b.mu.Unlock()

	if !ok {
		return &backend.HTTPResponse{
			Status:      http.StatusNotFound,
			ContentType: "text/html",
			Body:        []byte("Page not found"),
		}, nil
	}

	status, resp := fn(method, query, body)
	return &backend.HTTPResponse{
		Status:      status,
		ContentType: http.DetectContentType(resp),
		Body:        resp,
	}, nil
}

func (f *functions) URL(name string) string {
	return "memory://functions/" + name
}
