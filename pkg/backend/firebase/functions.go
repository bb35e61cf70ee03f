package firebase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/firepwn/firepwn/pkg/backend"
)

// maxFunctionBody caps the body read from a plain HTTP function.
const maxFunctionBody = 1 << 20

// functions implements backend.Functions with the callable protocol:
// POST {"data": ...} and a {"result": ...} or {"error": ...} reply.
type functions struct {
	s         *session
	projectID string
	region    string
}

func (f *functions) URL(name string) string {
	if f.s.cfg.FunctionsURL != "" {
		return fmt.Sprintf("%s/%s/%s/%s", f.s.cfg.FunctionsURL, f.projectID, f.region, name)
	}
	return fmt.Sprintf("https://%s-%s.cloudfunctions.net/%s", f.region, f.projectID, name)
}

func (f *functions) Call(ctx context.Context, name string, data any) (any, error) {
	header, err := f.s.authHeader(ctx, "Bearer")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result any `json:"result"`
		Data   any `json:"data"`
	}
	if err := postJSON(ctx, f.s.cfg.HTTPClient, f.URL(name), header, map[string]any{"data": data}, &resp, functionsError); err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return resp.Data, nil
	}
	return resp.Result, nil
}

func (f *functions) HTTP(ctx context.Context, method, name string, query url.Values, body []byte) (*backend.HTTPResponse, error) {
	target := f.URL(name)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	header, err := f.s.authHeader(ctx, "Bearer")
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := f.s.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, &backend.Error{Code: backend.CodeUnavailable, Message: err.Error(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxFunctionBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &backend.HTTPResponse{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
	}, nil
}
