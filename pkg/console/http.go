package console

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/firepwn/firepwn/internal/jsonlit"
)

// HTTPCallRequest is a plain HTTP invocation of a function endpoint.
type HTTPCallRequest struct {
	Name string
	// Method is GET or POST.
	Method string
	// Args is a JSON object (query parameters for GET, body for POST) or,
	// for GET only, a raw k=v&... query string.
	Args string
}

var httpNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// prepare validates r and returns the query and body to send.
func (r HTTPCallRequest) prepare() (method string, query url.Values, body []byte, msg string) {
	if !httpNameRe.MatchString(r.Name) {
		return "", nil, nil, "Please enter a valid function name"
	}

	method = strings.ToUpper(strings.TrimSpace(r.Method))
	if method == "" {
		method = http.MethodGet
	}
	args := strings.TrimSpace(r.Args)

	switch method {
	case http.MethodGet:
		if args == "" {
			return method, nil, nil, ""
		}
		if obj, err := jsonlit.ParseObject(args); err == nil {
			return method, objectQuery(obj), nil, ""
		}
		q, err := url.ParseQuery(args)
		if err != nil {
			return "", nil, nil, "Please enter a JSON object or a query string"
		}
		return method, q, nil, ""

	case http.MethodPost:
		if args == "" {
			return method, nil, nil, ""
		}
		v, err := jsonlit.Parse(args)
		if err != nil {
			return "", nil, nil, "Please enter a valid JSON body"
		}
		body, err = json.Marshal(v)
		if err != nil {
			return "", nil, nil, "Please enter a valid JSON body"
		}
		return method, nil, body, ""

	default:
		return "", nil, nil, "HTTP method must be GET or POST"
	}
}

// objectQuery flattens one level of obj into query parameters.
func objectQuery(obj map[string]any) url.Values {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	q := make(url.Values, len(obj))
	for _, k := range keys {
		switch v := obj[k].(type) {
		case string:
			q.Set(k, v)
		case nil:
			q.Set(k, "null")
		case map[string]any, []any:
			q.Set(k, compactJSON(v))
		default:
			q.Set(k, fmt.Sprint(v))
		}
	}
	return q
}

// InvokeHTTP performs a plain HTTP request against a function endpoint and
// logs the status and body. Non-2xx statuses are logged as errors.
func (c *Console) InvokeHTTP(ctx context.Context, req HTTPCallRequest) error {
	sess := c.session()
	if !sess.initialized {
		return c.reject(SubsystemFunctions, "http", "Functions service not initialized", ErrNotInitialized)
	}

	req.Name = strings.TrimSpace(req.Name)
	method, query, body, msg := req.prepare()
	if msg != "" {
		return c.invalid(SubsystemFunctions, "http", msg)
	}

	functions := sess.functions
	target := functions.URL(req.Name)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	c.dispatch(ctx, SubsystemFunctions, "http", func(ctx context.Context) error {
		resp, err := functions.HTTP(ctx, method, req.Name, query, body)
		if err != nil {
			c.log.Error(fmt.Sprintf("Error: HTTP request to %s failed - %s", req.Name, err.Error()))
			return err
		}

		text := fmt.Sprintf("%s %s\nStatus: %d\nResponse:\n%s", method, target, resp.Status, prettyBody(resp.Body))
		if resp.Status < 200 || resp.Status > 299 {
			c.log.Error(text)
			return fmt.Errorf("%s %s: status %d", method, req.Name, resp.Status)
		}
		c.log.Success(text)
		return nil
	})
	return nil
}
