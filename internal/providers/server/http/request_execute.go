package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

type requestSpec struct {
	method string
	path   string
	query  map[string]string
	body   any
}

func (g *Gateway) execute(ctx context.Context, spec requestSpec) ([]byte, error) {
	request, err := g.newRequest(ctx, spec)
	if err != nil {
		return nil, err
	}

	response, err := g.doRequest(ctx, "resource", request)
	if err != nil {
		return nil, transportError("remote request failed", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return nil, transportError("failed to read remote response body", err)
	}

	if response.StatusCode == http.StatusUnauthorized {
		if cached, ok := g.auth.(tokenInvalidator); ok {
			cached.invalidate()
		}
	}
	if response.StatusCode >= http.StatusBadRequest {
		return nil, classifyStatusError(response.StatusCode, body)
	}

	return body, nil
}

func (g *Gateway) newRequest(ctx context.Context, spec requestSpec) (*http.Request, error) {
	targetURL, err := g.resolveRequestURL(spec.path, spec.query)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if spec.body != nil {
		encoded, err := json.Marshal(spec.body)
		if err != nil {
			return nil, validationError("failed to encode JSON request body", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, spec.method, targetURL, bodyReader)
	if err != nil {
		return nil, internalError("failed to create remote request", err)
	}

	request.Header.Set("Accept", defaultMediaType)
	if bodyReader != nil {
		request.Header.Set("Content-Type", defaultMediaType)
	}

	keys := make([]string, 0, len(g.defaultHeaders))
	for key := range g.defaultHeaders {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		request.Header.Set(key, g.defaultHeaders[key])
	}

	if err := g.auth.authorize(ctx, request, g.doRequest); err != nil {
		return nil, err
	}

	return request, nil
}

// resolveRequestURL appends an already escaped path to the base URL.
func (g *Gateway) resolveRequestURL(escapedPath string, query map[string]string) (string, error) {
	target := *g.baseURL
	joined := strings.TrimSuffix(g.baseURL.EscapedPath(), "/") + "/" + strings.TrimPrefix(escapedPath, "/")
	unescaped, err := url.PathUnescape(joined)
	if err != nil {
		return "", validationError("request path is invalid", err)
	}
	target.Path = unescaped
	target.RawPath = joined

	values := target.Query()
	for key, value := range query {
		values.Set(key, value)
	}
	target.RawQuery = values.Encode()

	return target.String(), nil
}

// segment escapes one path segment.
func segment(value string) string {
	return url.PathEscape(value)
}
