package http

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/crmarques/reconctl/config"
	"github.com/crmarques/reconctl/debugctx"
)

type tlsDebugInfo struct {
	enabled            bool
	insecureSkipVerify bool
	caCertFile         string
	clientCertFile     string
}

func newTLSDebugInfo(tlsSettings *config.TLS) tlsDebugInfo {
	if tlsSettings == nil {
		return tlsDebugInfo{}
	}

	return tlsDebugInfo{
		enabled:            true,
		insecureSkipVerify: tlsSettings.InsecureSkipVerify,
		caCertFile:         strings.TrimSpace(tlsSettings.CACertFile),
		clientCertFile:     strings.TrimSpace(tlsSettings.ClientCertFile),
	}
}

// doRequest waits for the rate limiter, tags the request with a request id
// and sends it.
func (g *Gateway) doRequest(ctx context.Context, purpose string, request *http.Request) (*http.Response, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	requestID := request.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		request.Header.Set(requestIDHeader, requestID)
	}

	logger := debugctx.Logger(ctx).V(debugctx.DebugLevel).WithValues(
		"purpose", purpose,
		"method", request.Method,
		"url", redactURLForDebug(request.URL),
		"request_id", requestID,
	)
	logger.Info(
		"http request",
		"tls", g.tlsDebug.enabled,
		"tls_insecure_skip_verify", g.tlsDebug.insecureSkipVerify,
		"tls_ca_cert_file", g.tlsDebug.caCertFile,
		"tls_client_cert_file", g.tlsDebug.clientCertFile,
	)

	response, err := g.client.Do(request)
	if err != nil {
		logger.Info("http request failed", "error", err.Error())
		return nil, err
	}

	logger.Info("http response", "status", response.StatusCode)
	return response, nil
}

func redactURLForDebug(value *url.URL) string {
	if value == nil {
		return ""
	}

	cloned := *value
	cloned.User = nil

	query := cloned.Query()
	if len(query) > 0 {
		for key, values := range query {
			redacted := make([]string, len(values))
			for idx := range values {
				redacted[idx] = "<redacted>"
			}
			query[key] = redacted
		}
		cloned.RawQuery = query.Encode()
	}

	return cloned.String()
}
