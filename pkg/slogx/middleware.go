package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/billing/pkg/idx"
)

// RequestIDHeader carries the correlation id of an outbound call.
const RequestIDHeader = "X-Request-ID"

// Transport logs every outbound request and tags it with a request id. The
// contextual logger is attached to the request context so lower layers can
// log with the same req_id.
type Transport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	logger := t.Logger
	if logger == nil {
		logger = FromContext(r.Context())
	}

	reqID := r.Header.Get(RequestIDHeader)
	if reqID == "" {
		if id, ok := RequestID(r.Context()); ok {
			reqID = id
		} else {
			reqID = idx.New().String()
		}
		r = r.Clone(r.Context())
		r.Header.Set(RequestIDHeader, reqID)
	}

	logger = logger.With(
		"req_id", reqID,
		"method", r.Method,
		"path", r.URL.Path,
	)
	r = r.WithContext(WithContext(r.Context(), logger))

	start := time.Now()
	resp, err := base.RoundTrip(r)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		logger.Debug("http_request_failed", "duration_ms", duration, "error", err)
		return nil, err
	}

	logger.Debug("http_request", "status", resp.StatusCode, "duration_ms", duration)
	return resp, nil
}
