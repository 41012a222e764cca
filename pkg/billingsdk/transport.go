package billingsdk

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/billing/pkg/idx"
	"github.com/aussiebroadwan/billing/pkg/slogx"
)

// CustomerIDHeader carries the resolved customer id on authenticated calls.
const CustomerIDHeader = "X-Customer-ID"

// DefaultPublicPaths never carry a bearer token.
var DefaultPublicPaths = []string{
	"/users/login",
	"/auth/login",
	"/users/register",
	"/actuator/health",
	"/auth/refresh",
}

// Transport attaches the session token to outgoing requests. A 401 triggers
// one shared refresh and a single replay; a second 401 ends the session.
type Transport struct {
	Base    http.RoundTripper
	Session *Session

	// PublicPaths are matched as substrings of the request path. Nil uses
	// DefaultPublicPaths.
	PublicPaths []string

	// Limiter paces authenticated requests when set.
	Limiter *rate.Limiter
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Session == nil || t.isPublic(r.URL.Path) {
		return base.RoundTrip(r)
	}

	ctx := r.Context()
	if t.Limiter != nil {
		if err := t.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	reqID := r.Header.Get(slogx.RequestIDHeader)
	if reqID == "" {
		reqID, _ = slogx.RequestID(ctx)
	}
	// Ids end up in backend logs; anything that is not a ULID is replaced.
	if id, err := idx.Parse(reqID); err == nil {
		reqID = id.String()
	} else {
		reqID = idx.New().String()
	}
	log := t.Session.log.With("req_id", reqID, "method", r.Method, "path", r.URL.Path)

	token, _ := t.Session.Token(ctx)
	customerID, _ := t.Session.CustomerID(ctx)

	resp, err := base.RoundTrip(t.prepare(r, reqID, token, customerID))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// Nothing to renew: an anonymous call simply got a 401.
	if token == "" && !t.Session.hasRefreshToken() {
		return resp, nil
	}
	if r.Body != nil && r.Body != http.NoBody && r.GetBody == nil {
		log.Warn("request body cannot be replayed, returning 401")
		t.Session.metrics.replay("not_rewindable")
		return resp, nil
	}
	drain(resp)

	log.Debug("received 401, refreshing token")
	fresh, err := t.Session.tokenAfterUnauthorized(ctx, token)
	if err != nil {
		t.Session.metrics.replay("refresh_failed")
		return nil, err
	}

	replay := t.prepare(r, reqID, fresh, customerID)
	if r.GetBody != nil {
		body, err := r.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		replay.Body = body
	}

	resp, err = base.RoundTrip(replay)
	if err != nil {
		t.Session.metrics.replay("error")
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		t.Session.metrics.replay("unauthorized")
		log.Warn("replay rejected after refresh, ending session")
		t.Session.Logout(ctx)
		return nil, sessionExpired(&APIError{
			StatusCode: http.StatusUnauthorized,
			Method:     r.Method,
			Path:       r.URL.Path,
			Message:    http.StatusText(http.StatusUnauthorized),
		})
	}

	t.Session.metrics.replay("ok")
	return resp, nil
}

// prepare clones r with the auth headers applied. The original request is
// never modified.
func (t *Transport) prepare(r *http.Request, reqID, token, customerID string) *http.Request {
	out := r.Clone(r.Context())
	out.Header.Set(slogx.RequestIDHeader, reqID)
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}
	if customerID != "" && out.Header.Get(CustomerIDHeader) == "" {
		out.Header.Set(CustomerIDHeader, customerID)
	}
	return out
}

func (t *Transport) isPublic(path string) bool {
	paths := t.PublicPaths
	if paths == nil {
		paths = DefaultPublicPaths
	}
	for _, p := range paths {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}
