package billingsdk

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"golang.org/x/net/publicsuffix"
)

const cookiePrefix = "cookie:"

// CookieChannel keeps session cookies in an http.CookieJar scoped to the
// backend origin, so they ride along on every request made with the
// session's HTTP client. Values are mirrored into a backing Channel under a
// "cookie:" prefix so they survive a process restart.
type CookieChannel struct {
	jar     http.CookieJar
	origin  *url.URL
	backing Channel
}

// NewCookieChannel creates a cookie channel for baseURL. backing may be nil,
// in which case cookies only live as long as the process.
func NewCookieChannel(baseURL string, backing Channel) (*CookieChannel, error) {
	origin, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if origin.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: missing host", baseURL)
	}
	origin = &url.URL{Scheme: origin.Scheme, Host: origin.Host, Path: "/"}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &CookieChannel{jar: jar, origin: origin, backing: backing}, nil
}

func (c *CookieChannel) Name() string { return "cookie" }

// Jar exposes the cookie jar for use by an http.Client.
func (c *CookieChannel) Jar() http.CookieJar { return c.jar }

func (c *CookieChannel) Get(ctx context.Context, key string) (string, bool, error) {
	for _, ck := range c.jar.Cookies(c.origin) {
		if ck.Name == key {
			return ck.Value, true, nil
		}
	}

	if c.backing == nil {
		return "", false, nil
	}

	v, ok, err := c.backing.Get(ctx, cookiePrefix+key)
	if err != nil || !ok {
		return "", false, err
	}

	// Restore into the jar so the next request carries it again.
	c.jar.SetCookies(c.origin, []*http.Cookie{c.cookie(key, v)})
	return v, true, nil
}

func (c *CookieChannel) Set(ctx context.Context, key, value string) error {
	c.jar.SetCookies(c.origin, []*http.Cookie{c.cookie(key, value)})
	if c.backing == nil {
		return nil
	}
	return c.backing.Set(ctx, cookiePrefix+key, value)
}

func (c *CookieChannel) Delete(ctx context.Context, key string) error {
	expired := c.cookie(key, "")
	expired.MaxAge = -1
	c.jar.SetCookies(c.origin, []*http.Cookie{expired})
	if c.backing == nil {
		return nil
	}
	return c.backing.Delete(ctx, cookiePrefix+key)
}

func (c *CookieChannel) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Secure:   c.origin.Scheme == "https",
	}
}
