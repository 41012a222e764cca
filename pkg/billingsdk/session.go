package billingsdk

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// DefaultLogoutTimeout bounds the backend logout notification.
	DefaultLogoutTimeout = 3 * time.Second

	// DefaultLoginTTL applies when neither expires_in nor exp is available.
	DefaultLoginTTL = time.Hour

	// DefaultExternalTTL applies to injected tokens without an exp claim.
	DefaultExternalTTL = 5 * time.Minute
)

// SessionOptions configures a Session. Only Client is required.
type SessionOptions struct {
	Client *SDKClient

	// Store is the durable key-value channel. Defaults to a MemoryChannel.
	Store Channel

	// Cookies is the cookie channel. Defaults to a CookieChannel for the
	// client's base URL backed by Store.
	Cookies Channel

	Logger  *slog.Logger
	Metrics *Metrics

	// LogoutTimeout bounds the backend logout notification.
	LogoutTimeout time.Duration

	// PublicPaths override DefaultPublicPaths for the request interceptor.
	PublicPaths []string

	// Limiter paces authenticated requests when set.
	Limiter *rate.Limiter

	// Now is the clock, for tests.
	Now func() time.Time
}

// Session owns the token pair, the user identity, the customer id and the
// session id. It persists them to the configured channels and broadcasts
// auth-state changes. All methods are safe for concurrent use.
type Session struct {
	client        *SDKClient
	store         Channel
	cookies       Channel
	log           *slog.Logger
	metrics       *Metrics
	now           func() time.Time
	logoutTimeout time.Duration

	events     Broadcaster
	refreshes  singleflight.Group
	httpClient *http.Client

	mu sync.Mutex
	// epoch changes whenever the identity behind the session changes
	// (login, external token, logout). Refresh results from an older
	// epoch are discarded.
	epoch        uint64
	accessToken  string
	refreshToken string
	expiry       time.Time
	user         *UserRecord
	customerID   string
	sessionID    string
}

// Snapshot is a point-in-time copy of the session state.
type Snapshot struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	User         *UserRecord
	CustomerID   string
	SessionID    string
}

// NewSession builds a Session and restores whatever valid state the
// channels hold. Restoring never broadcasts.
func NewSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	if opts.Client == nil {
		return nil, errors.New("billingsdk: session requires a client")
	}

	s := &Session{
		client:        opts.Client,
		store:         opts.Store,
		cookies:       opts.Cookies,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		now:           opts.Now,
		logoutTimeout: opts.LogoutTimeout,
	}
	if s.store == nil {
		s.store = NewMemoryChannel("memory")
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logoutTimeout <= 0 {
		s.logoutTimeout = DefaultLogoutTimeout
	}
	if s.cookies == nil {
		cookies, err := NewCookieChannel(opts.Client.BaseURL, s.store)
		if err != nil {
			return nil, err
		}
		s.cookies = cookies
	}

	s.httpClient = s.newHTTPClient(opts)
	s.restore(ctx)

	return s, nil
}

func (s *Session) newHTTPClient(opts SessionOptions) *http.Client {
	base := http.DefaultTransport
	timeout := 30 * time.Second
	if hc := s.client.HTTPClient; hc != nil {
		if hc.Transport != nil {
			base = hc.Transport
		}
		if hc.Timeout > 0 {
			timeout = hc.Timeout
		}
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &Transport{
			Base:        base,
			Session:     s,
			PublicPaths: opts.PublicPaths,
			Limiter:     opts.Limiter,
		},
	}
	if cc, ok := s.cookies.(*CookieChannel); ok {
		client.Jar = cc.Jar()
	}
	return client
}

// HTTPClient returns a client whose requests carry the session token and
// transparently refresh once on 401.
func (s *Session) HTTPClient() *http.Client { return s.httpClient }

// Client returns the underlying backend client.
func (s *Session) Client() *SDKClient { return s.client }

// Subscribe registers fn for auth-state changes.
func (s *Session) Subscribe(fn func(loggedIn bool)) (unsubscribe func()) {
	return s.events.Subscribe(fn)
}

func (s *Session) publish(v bool) {
	s.metrics.authChange(v)
	s.events.Publish(v)
}

// restore loads tokens and identifiers from the channels. A token without
// a parseable expiry is discarded.
func (s *Session) restore(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, expiry, ok := s.loadTokenLocked(ctx)
	switch {
	case ok:
		s.accessToken = token
		s.expiry = expiry
	case token != "":
		s.log.Warn("discarding persisted token without valid expiry")
		s.deleteKeys(ctx, s.store, KeyAccessToken, KeyTokenExpiry)
	}

	s.refreshToken = s.read(ctx, s.store, KeyRefreshToken)
	s.sessionID = s.read(ctx, s.store, KeySessionID)

	fromCookie := s.read(ctx, s.cookies, KeyCustomerID)
	fromStore := s.read(ctx, s.store, KeyCustomerID)
	id := firstNonEmpty(fromCookie, fromStore)
	if id == "" {
		return
	}
	// The cookie wins; bring any channel that disagrees back in line.
	if id != fromCookie || id != fromStore {
		s.setCustomerIDLocked(ctx, id)
		return
	}
	s.customerID = id
}

// loadTokenLocked reads access_token and token_expiry from the key-value
// channel. ok is false unless both are present and well formed.
func (s *Session) loadTokenLocked(ctx context.Context) (token string, expiry time.Time, ok bool) {
	token = s.read(ctx, s.store, KeyAccessToken)
	raw := s.read(ctx, s.store, KeyTokenExpiry)
	if token == "" || raw == "" {
		return token, time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return token, time.Time{}, false
	}
	return token, time.UnixMilli(ms), true
}

// Snapshot returns a copy of the in-memory state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		AccessToken:  s.accessToken,
		RefreshToken: s.refreshToken,
		Expiry:       s.expiry,
		User:         s.user.Clone(),
		CustomerID:   s.customerID,
		SessionID:    s.sessionID,
	}
}

// establish replaces the session identity and persists it everywhere.
// Callers have validated every argument.
func (s *Session) establish(ctx context.Context, grant grant) Snapshot {
	s.mu.Lock()
	s.epoch++
	s.accessToken = grant.accessToken
	s.expiry = grant.expiry
	s.refreshToken = grant.refreshToken
	s.sessionID = grant.sessionID
	s.user = grant.user.Clone()

	s.persistTokensLocked(ctx)
	s.persistUserLocked(ctx)
	s.writeOrDelete(ctx, s.store, KeySessionID, s.sessionID)
	if grant.customerID != "" {
		s.setCustomerIDLocked(ctx, grant.customerID)
	} else {
		s.log.Warn("no customer id could be resolved for session")
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(true)
	return snap
}

// grant is a validated set of credentials ready to be installed.
type grant struct {
	accessToken  string
	refreshToken string
	expiry       time.Time
	user         *UserRecord
	customerID   string
	sessionID    string
}

// persistTokensLocked writes the token pair to both channels.
func (s *Session) persistTokensLocked(ctx context.Context) {
	s.write(ctx, s.store, KeyAccessToken, s.accessToken)
	s.write(ctx, s.store, KeyTokenExpiry, strconv.FormatInt(s.expiry.UnixMilli(), 10))
	s.writeOrDelete(ctx, s.store, KeyRefreshToken, s.refreshToken)

	s.write(ctx, s.cookies, KeyAccessToken, s.accessToken)
	s.write(ctx, s.cookies, CookieJWT, s.accessToken)
	s.write(ctx, s.cookies, CookieAuthorization, "Bearer "+s.accessToken)
	s.writeOrDelete(ctx, s.cookies, KeyRefreshToken, s.refreshToken)
}

func (s *Session) persistUserLocked(ctx context.Context) {
	if s.user == nil {
		s.deleteKeys(ctx, s.store, KeyCurrentUser)
		return
	}
	data, err := json.Marshal(s.user)
	if err != nil {
		s.log.Error("failed to encode user", "error", err)
		return
	}
	s.write(ctx, s.store, KeyCurrentUser, string(data))
}

// clearLocked wipes memory and every channel key the session owns.
func (s *Session) clearLocked(ctx context.Context) {
	s.epoch++
	s.accessToken = ""
	s.refreshToken = ""
	s.expiry = time.Time{}
	s.user = nil
	s.customerID = ""
	s.sessionID = ""

	s.deleteKeys(ctx, s.store, storeKeys...)
	s.deleteKeys(ctx, s.cookies, cookieKeys...)
}

func (s *Session) read(ctx context.Context, ch Channel, key string) string {
	v, ok, err := ch.Get(ctx, key)
	if err != nil {
		s.log.Warn("channel read failed", "channel", ch.Name(), "key", key, "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func (s *Session) write(ctx context.Context, ch Channel, key, value string) {
	if err := ch.Set(ctx, key, value); err != nil {
		s.log.Warn("channel write failed", "channel", ch.Name(), "key", key, "error", err)
	}
}

func (s *Session) writeOrDelete(ctx context.Context, ch Channel, key, value string) {
	if value == "" {
		s.deleteKeys(ctx, ch, key)
		return
	}
	s.write(ctx, ch, key, value)
}

func (s *Session) deleteKeys(ctx context.Context, ch Channel, keys ...string) {
	for _, key := range keys {
		if err := ch.Delete(ctx, key); err != nil {
			s.log.Warn("channel delete failed", "channel", ch.Name(), "key", key, "error", err)
		}
	}
}
