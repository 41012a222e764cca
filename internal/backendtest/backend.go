// Package backendtest runs an in-process billing backend for tests. It
// speaks the same endpoints as the real service, mints HS256 tokens and
// exposes knobs to simulate revoked tokens, slow or failing endpoints and
// disabled fallback routes.
package backendtest

import (
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

// Default fixture values.
const (
	Username   = "ada"
	Password   = "Secret123!"
	Email      = "ada.lovelace@example.com"
	CustomerID = "42"
	SessionID  = "sess-1"
)

// User is a registered account.
type User struct {
	ID         string
	Username   string
	Password   string
	Email      string
	FirstName  string
	LastName   string
	CustomerID string
	Roles      []string
}

type accessGrant struct {
	username string
	expiry   time.Time
}

// Backend is a fake billing backend. All knobs are safe to change while
// requests are in flight.
type Backend struct {
	*httptest.Server

	key []byte

	// TokenTTL is the lifetime of minted access tokens.
	TokenTTL time.Duration

	mu            sync.Mutex
	users         map[string]User
	access        map[string]accessGrant
	refresh       map[string]string
	disabled      map[string]int
	logoutBodies  []map[string]any
	logoutPaths   []string
	invoices      map[string]string
	notifications map[int64]bool
	seq           int64

	refreshDelay  time.Duration
	logoutDelay   time.Duration
	refreshStatus int
	rejectAll     bool
	omitToken     bool

	loginLimiter *rate.Limiter

	counts sync.Map // path -> *atomic.Int64
}

// New starts a backend seeded with the default user and closes it when the
// test ends.
func New(t testing.TB) *Backend {
	t.Helper()

	key := make([]byte, 32)
	_, _ = rand.Read(key)

	b := &Backend{
		key:           key,
		TokenTTL:      time.Hour,
		users:         make(map[string]User),
		access:        make(map[string]accessGrant),
		refresh:       make(map[string]string),
		disabled:      make(map[string]int),
		invoices:      map[string]string{"1001": "PENDING", "1002": "PAID"},
		notifications: map[int64]bool{1: false, 2: true},
	}
	b.users[Username] = User{
		ID:         "7",
		Username:   Username,
		Password:   Password,
		Email:      Email,
		FirstName:  "Ada",
		LastName:   "Lovelace",
		CustomerID: CustomerID,
		Roles:      []string{"USER"},
	}

	b.Server = httptest.NewServer(b.Router())
	t.Cleanup(b.Close)
	return b
}

// Router builds the route table.
func (b *Backend) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(b.count, b.disabledRoutes)

	r.Get("/actuator/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
	})

	r.Post("/users/login", b.handleLogin)
	r.Post("/users/register", b.handleRegister)
	r.Post("/users/reset-password", b.handleResetPassword)
	r.Post("/auth/refresh", b.handleRefresh)
	r.Post("/auth/logout", b.handleLogout)
	r.Post("/users/logout", b.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(b.authn)

		r.Get("/users/current", b.handleCurrentUser)
		r.Put("/users/profile", b.handleProfile)
		r.Post("/users/change-password", b.handleChangePassword)
		r.HandleFunc("/echo", b.handleEcho)

		b.billingRoutes(r)
	})

	return r
}

// Count returns how many requests reached path.
func (b *Backend) Count(path string) int64 {
	if v, ok := b.counts.Load(path); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// Disable makes path answer status (404 when zero) without running its
// handler.
func (b *Backend) Disable(path string, status int) {
	if status == 0 {
		status = http.StatusNotFound
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disabled[path] = status
}

// RevokeAccessTokens invalidates every issued access token. Refresh tokens
// stay valid.
func (b *Backend) RevokeAccessTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.access)
}

// RevokeRefreshTokens invalidates every issued refresh token.
func (b *Backend) RevokeRefreshTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.refresh)
}

// SetRefreshDelay slows the refresh endpoint down.
func (b *Backend) SetRefreshDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshDelay = d
}

// SetRefreshStatus makes the refresh endpoint fail with status. Zero
// restores normal behaviour.
func (b *Backend) SetRefreshStatus(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshStatus = status
}

// SetLogoutDelay makes both logout endpoints hang for d or until the
// client gives up.
func (b *Backend) SetLogoutDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logoutDelay = d
}

// SetRejectAll makes every authenticated endpoint answer 401.
func (b *Backend) SetRejectAll(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectAll = v
}

// SetOmitToken makes login and registration answer without a token.
func (b *Backend) SetOmitToken(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.omitToken = v
}

// LimitLogins throttles the login endpoint to burst attempts refilling at
// r per second. Throttled attempts answer 429.
func (b *Backend) LimitLogins(r rate.Limit, burst int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loginLimiter = rate.NewLimiter(r, burst)
}

// LogoutCalls returns the paths and decoded bodies of logout notifications.
func (b *Backend) LogoutCalls() ([]string, []map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.logoutPaths...), append([]map[string]any(nil), b.logoutBodies...)
}

// InvoiceStatus returns the stored status of an invoice.
func (b *Backend) InvoiceStatus(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.invoices[id]
}

// MintToken signs an access token for username that the backend accepts.
func (b *Backend) MintToken(username string, ttl time.Duration) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mintLocked(b.users[username], ttl)
}

// Sign signs arbitrary claims with the backend key. The backend does not
// accept such tokens unless they were minted by MintToken.
func (b *Backend) Sign(claims jwt.MapClaims) string {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.key)
	if err != nil {
		panic(err)
	}
	return s
}

func (b *Backend) mintLocked(u User, ttl time.Duration) string {
	now := time.Now()
	b.seq++
	token := b.Sign(jwt.MapClaims{
		"sub":                u.ID,
		"email":              u.Email,
		"preferred_username": u.Username,
		"given_name":         u.FirstName,
		"family_name":        u.LastName,
		"customer_id":        u.CustomerID,
		"sid":                SessionID,
		"realm_access":       map[string]any{"roles": u.Roles},
		"iat":                now.Unix(),
		"exp":                now.Add(ttl).Unix(),
		"jti":                strconv.FormatInt(b.seq, 10),
	})
	b.access[token] = accessGrant{username: u.Username, expiry: now.Add(ttl)}
	return token
}

func (b *Backend) issueLocked(u User) map[string]any {
	token := b.mintLocked(u, b.TokenTTL)
	refresh := "rt-" + strings.ToLower(rand.Text())
	b.refresh[refresh] = u.Username

	return map[string]any{
		"token":         token,
		"refresh_token": refresh,
		"expires_in":    int(b.TokenTTL.Seconds()),
		"sessionId":     SessionID,
		"customerId":    u.CustomerID,
		"user":          userJSON(u),
	}
}

func userJSON(u User) map[string]any {
	return map[string]any{
		"id":         u.ID,
		"username":   u.Username,
		"email":      u.Email,
		"firstName":  u.FirstName,
		"lastName":   u.LastName,
		"customerId": u.CustomerID,
		"roles":      u.Roles,
	}
}

// count tallies requests per path.
func (b *Backend) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, _ := b.counts.LoadOrStore(r.URL.Path, new(atomic.Int64))
		v.(*atomic.Int64).Add(1)
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) disabledRoutes(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		status, off := b.disabled[r.URL.Path]
		b.mu.Unlock()
		if off {
			writeError(w, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type userKey struct{}

// authn admits requests carrying a live access token.
func (b *Backend) authn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") {
			writeBearerError(w, "missing bearer token")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))

		b.mu.Lock()
		grant, ok := b.access[token]
		reject := b.rejectAll
		u := b.users[grant.username]
		b.mu.Unlock()

		switch {
		case reject || !ok:
			writeBearerError(w, "token verification failed")
			return
		case time.Now().After(grant.expiry):
			writeBearerError(w, "token expired")
			return
		}

		r = r.WithContext(contextWithUser(r.Context(), u))
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.loginLimiter != nil && !b.loginLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "Too many login attempts")
		return
	}

	q := r.URL.Query()
	u, ok := b.users[q.Get("username")]
	if !ok || u.Password != q.Get("password") {
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	resp := b.issueLocked(u)
	if b.omitToken {
		delete(resp, "token")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (b *Backend) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username      string `json:"username"`
		Email         string `json:"email"`
		FirstName     string `json:"firstName"`
		LastName      string `json:"lastName"`
		Password      string `json:"password"`
		CustomerPhone string `json:"customerPhone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, u := range b.users {
		if u.Username == req.Username || (req.Email != "" && u.Email == req.Email) {
			writeError(w, http.StatusConflict, "Email already exists")
			return
		}
	}

	b.seq++
	id := strconv.FormatInt(100+b.seq, 10)
	u := User{
		ID:         id,
		Username:   req.Username,
		Password:   req.Password,
		Email:      req.Email,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		CustomerID: id,
		Roles:      []string{"USER"},
	}
	b.users[u.Username] = u

	if b.omitToken {
		writeJSON(w, http.StatusOK, userJSON(u))
		return
	}
	writeJSON(w, http.StatusOK, b.issueLocked(u))
}

func (b *Backend) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Reset link sent"})
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	delay, status := b.refreshDelay, b.refreshStatus
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		writeError(w, status, "Refresh failed")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	username, ok := b.refresh[req.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	delete(b.refresh, req.RefreshToken)

	resp := b.issueLocked(b.users[username])
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  resp["token"],
		"refresh_token": resp["refresh_token"],
		"expires_in":    resp["expires_in"],
	})
}

func (b *Backend) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	b.mu.Lock()
	b.logoutPaths = append(b.logoutPaths, r.URL.Path)
	b.logoutBodies = append(b.logoutBodies, body)
	delay := b.logoutDelay
	if rt, _ := body["refreshToken"].(string); rt != "" {
		delete(b.refresh, rt)
	}
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (b *Backend) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userJSON(userFromContext(r.Context())))
}

func (b *Backend) handleProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	u := b.users[userFromContext(r.Context()).Username]
	if req.FirstName != "" {
		u.FirstName = req.FirstName
	}
	if req.LastName != "" {
		u.LastName = req.LastName
	}
	if req.Email != "" {
		u.Email = req.Email
	}
	b.users[u.Username] = u
	writeJSON(w, http.StatusOK, userJSON(u))
}

func (b *Backend) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "newPassword is required")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	u := b.users[userFromContext(r.Context()).Username]
	if u.Password != req.CurrentPassword {
		writeError(w, http.StatusBadRequest, "Current password is incorrect")
		return
	}
	u.Password = req.NewPassword
	b.users[u.Username] = u
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed"})
}

// handleEcho reports what the backend received, for transport tests.
func (b *Backend) handleEcho(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	_ = json.NewDecoder(r.Body).Decode(&body)
	writeJSON(w, http.StatusOK, map[string]any{
		"method":        r.Method,
		"authorization": r.Header.Get("Authorization"),
		"customerId":    r.Header.Get("X-Customer-ID"),
		"requestId":     r.Header.Get("X-Request-ID"),
		"body":          body,
	})
}
