package billingsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/aussiebroadwan/billing/pkg/cryptox"
)

// CurrentUser returns the cached user, loading it from the key-value
// channel on first use. It returns nil when no user is known.
func (s *Session) CurrentUser(ctx context.Context) *UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentUserLocked(ctx).Clone()
}

func (s *Session) currentUserLocked(ctx context.Context) *UserRecord {
	if s.user != nil {
		return s.user
	}

	raw := s.read(ctx, s.store, KeyCurrentUser)
	if raw == "" {
		return nil
	}
	var u UserRecord
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		s.log.Warn("discarding unreadable persisted user", "error", err)
		return nil
	}
	EnsureNameFields(&u)
	s.user = &u
	return s.user
}

// SetCurrentUser replaces the user record, persists it and broadcasts true.
func (s *Session) SetCurrentUser(ctx context.Context, u UserRecord) {
	EnsureNameFields(&u)

	s.mu.Lock()
	s.user = u.Clone()
	s.persistUserLocked(ctx)
	s.mu.Unlock()

	s.publish(true)
}

// CustomerID resolves the billing identifier from memory, then the cookie
// channel, then the key-value channel, then the current user. The first
// hit is cached and mirrored into both channels.
func (s *Session) CustomerID(ctx context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.customerID != "" {
		return s.customerID, true
	}

	id := firstNonEmpty(
		s.read(ctx, s.cookies, KeyCustomerID),
		s.read(ctx, s.store, KeyCustomerID),
	)
	if id == "" {
		if u := s.currentUserLocked(ctx); u != nil {
			id = firstNonEmpty(u.CustomerID, u.ID)
		}
	}
	if id == "" {
		return "", false
	}

	s.setCustomerIDLocked(ctx, id)
	return id, true
}

// SetCustomerID stores id in memory and both channels. An empty id is
// ignored.
func (s *Session) SetCustomerID(ctx context.Context, id string) {
	if id = firstNonEmpty(id); id == "" {
		s.log.Warn("ignoring empty customer id")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCustomerIDLocked(ctx, id)
}

func (s *Session) setCustomerIDLocked(ctx context.Context, id string) {
	s.customerID = id
	s.write(ctx, s.cookies, KeyCustomerID, id)
	s.write(ctx, s.store, KeyCustomerID, id)
}

// SessionID returns the backend session id, if one was issued.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// SetSessionID stores the backend session id. An empty id clears it.
func (s *Session) SetSessionID(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
	s.writeOrDelete(ctx, s.store, KeySessionID, id)
}

// Roles returns the current user's roles.
func (s *Session) Roles(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.currentUserLocked(ctx); u != nil {
		return slices.Clone(u.Roles)
	}
	return nil
}

// HasRole reports whether the current user holds role.
func (s *Session) HasRole(ctx context.Context, role string) bool {
	return slices.Contains(s.Roles(ctx), role)
}

// HasAnyRole reports whether the user holds one of roles. An empty list
// passes even without a user.
func (s *Session) HasAnyRole(ctx context.Context, roles ...string) bool {
	if len(roles) == 0 {
		return true
	}
	u := UserRecord{Roles: s.Roles(ctx)}
	return u.HasAnyRole(roles...)
}

// RefreshUserInfo fetches the current user from the backend and merges it
// over the cached record.
func (s *Session) RefreshUserInfo(ctx context.Context) (*UserRecord, error) {
	var resp backendUser
	if err := s.do(ctx, http.MethodGet, PathCurrentUser, nil, nil, &resp); err != nil {
		return nil, err
	}
	return s.mergeUser(ctx, &resp), nil
}

// UpdateProfile sends the changed fields and merges the backend's answer
// into the current user.
func (s *Session) UpdateProfile(ctx context.Context, update ProfileUpdate) (*UserRecord, error) {
	var resp backendUser
	if err := s.do(ctx, http.MethodPut, PathProfile, nil, update, &resp); err != nil {
		return nil, err
	}

	// Some deployments answer with an empty body; apply the request itself.
	if resp.isEmpty() {
		resp.FirstName = flexString(update.FirstName)
		resp.LastName = flexString(update.LastName)
		resp.Email = flexString(update.Email)
		resp.Phone = flexString(update.Phone)
	}
	return s.mergeUser(ctx, &resp), nil
}

func (s *Session) mergeUser(ctx context.Context, b *backendUser) *UserRecord {
	var u UserRecord
	if cur := s.CurrentUser(ctx); cur != nil {
		u = *cur
	}
	b.overlay(&u)
	s.SetCurrentUser(ctx, u)
	if id := firstNonEmpty(b.CustomerID.String(), b.CustomerIDSnake.String()); id != "" {
		s.SetCustomerID(ctx, id)
	}
	return s.CurrentUser(ctx)
}

// ChangePassword changes the password of the logged-in user.
func (s *Session) ChangePassword(ctx context.Context, current, next string) error {
	return s.do(ctx, http.MethodPost, PathChangePassword, nil, changePasswordRequest{
		CurrentPassword: current,
		NewPassword:     next,
	}, nil)
}

// RequestPasswordReset asks the backend to email a reset link.
func (s *Session) RequestPasswordReset(ctx context.Context, email string) error {
	return s.client.RequestPasswordReset(ctx, email)
}

// CheckServerAvailability reports whether the backend health check passes.
func (s *Session) CheckServerAvailability(ctx context.Context) bool {
	return s.client.CheckServerAvailability(ctx)
}

// DebugInfo is a redacted view of the session for diagnostics. Tokens are
// reduced to fingerprints.
type DebugInfo struct {
	LoggedIn          bool        `json:"loggedIn"`
	AccessToken       string      `json:"accessTokenFingerprint,omitempty"`
	RefreshToken      string      `json:"refreshTokenFingerprint,omitempty"`
	Expiry            time.Time   `json:"expiry,omitzero"`
	ExpiresIn         string      `json:"expiresIn,omitempty"`
	CustomerID        string      `json:"customerId,omitempty"`
	SessionID         string      `json:"sessionId,omitempty"`
	User              *UserRecord `json:"user,omitempty"`
	Store             string      `json:"store"`
	StoreKeys         []string    `json:"storeKeys,omitempty"`
	CookieKeys        []string    `json:"cookieKeys,omitempty"`
	LastAuthBroadcast bool        `json:"lastAuthBroadcast"`
}

// DebugInfo reports which keys each channel holds and a fingerprint of
// the tokens. It has no side effects.
func (s *Session) DebugInfo(ctx context.Context) DebugInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	info := DebugInfo{
		LoggedIn:          s.accessToken != "" && (now.Before(s.expiry) || s.refreshToken != ""),
		AccessToken:       cryptox.FingerprintToken(s.accessToken),
		RefreshToken:      cryptox.FingerprintToken(s.refreshToken),
		Expiry:            s.expiry,
		CustomerID:        s.customerID,
		SessionID:         s.sessionID,
		User:              s.user.Clone(),
		Store:             s.store.Name(),
		LastAuthBroadcast: s.events.Last(),
	}
	if !s.expiry.IsZero() {
		info.ExpiresIn = s.expiry.Sub(now).Round(time.Second).String()
	}
	for _, k := range storeKeys {
		if _, ok, err := s.store.Get(ctx, k); err == nil && ok {
			info.StoreKeys = append(info.StoreKeys, k)
		}
	}
	for _, k := range cookieKeys {
		if _, ok, err := s.cookies.Get(ctx, k); err == nil && ok {
			info.CookieKeys = append(info.CookieKeys, k)
		}
	}
	return info
}

// do sends an authenticated JSON request through the session's client.
func (s *Session) do(ctx context.Context, method, path string, query url.Values, body, target any) error {
	req, err := s.client.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	return do(s.httpClient, req, target)
}
