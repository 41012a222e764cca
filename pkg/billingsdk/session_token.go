package billingsdk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/billing/pkg/jwtx"
)

// IsLoggedIn reports whether a token is held and is either unexpired or
// renewable. An expired token with no refresh token clears the session.
func (s *Session) IsLoggedIn(ctx context.Context) bool {
	s.mu.Lock()
	if s.accessToken == "" {
		s.mu.Unlock()
		return false
	}
	if s.now().Before(s.expiry) || s.refreshToken != "" {
		s.mu.Unlock()
		return true
	}

	s.log.Info("access token expired with no refresh token, clearing session")
	s.clearLocked(ctx)
	s.mu.Unlock()

	s.publish(false)
	return false
}

// CheckAndRefreshToken returns true when the session holds a usable token,
// refreshing it first if it has expired and can be renewed.
func (s *Session) CheckAndRefreshToken(ctx context.Context) bool {
	s.mu.Lock()
	hasToken := s.accessToken != "" && !s.expiry.IsZero()
	expired := !s.now().Before(s.expiry)
	canRefresh := s.refreshToken != ""
	s.mu.Unlock()

	if !hasToken {
		return false
	}
	if expired && canRefresh {
		_, err := s.RefreshAccessToken(ctx)
		return err == nil
	}
	return !expired
}

// Token returns the access token while it is unexpired. When memory holds
// nothing valid the key-value channel is consulted. It never refreshes.
func (s *Session) Token(ctx context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.accessToken != "" && now.Before(s.expiry) {
		return s.accessToken, true
	}

	token, expiry, ok := s.loadTokenLocked(ctx)
	if !ok || !now.Before(expiry) {
		return "", false
	}

	if token != s.accessToken {
		s.log.Debug("reloaded access token from store")
	}
	s.accessToken = token
	s.expiry = expiry
	if rt := s.read(ctx, s.store, KeyRefreshToken); rt != "" {
		s.refreshToken = rt
	}
	return token, true
}

// RefreshAccessToken exchanges the refresh token for a new access token.
// Concurrent callers share one backend call. Any failure, including an
// unreachable backend, logs the session out and returns an *AuthError of
// KindSessionExpired.
func (s *Session) RefreshAccessToken(ctx context.Context) (*Snapshot, error) {
	return s.refreshFrom(ctx, "")
}

// refreshFrom refreshes unless the current token already differs from
// stale, in which case another caller has refreshed in the meantime.
func (s *Session) refreshFrom(ctx context.Context, stale string) (*Snapshot, error) {
	v, err, shared := s.refreshes.Do("refresh", func() (any, error) {
		return s.doRefresh(context.WithoutCancel(ctx), stale)
	})
	if shared {
		s.log.Debug("joined in-flight token refresh")
	}
	if err != nil {
		return nil, err
	}
	snap := v.(Snapshot)
	return &snap, nil
}

func (s *Session) doRefresh(ctx context.Context, stale string) (Snapshot, error) {
	s.mu.Lock()
	if stale != "" && s.accessToken != "" && s.accessToken != stale && s.now().Before(s.expiry) {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	refreshToken := s.refreshToken
	epoch := s.epoch
	s.mu.Unlock()

	if refreshToken == "" {
		s.metrics.refresh("no_refresh_token")
		s.Logout(ctx)
		return Snapshot{}, sessionExpired(ErrNoRefreshToken)
	}

	resp, err := s.client.refresh(ctx, refreshToken)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			s.metrics.refresh("rejected")
			s.log.Warn("token refresh rejected", "status", apiErr.StatusCode)
		} else {
			s.metrics.refresh("unreachable")
			s.log.Warn("token refresh could not reach backend", "error", err)
		}
		s.Logout(ctx)
		return Snapshot{}, sessionExpired(err)
	}

	token := resp.accessToken()
	if token == "" {
		s.metrics.refresh("invalid_response")
		s.Logout(ctx)
		return Snapshot{}, sessionExpired(ErrNoToken)
	}

	now := s.now()
	expiry := now.Add(DefaultLoginTTL)
	if resp.expiresIn() > 0 {
		expiry = now.Add(time.Duration(resp.expiresIn()) * time.Second)
	} else if exp, ok := expiryFromToken(token); ok {
		expiry = exp
	}
	if !expiry.After(now) {
		s.metrics.refresh("invalid_response")
		s.Logout(ctx)
		return Snapshot{}, sessionExpired(fmt.Errorf("%w: refreshed token already expired", ErrInvalidToken))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		// Logged out or re-authenticated while the call was in flight.
		s.metrics.refresh("discarded")
		if s.accessToken == "" {
			return Snapshot{}, sessionExpired(ErrNotLoggedIn)
		}
		return s.snapshotLocked(), nil
	}

	s.accessToken = token
	s.expiry = expiry
	if rt := resp.refreshToken(); rt != "" {
		s.refreshToken = rt
	}
	s.persistTokensLocked(ctx)
	s.metrics.refresh("ok")
	s.log.Info("access token refreshed", "expires_at", expiry)

	return s.snapshotLocked(), nil
}

// tokenAfterUnauthorized is called by the transport after a 401. It returns
// the token a replay should carry.
func (s *Session) tokenAfterUnauthorized(ctx context.Context, sent string) (string, error) {
	snap, err := s.refreshFrom(ctx, sent)
	if err != nil {
		return "", err
	}
	return snap.AccessToken, nil
}

func (s *Session) hasRefreshToken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken != ""
}

// Logout clears every channel and broadcasts false, then tells the backend
// the session is gone. The notification tries the primary endpoint and
// then the fallback, bounded as a whole by the logout timeout. Backend
// failures are logged, never returned. Logging out twice is harmless.
func (s *Session) Logout(ctx context.Context) {
	s.mu.Lock()
	token := s.accessToken
	payload := logoutRequest{
		RefreshToken:     s.refreshToken,
		CustomerID:       s.customerID,
		SessionID:        s.sessionID,
		ReleaseLoginSlot: true,
	}
	s.clearLocked(ctx)
	s.mu.Unlock()

	s.publish(false)

	if token == "" && payload.RefreshToken == "" {
		s.metrics.logout(false)
		return
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.logoutTimeout)
	defer cancel()

	chain := Fallback[struct{}]{
		Attempts: []Attempt[struct{}]{
			{Name: "auth_logout", Do: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, s.client.logout(ctx, PathLogout, token, payload)
			}},
			{Name: "users_logout", Do: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, s.client.logout(ctx, PathLogoutFallback, token, payload)
			}},
		},
		StopOn: func(err error) bool {
			return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
		},
		OnFailure: func(name string, err error) {
			s.metrics.fallback(name)
			s.log.Debug("logout notification attempt failed", "attempt", name, "error", err)
		},
	}

	if _, used, err := chain.Run(notifyCtx); err != nil {
		s.metrics.logout(false)
		s.log.Warn("backend logout notification failed, local session cleared anyway", "error", err)
	} else {
		s.metrics.logout(true)
		s.log.Info("logged out", "endpoint", used)
	}
}

func expiryFromToken(token string) (time.Time, bool) {
	claims, err := jwtx.ParseUnverified(token)
	if err != nil {
		return time.Time{}, false
	}
	return claims.Expiry()
}
