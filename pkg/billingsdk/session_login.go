package billingsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/billing/pkg/jwtx"
)

// Login authenticates with the backend and installs the resulting session.
// Nothing persisted is touched unless the response carries a usable token.
func (s *Session) Login(ctx context.Context, creds Credentials) (*Snapshot, error) {
	resp, err := s.client.login(ctx, creds)
	if err != nil {
		authErr := classify(err, MsgUnauthorized)
		s.metrics.login(authErr.Kind.String())
		s.log.Warn("login failed", "username", creds.Username, "kind", authErr.Kind.String(), "status", authErr.StatusCode)
		return nil, authErr
	}

	g, err := s.grantFromResponse(resp, DefaultLoginTTL)
	if err != nil {
		s.metrics.login("invalid_response")
		return nil, &AuthError{Kind: KindOther, Message: MsgLoginFailed, Err: err}
	}

	snap := s.establish(ctx, g)
	s.metrics.login("ok")
	s.log.Info("login succeeded", "username", creds.Username, "customer_id", snap.CustomerID, "expires_at", snap.Expiry)
	return &snap, nil
}

// grantFromResponse validates a token response and derives the identity.
// Opaque (non-JWT) tokens are accepted; claims simply contribute nothing.
func (s *Session) grantFromResponse(resp *loginResponse, defaultTTL time.Duration) (grant, error) {
	token := resp.accessToken()
	if token == "" {
		return grant{}, ErrNoToken
	}

	claims, cerr := jwtx.ParseUnverified(token)
	if cerr != nil {
		s.log.Debug("access token is not a decodable jwt", "error", cerr)
	}

	now := s.now()
	expiry := now.Add(defaultTTL)
	switch {
	case resp.expiresIn() > 0:
		expiry = now.Add(time.Duration(resp.expiresIn()) * time.Second)
	case claims != nil:
		if exp, ok := claims.Expiry(); ok {
			expiry = exp
		}
	}
	if !expiry.After(now) {
		return grant{}, fmt.Errorf("%w: token already expired", ErrInvalidToken)
	}

	user := s.userFromResponse(resp, claims)

	customerID := resp.customerID()
	if customerID == "" && claims != nil {
		customerID = firstNonEmpty(claims.CustomerID, claims.Subject)
	}
	if customerID != "" && user.CustomerID == "" {
		user.CustomerID = customerID
	}

	sessionID := resp.sessionID()
	if sessionID == "" && claims != nil {
		sessionID = claims.SID
	}

	return grant{
		accessToken:  token,
		refreshToken: resp.refreshToken(),
		expiry:       expiry,
		user:         &user,
		customerID:   customerID,
		sessionID:    sessionID,
	}, nil
}

// userFromResponse merges claims, then the embedded user object, then the
// top-level response fields. Later sources win.
func (s *Session) userFromResponse(resp *loginResponse, claims *jwtx.Claims) UserRecord {
	var u UserRecord
	if claims != nil {
		u = userFromClaims(claims)
	}

	resp.embeddedUser().overlay(&u)

	// Top-level ids belong to the customer lookup, not the identity.
	top := resp.backendUser
	top.ID, top.UserID, top.UserIDSnake = "", "", ""
	top.overlay(&u)

	EnsureNameFields(&u)
	return u
}

// Register creates an account. When the backend answers with a token the
// new account is logged in; otherwise only the returned user and customer
// id are stored.
func (s *Session) Register(ctx context.Context, req RegisterRequest) (*UserRecord, error) {
	resp, err := s.client.register(ctx, req)
	if err != nil {
		return nil, registrationError(err)
	}

	if resp.accessToken() != "" {
		g, err := s.grantFromResponse(resp, DefaultLoginTTL)
		if err == nil {
			snap := s.establish(ctx, g)
			s.log.Info("registered and logged in", "username", req.Username)
			return snap.User, nil
		}
		s.log.Warn("registration returned an unusable token", "error", err)
	}

	var u UserRecord
	resp.overlay(&u)
	resp.embeddedUser().overlay(&u)
	EnsureNameFields(&u)

	s.mu.Lock()
	s.user = u.Clone()
	s.persistUserLocked(ctx)
	if id := firstNonEmpty(resp.customerID(), u.ID); id != "" {
		s.setCustomerIDLocked(ctx, id)
	}
	s.mu.Unlock()

	s.log.Info("registered", "username", req.Username)
	return &u, nil
}

func registrationError(err error) error {
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return &AuthError{Kind: KindOther, StatusCode: decodeErr.StatusCode, Message: "Registration failed. Please try again.", Err: err}
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return &AuthError{Kind: KindUnreachable, Message: MsgUnreachable, Err: err}
	}

	e := &AuthError{Kind: KindOther, StatusCode: apiErr.StatusCode, Err: err}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized:
		e.Kind = KindUnauthorized
		e.Message = "Authentication required. The registration endpoint is secured."
	case http.StatusForbidden:
		e.Message = "Forbidden. You do not have permission to register."
	case http.StatusConflict:
		e.Message = "Email already exists. Please use a different email."
	case http.StatusBadRequest:
		e.Message = backendMessage(apiErr, "Invalid registration data. Please check all fields.")
	default:
		e.Message = backendMessage(apiErr, "Registration failed. Please try again.")
	}
	return e
}

func backendMessage(apiErr *APIError, fallback string) string {
	if apiErr.Message == "" || apiErr.Message == http.StatusText(apiErr.StatusCode) {
		return fallback
	}
	return apiErr.Message
}

// SetExternalToken installs a bearer token minted elsewhere. The token must
// be a decodable JWT; its exp claim governs expiry, defaulting to five
// minutes. Injected sessions carry no refresh token.
func (s *Session) SetExternalToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	claims, err := jwtx.ParseUnverified(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	now := s.now()
	expiry := now.Add(DefaultExternalTTL)
	if exp, ok := claims.Expiry(); ok {
		expiry = exp
	}
	if !expiry.After(now) {
		return fmt.Errorf("%w: token already expired", ErrInvalidToken)
	}

	user := userFromClaims(claims)
	customerID := firstNonEmpty(claims.CustomerID, claims.Subject)
	user.CustomerID = customerID
	EnsureNameFields(&user)

	s.establish(ctx, grant{
		accessToken: token,
		expiry:      expiry,
		user:        &user,
		customerID:  customerID,
		sessionID:   claims.SID,
	})
	s.log.Info("external token installed", "subject", claims.Subject, "expires_at", expiry)
	return nil
}
