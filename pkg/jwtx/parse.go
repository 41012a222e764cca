package jwtx

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed    = errors.New("jwtx: malformed token")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")
)

// ParseUnverified decodes the claims of a compact JWT without checking its
// signature. Clients hold no signing keys; the backend verifies every
// token it receives, so decoded claims are only used for display and
// expiry bookkeeping.
func ParseUnverified(token string) (*Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if strings.Count(token, ".") != 2 {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, ErrMalformed
		}
		return nil, errors.Join(ErrInvalidClaim, err)
	}

	return claims, nil
}

// LooksLikeJWT reports whether the token has the three-segment compact form.
func LooksLikeJWT(token string) bool {
	_, err := ParseUnverified(token)
	return err == nil
}
