package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/billing/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestParseUnverified(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := sign(t, jwt.MapClaims{
		"sub":                "user-42",
		"email":              "jane@example.com",
		"preferred_username": "jane",
		"given_name":         "Jane",
		"family_name":        "Doe",
		"exp":                exp.Unix(),
		"realm_access":       map[string]any{"roles": []string{"user", "offline_access"}},
		"resource_access": map[string]any{
			"billing-ui": map[string]any{"roles": []string{"admin", "user"}},
		},
	})

	t.Run("decodes keycloak claims", func(t *testing.T) {
		t.Parallel()
		c, err := jwtx.ParseUnverified(token)
		require.NoError(t, err)
		require.Equal(t, "user-42", c.Subject)
		require.Equal(t, "jane@example.com", c.Email)
		require.Equal(t, "jane", c.PreferredUsername)
		require.Equal(t, "Jane", c.GivenName)
		require.Equal(t, "Doe", c.FamilyName)
		require.Equal(t, []string{"admin", "offline_access", "user"}, c.Roles())
		require.True(t, c.HasRole("admin"))
		require.False(t, c.HasRole("owner"))

		got, ok := c.Expiry()
		require.True(t, ok)
		require.True(t, got.Equal(exp))
	})

	t.Run("accepts bearer prefix", func(t *testing.T) {
		t.Parallel()
		c, err := jwtx.ParseUnverified("Bearer " + token)
		require.NoError(t, err)
		require.Equal(t, "user-42", c.Subject)
	})

	t.Run("rejects opaque tokens", func(t *testing.T) {
		t.Parallel()
		_, err := jwtx.ParseUnverified("opaque-session-token")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
		require.False(t, jwtx.LooksLikeJWT("opaque-session-token"))
	})

	t.Run("rejects garbage segments", func(t *testing.T) {
		t.Parallel()
		_, err := jwtx.ParseUnverified("a.b.c")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})
}

func TestValidateExpiry(t *testing.T) {
	t.Parallel()
	now := time.Now()

	tests := []struct {
		name    string
		claims  jwtx.Claims
		wantErr error
	}{
		{
			name: "valid",
			claims: jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
			}},
		},
		{
			name: "expired",
			claims: jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
			}},
			wantErr: jwtx.ErrExpired,
		},
		{
			name: "not yet valid",
			claims: jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{
				NotBefore: jwt.NewNumericDate(now.Add(time.Minute)),
			}},
			wantErr: jwtx.ErrNotYetValid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.claims.ValidateExpiry(now)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("leeway absorbs skew", func(t *testing.T) {
		c := jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		}}
		require.NoError(t, c.ValidateExpiryWithLeeway(now, 30*time.Second))
		require.ErrorIs(t, c.ValidateExpiryWithLeeway(now, time.Second), jwtx.ErrExpired)
	})
}
