package jwtx

import (
	"slices"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access-token claims the billing backend issues. The
// backend fronts a Keycloak realm so role lists arrive both realm-wide and
// per resource (client).
type Claims struct {
	jwt.RegisteredClaims

	// Email of the authenticated user
	Email string `json:"email,omitempty"`

	// PreferredUsername is the login name
	PreferredUsername string `json:"preferred_username,omitempty"`

	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Name       string `json:"name,omitempty"`

	// Session ID
	SID string `json:"sid,omitempty"`

	// CustomerID is set by backends that embed the billing identifier.
	CustomerID string `json:"customer_id,omitempty"`

	RealmAccess    RoleSet            `json:"realm_access,omitzero"`
	ResourceAccess map[string]RoleSet `json:"resource_access,omitempty"`
}

// RoleSet is the {"roles": [...]} object used for realm and resource access.
type RoleSet struct {
	Roles []string `json:"roles,omitempty"`
}

// Roles returns the union of realm and resource roles, sorted and
// de-duplicated.
func (c *Claims) Roles() []string {
	seen := make(map[string]struct{})
	for _, r := range c.RealmAccess.Roles {
		seen[r] = struct{}{}
	}
	for _, rs := range c.ResourceAccess {
		for _, r := range rs.Roles {
			seen[r] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for r := range seen {
		if r != "" {
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}

// HasRole reports whether the role appears in any role list.
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles(), role)
}

// Expiry returns the exp claim, if present.
func (c *Claims) Expiry() (time.Time, bool) {
	if c.ExpiresAt == nil {
		return time.Time{}, false
	}
	return c.ExpiresAt.Time, true
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't before nbf.
func (c *Claims) ValidateExpiry(now time.Time) error {
	if c.ExpiresAt != nil && !now.Before(c.ExpiresAt.Time) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}

	return nil
}

// ValidateExpiryWithLeeway adds a small grace period for clock skew.
func (c *Claims) ValidateExpiryWithLeeway(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}
