package billingsdk

import (
	"encoding/json"
	"regexp"
	"slices"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aussiebroadwan/billing/pkg/jwtx"
)

// PlaceholderName is shown when no naming field can be derived.
const PlaceholderName = "User"

// UserRecord is the denormalized identity snapshot kept by a Session.
type UserRecord struct {
	ID                 string          `json:"id,omitempty"`
	Email              string          `json:"email,omitempty"`
	Username           string          `json:"username,omitempty"`
	FirstName          string          `json:"firstName,omitempty"`
	LastName           string          `json:"lastName,omitempty"`
	Name               string          `json:"name,omitempty"`
	Roles              []string        `json:"roles,omitempty"`
	CustomerID         string          `json:"customerId,omitempty"`
	SubscriptionStatus string          `json:"subscriptionStatus,omitempty"`
	SubscriptionInfo   json.RawMessage `json:"subscriptionInfo,omitempty"`
	Phone              string          `json:"phone,omitempty"`
}

// HasRole reports whether the user holds role.
func (u *UserRecord) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// HasAnyRole reports whether the user holds at least one of roles. An
// empty list always passes.
func (u *UserRecord) HasAnyRole(roles ...string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if u.HasRole(r) {
			return true
		}
	}
	return false
}

// DisplayName returns the name a view should show without mutating u.
func (u UserRecord) DisplayName() string {
	EnsureNameFields(&u)
	return u.Name
}

// Clone returns a deep copy.
func (u *UserRecord) Clone() *UserRecord {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = slices.Clone(u.Roles)
	if u.SubscriptionInfo != nil {
		c.SubscriptionInfo = append(json.RawMessage(nil), u.SubscriptionInfo...)
	}
	return &c
}

var nameSeparators = regexp.MustCompile(`[._\-]+`)

// EnsureNameFields fills Name, FirstName and LastName from whatever the
// record carries, in order: first+last, name, email local part, username.
// With nothing usable the name becomes PlaceholderName.
func EnsureNameFields(u *UserRecord) {
	if u == nil {
		return
	}

	switch {
	case u.FirstName != "" && u.LastName != "":
		if u.Name == "" {
			u.Name = u.FirstName + " " + u.LastName
		}

	case strings.TrimSpace(u.Name) != "":
		first, rest := splitName(u.Name)
		if u.FirstName == "" {
			u.FirstName = first
		}
		if u.LastName == "" {
			u.LastName = rest
		}

	case u.Email != "":
		local, _, _ := strings.Cut(u.Email, "@")
		formatted := titleWords(local)
		if formatted == "" {
			u.Name = PlaceholderName
			return
		}
		u.Name = formatted
		first, rest := splitName(formatted)
		if u.FirstName == "" {
			u.FirstName = first
		}
		if u.LastName == "" {
			u.LastName = rest
		}

	case u.Username != "":
		formatted := titleWords(u.Username)
		if formatted == "" {
			formatted = u.Username
		}
		u.Name = formatted
		u.FirstName = formatted
		u.LastName = ""

	case u.FirstName != "":
		u.Name = u.FirstName

	default:
		u.Name = PlaceholderName
	}
}

func splitName(name string) (first, rest string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// titleWords turns "john.doe" into "John Doe".
func titleWords(s string) string {
	words := strings.Fields(nameSeparators.ReplaceAllString(s, " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if r = strings.TrimSpace(r); r != "" && !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}

// userFromClaims derives the baseline identity from access-token claims.
func userFromClaims(c *jwtx.Claims) UserRecord {
	u := UserRecord{
		ID:         c.Subject,
		Email:      c.Email,
		Username:   c.PreferredUsername,
		FirstName:  c.GivenName,
		LastName:   c.FamilyName,
		Name:       c.Name,
		Roles:      c.Roles(),
		CustomerID: c.CustomerID,
	}
	if len(u.Roles) == 0 {
		u.Roles = nil
	}
	return u
}
