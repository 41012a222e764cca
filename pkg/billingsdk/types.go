package billingsdk

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// flexString decodes JSON strings and numbers alike. The backend returns
// numeric ids from some endpoints and string ids from others.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }

// flexInt decodes integers sent either as numbers or numeric strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

// flexFloat decodes amounts sent either as numbers or decimal strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimPrefix(string(s), "$"), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// firstNonEmpty returns the first non-blank value.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Credentials are sent to the login endpoint as query parameters.
type Credentials struct {
	Username string
	Password string
}

// backendUser is the loose user shape returned by login, registration and
// profile endpoints.
type backendUser struct {
	ID                 flexString      `json:"id"`
	UserID             flexString      `json:"userId"`
	UserIDSnake        flexString      `json:"user_id"`
	Email              flexString      `json:"email"`
	Username           flexString      `json:"username"`
	FirstName          flexString      `json:"firstName"`
	LastName           flexString      `json:"lastName"`
	Name               flexString      `json:"name"`
	CustomerName       flexString      `json:"customerName"`
	CustomerID         flexString      `json:"customerId"`
	CustomerIDSnake    flexString      `json:"customer_id"`
	SubscriptionStatus flexString      `json:"subscriptionStatus"`
	SubscriptionInfo   json.RawMessage `json:"subscriptionInfo"`
	Phone              flexString      `json:"phone"`
	CustomerPhone      flexString      `json:"customerPhone"`
	Roles              []string        `json:"roles"`
}

// overlay copies every populated field of b onto u.
func (b *backendUser) overlay(u *UserRecord) {
	if b == nil {
		return
	}
	set := func(dst *string, v flexString) {
		if s := strings.TrimSpace(v.String()); s != "" {
			*dst = s
		}
	}
	set(&u.ID, flexString(firstNonEmpty(b.ID.String(), b.UserID.String(), b.UserIDSnake.String())))
	set(&u.Email, b.Email)
	set(&u.Username, b.Username)
	set(&u.FirstName, b.FirstName)
	set(&u.LastName, b.LastName)
	set(&u.Name, b.Name)
	if u.Name == "" {
		set(&u.Name, b.CustomerName)
	}
	set(&u.CustomerID, flexString(firstNonEmpty(b.CustomerID.String(), b.CustomerIDSnake.String())))
	set(&u.SubscriptionStatus, b.SubscriptionStatus)
	set(&u.Phone, flexString(firstNonEmpty(b.Phone.String(), b.CustomerPhone.String())))
	if len(b.SubscriptionInfo) > 0 && !bytes.Equal(b.SubscriptionInfo, []byte("null")) {
		u.SubscriptionInfo = append(json.RawMessage(nil), b.SubscriptionInfo...)
	}
	if len(b.Roles) > 0 {
		u.Roles = normalizeRoles(b.Roles)
	}
}

// isEmpty reports whether no identifying field was decoded.
func (b *backendUser) isEmpty() bool {
	return firstNonEmpty(
		b.ID.String(), b.UserID.String(), b.Email.String(), b.Username.String(),
		b.FirstName.String(), b.LastName.String(), b.Name.String(),
	) == ""
}

// loginResponse accepts every token response shape seen from the backend.
// The login endpoint sends "token", older deployments send "access_token";
// registration and refresh use camelCase variants.
type loginResponse struct {
	backendUser

	Token             flexString `json:"token"`
	AccessToken       flexString `json:"access_token"`
	AccessTokenCamel  flexString `json:"accessToken"`
	RefreshToken      flexString `json:"refresh_token"`
	RefreshTokenCamel flexString `json:"refreshToken"`
	ExpiresIn         flexInt    `json:"expires_in"`
	ExpiresInCamel    flexInt    `json:"expiresIn"`
	SessionID         flexString `json:"sessionId"`
	SessionIDSnake    flexString `json:"session_id"`

	User     *backendUser `json:"user"`
	UserInfo *backendUser `json:"userInfo"`
}

func (r *loginResponse) accessToken() string {
	return firstNonEmpty(r.Token.String(), r.AccessToken.String(), r.AccessTokenCamel.String())
}

func (r *loginResponse) refreshToken() string {
	return firstNonEmpty(r.RefreshToken.String(), r.RefreshTokenCamel.String())
}

func (r *loginResponse) expiresIn() int64 {
	if r.ExpiresIn > 0 {
		return int64(r.ExpiresIn)
	}
	return int64(r.ExpiresInCamel)
}

func (r *loginResponse) sessionID() string {
	return firstNonEmpty(r.SessionID.String(), r.SessionIDSnake.String())
}

// embeddedUser returns the nested user object when present.
func (r *loginResponse) embeddedUser() *backendUser {
	if r.User != nil {
		return r.User
	}
	return r.UserInfo
}

// customerID resolves the billing identifier in priority order: the
// camelCase field, the snake_case field, then the embedded user's id, then
// the top-level id.
func (r *loginResponse) customerID() string {
	var nestedID string
	if u := r.embeddedUser(); u != nil {
		nestedID = firstNonEmpty(u.CustomerID.String(), u.CustomerIDSnake.String(), u.ID.String())
	}
	return firstNonEmpty(
		r.CustomerID.String(),
		r.CustomerIDSnake.String(),
		nestedID,
		r.ID.String(),
	)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken     string `json:"refreshToken,omitempty"`
	CustomerID       string `json:"customerId,omitempty"`
	SessionID        string `json:"sessionId,omitempty"`
	ReleaseLoginSlot bool   `json:"releaseLoginSlot"`
}

// RegisterRequest is the registration form. Phone is sent under both names
// the backend accepts.
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Password  string `json:"password"`
	Phone     string `json:"phone,omitempty"`
}

func (r RegisterRequest) MarshalJSON() ([]byte, error) {
	type plain RegisterRequest
	return json.Marshal(struct {
		plain
		CustomerPhone string `json:"customerPhone,omitempty"`
	}{plain: plain(r), CustomerPhone: r.Phone})
}

// ProfileUpdate carries the editable profile fields. Empty fields are left
// unchanged by the backend.
type ProfileUpdate struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type resetPasswordRequest struct {
	Email string `json:"email"`
}
