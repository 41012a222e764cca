package billingsdk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureNameFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    UserRecord
		first string
		last  string
		full  string
	}{
		{
			name:  "first and last",
			in:    UserRecord{FirstName: "Ada", LastName: "Lovelace"},
			first: "Ada", last: "Lovelace", full: "Ada Lovelace",
		},
		{
			name:  "full name split",
			in:    UserRecord{Name: "Grace Brewster Hopper"},
			first: "Grace", last: "Brewster Hopper", full: "Grace Brewster Hopper",
		},
		{
			name:  "from email",
			in:    UserRecord{Email: "john.doe@example.com"},
			first: "John", last: "Doe", full: "John Doe",
		},
		{
			name:  "from username",
			in:    UserRecord{Username: "jane_smith"},
			first: "Jane Smith", full: "Jane Smith",
		},
		{
			name:  "first only",
			in:    UserRecord{FirstName: "Alan"},
			first: "Alan", full: "Alan",
		},
		{
			name: "nothing to go on",
			in:   UserRecord{},
			full: PlaceholderName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			u := tt.in
			EnsureNameFields(&u)
			require.Equal(t, tt.first, u.FirstName)
			require.Equal(t, tt.last, u.LastName)
			require.Equal(t, tt.full, u.Name)
		})
	}
}

func TestUserRecordRoles(t *testing.T) {
	t.Parallel()
	u := UserRecord{Roles: []string{"USER", "BILLING_ADMIN"}}

	require.True(t, u.HasRole("USER"))
	require.False(t, u.HasRole("ADMIN"))
	require.True(t, u.HasAnyRole())
	require.True(t, u.HasAnyRole("ADMIN", "BILLING_ADMIN"))
	require.False(t, u.HasAnyRole("ADMIN"))

	c := u.Clone()
	c.Roles[0] = "CHANGED"
	require.Equal(t, "USER", u.Roles[0])
}

func TestLoginResponseDecoding(t *testing.T) {
	t.Parallel()

	raw := `{
		"access_token": "tok",
		"refreshToken": "rt",
		"expiresIn": "3600",
		"session_id": "s-9",
		"id": 5,
		"user": {"userId": 77, "firstName": "Ada", "customer_id": 42, "roles": ["USER", "USER", " "]}
	}`

	var resp loginResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	require.Equal(t, "tok", resp.accessToken())
	require.Equal(t, "rt", resp.refreshToken())
	require.EqualValues(t, 3600, resp.expiresIn())
	require.Equal(t, "s-9", resp.sessionID())
	require.Equal(t, "42", resp.customerID())

	var u UserRecord
	resp.embeddedUser().overlay(&u)
	require.Equal(t, "77", u.ID)
	require.Equal(t, []string{"USER"}, u.Roles)
}
