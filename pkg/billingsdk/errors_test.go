package billingsdk

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseErrorResponse(t *testing.T) {
	t.Parallel()

	req, _ := http.NewRequest(http.MethodPost, "http://billing.test/users/login", nil)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"spring message", `{"status":401,"error":"Unauthorized","message":"Bad credentials"}`, "Bad credentials"},
		{"oauth description", `{"error":"invalid_grant","error_description":"Refresh token expired"}`, "Refresh token expired"},
		{"problem detail", `{"title":"Conflict","detail":"Email taken"}`, "Email taken"},
		{"plain text", "backend exploded", "backend exploded"},
		{"html page", "<html><body>502</body></html>", http.StatusText(http.StatusBadGateway)},
		{"empty", "", http.StatusText(http.StatusBadGateway)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := &http.Response{StatusCode: http.StatusBadGateway, Request: req}
			apiErr := parseErrorResponse(resp, []byte(tt.body))
			require.Equal(t, tt.want, apiErr.Message)
			require.Equal(t, "/users/login", apiErr.Path)
			require.Equal(t, http.MethodPost, apiErr.Method)
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	t.Run("transport failure is unreachable", func(t *testing.T) {
		err := classify(&url.Error{Op: "Post", URL: "http://x", Err: errors.New("connection refused")}, MsgUnauthorized)
		require.Equal(t, KindUnreachable, err.Kind)
		require.ErrorIs(t, err, ErrUnreachable)
		require.Equal(t, MsgUnreachable, err.Message)
	})

	t.Run("401 uses the caller message", func(t *testing.T) {
		err := classify(&APIError{StatusCode: http.StatusUnauthorized}, "custom")
		require.ErrorIs(t, err, ErrUnauthorized)
		require.Equal(t, "custom", err.Message)
	})

	t.Run("other status keeps backend text", func(t *testing.T) {
		err := classify(&APIError{StatusCode: http.StatusLocked, Message: "Account locked"}, MsgUnauthorized)
		require.ErrorIs(t, err, ErrAuthFailed)
		require.Equal(t, "Account locked", err.Message)
		require.Equal(t, http.StatusLocked, StatusCode(err))
	})

	t.Run("generic status text is replaced", func(t *testing.T) {
		err := classify(&APIError{StatusCode: http.StatusInternalServerError, Message: "Internal Server Error"}, MsgUnauthorized)
		require.Equal(t, MsgLoginFailed, err.Message)
	})

	t.Run("undecodable success body is not unreachable", func(t *testing.T) {
		resp := &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("<html>maintenance</html>")),
		}
		var out loginResponse
		err := classify(decodeJSON(resp, &out), MsgUnauthorized)
		require.Equal(t, KindOther, err.Kind)
		require.NotErrorIs(t, err, ErrUnreachable)
		require.Equal(t, http.StatusOK, err.StatusCode)
		require.Equal(t, MsgLoginFailed, err.Message)
	})

	t.Run("auth errors pass through wrapped", func(t *testing.T) {
		orig := sessionExpired(nil)
		require.Same(t, orig, classify(fmt.Errorf("wrapped: %w", orig), MsgUnauthorized))
	})
}

func TestAuthErrorMatchesOnlyItsKind(t *testing.T) {
	t.Parallel()
	err := error(&AuthError{Kind: KindUnreachable, Err: ErrNoToken})

	require.ErrorIs(t, err, ErrUnreachable)
	require.ErrorIs(t, err, ErrNoToken)
	require.NotErrorIs(t, err, ErrUnauthorized)
	require.NotErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, "unreachable: "+ErrNoToken.Error(), err.Error())
}
