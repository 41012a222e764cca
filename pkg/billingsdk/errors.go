package billingsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies authentication failures.
type ErrorKind int

const (
	// KindOther is any backend failure that is not one of the kinds below.
	KindOther ErrorKind = iota

	// KindUnauthorized means bad credentials or a rejected token.
	KindUnauthorized

	// KindUnreachable means the backend could not be contacted at all.
	// It never triggers a logout.
	KindUnreachable

	// KindSessionExpired means a refresh failed and the session was cleared.
	KindSessionExpired
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindUnreachable:
		return "unreachable"
	case KindSessionExpired:
		return "session_expired"
	default:
		return "other"
	}
}

// Sentinels for errors.Is against an *AuthError of the matching kind.
var (
	ErrUnauthorized   = errors.New("billingsdk: unauthorized")
	ErrUnreachable    = errors.New("billingsdk: backend unreachable")
	ErrSessionExpired = errors.New("billingsdk: session expired")
	ErrAuthFailed     = errors.New("billingsdk: authentication failed")
)

var (
	ErrNoToken        = errors.New("billingsdk: response carried no access token")
	ErrInvalidToken   = errors.New("billingsdk: token claims could not be decoded")
	ErrNoCustomerID   = errors.New("billingsdk: customer id not resolved")
	ErrNoRefreshToken = errors.New("billingsdk: no refresh token")
	ErrNotLoggedIn    = errors.New("billingsdk: not logged in")
)

// User-facing messages.
const (
	MsgUnreachable    = "Cannot connect to authentication server. Please check your connection or ensure the backend is running."
	MsgUnauthorized   = "Invalid username or password."
	MsgSessionExpired = "Session expired. Please login again."
	MsgLoginFailed    = "Login failed. Please try again."
)

// AuthError is returned by the session manager for login, refresh and
// authenticated requests.
type AuthError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is lets callers match on the kind sentinels.
func (e *AuthError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	case ErrUnreachable:
		return e.Kind == KindUnreachable
	case ErrSessionExpired:
		return e.Kind == KindSessionExpired
	case ErrAuthFailed:
		return e.Kind == KindOther
	}
	return false
}

func sessionExpired(cause error) *AuthError {
	return &AuthError{Kind: KindSessionExpired, Message: MsgSessionExpired, Err: cause}
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// DecodeError is a 2xx response whose body could not be decoded. The
// backend answered, so it is never treated as unreachable.
type DecodeError struct {
	StatusCode int
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response (HTTP %d): %v", e.StatusCode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StatusCode extracts the HTTP status from err, 0 when the request never got
// a response.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return decodeErr.StatusCode
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.StatusCode
	}
	return 0
}

// errorBody covers the error shapes the backend emits: Spring's default
// error document, the billing ErrorResponse and OAuth2 style errors.
type errorBody struct {
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Detail           string `json:"detail"`
}

// parseErrorResponse builds an *APIError from a non-2xx response body.
func parseErrorResponse(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if resp.Request != nil {
		apiErr.Method = resp.Request.Method
		apiErr.Path = resp.Request.URL.Path
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		for _, m := range []string{eb.Message, eb.ErrorDescription, eb.Detail, eb.Error} {
			if m != "" {
				apiErr.Message = m
				return apiErr
			}
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" && len(text) <= 200 && !strings.HasPrefix(text, "<") {
		apiErr.Message = text
		return apiErr
	}

	apiErr.Message = http.StatusText(resp.StatusCode)
	return apiErr
}

// classify maps a transport or API failure of an auth call into an
// *AuthError. unauthorizedMsg is used for 401 responses.
func classify(err error, unauthorizedMsg string) *AuthError {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}

	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return &AuthError{Kind: KindOther, StatusCode: decodeErr.StatusCode, Message: MsgLoginFailed, Err: err}
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return &AuthError{Kind: KindUnreachable, Message: MsgUnreachable, Err: err}
	}

	switch apiErr.StatusCode {
	case http.StatusUnauthorized:
		return &AuthError{Kind: KindUnauthorized, StatusCode: apiErr.StatusCode, Message: unauthorizedMsg, Err: err}
	default:
		msg := apiErr.Message
		if msg == "" || msg == http.StatusText(apiErr.StatusCode) {
			msg = MsgLoginFailed
		}
		return &AuthError{Kind: KindOther, StatusCode: apiErr.StatusCode, Message: msg, Err: err}
	}
}
