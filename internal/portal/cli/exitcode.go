package cli

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/billing/pkg/billingsdk"
)

// Exit codes.
const (
	ExitSuccess     = 0
	ExitError       = 1
	ExitUsage       = 2
	ExitAuth        = 5
	ExitNetwork     = 6
	ExitInterrupted = 130
)

// ExitCode maps an error returned by ExecuteContext to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	if errors.Is(err, ErrLoginRequired) || errors.Is(err, ErrForbidden) {
		return ExitAuth
	}

	var authErr *billingsdk.AuthError
	if errors.As(err, &authErr) {
		if authErr.Kind == billingsdk.KindUnreachable {
			return ExitNetwork
		}
		return ExitAuth
	}

	switch billingsdk.StatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ExitAuth
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unknown command"),
		strings.Contains(msg, "unknown flag"),
		strings.Contains(msg, "invalid flag"),
		strings.Contains(msg, "required flag"),
		strings.Contains(msg, "missing argument"),
		strings.Contains(msg, "accepts "),
		strings.Contains(msg, "invalid") && strings.Contains(msg, " id "):
		return ExitUsage
	}
	return ExitError
}
