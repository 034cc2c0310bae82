// Package api implements the MediaWiki action-API request executor and
// the continuation engine that drives paginated queries.
package api

import (
	"errors"
	"fmt"
	"time"
)

// TransientNetworkError wraps timeouts, connection resets, and 5xx
// responses. The executor retries these automatically; callers only
// see one after the retry budget is exhausted.
type TransientNetworkError struct {
	Site     string
	Action   string
	Attempts int
	Err      error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient failure for %s action=%s after %d attempt(s): %v",
		e.Site, e.Action, e.Attempts, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// RateLimitError reports server-signalled overload (maxlag or an
// explicit rate limit). Handled by throttle backoff; surfaced only
// when retries exhaust.
type RateLimitError struct {
	Site   string
	Action string
	Lag    time.Duration
	Code   string
}

func (e *RateLimitError) Error() string {
	if e.Lag > 0 {
		return fmt.Sprintf("%s rate limited action=%s: replication lag %s", e.Site, e.Action, e.Lag)
	}
	return fmt.Sprintf("%s rate limited action=%s: %s", e.Site, e.Action, e.Code)
}

// AuthError is a fatal authentication failure: login failed after the
// allowed attempts, or credential refresh is exhausted. Never retried
// automatically.
type AuthError struct {
	Site   string
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed for %s: %s: %v", e.Site, e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed for %s: %s", e.Site, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TokenRejectedError reports a stale action token. The executor
// refreshes the token and retries exactly once; a second rejection
// escalates to AuthError.
type TokenRejectedError struct {
	Site string
	Kind string
	Code string
}

func (e *TokenRejectedError) Error() string {
	return fmt.Sprintf("%s rejected %s token (%s)", e.Site, e.Kind, e.Code)
}

// PermissionDeniedError is permanent: the authenticated (or anonymous)
// user lacks the right to perform the action.
type PermissionDeniedError struct {
	Site   string
	Action string
	Code   string
	Info   string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("%s denied action=%s [%s]: %s", e.Site, e.Action, e.Code, e.Info)
}

// InvalidRequestError is permanent: the request itself is malformed
// (unknown action, bad parameter). Never retried.
type InvalidRequestError struct {
	Site   string
	Action string
	Code   string
	Info   string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("%s rejected action=%s [%s]: %s", e.Site, e.Action, e.Code, e.Info)
}

// IsTransient reports whether err will be (or was) retried by the
// executor's transient policy.
func IsTransient(err error) bool {
	var te *TransientNetworkError
	var re *RateLimitError
	return errors.As(err, &te) || errors.As(err, &re)
}

// IsPermanent reports whether err is one of the permanent request
// failures that the executor never retries.
func IsPermanent(err error) bool {
	var pe *PermissionDeniedError
	var ie *InvalidRequestError
	return errors.As(err, &pe) || errors.As(err, &ie)
}

// IsAuth reports whether err is a fatal authentication failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// permission-denied codes the action API uses across modules.
var permissionCodes = map[string]bool{
	"permissiondenied":     true,
	"protectedpage":        true,
	"protectednamespace":   true,
	"cascadeprotected":     true,
	"customcssjsprotected": true,
	"noedit":               true,
	"writeapidenied":       true,
	"readapidenied":        true,
	"blocked":              true,
	"autoblocked":          true,
}

// classifyAPIError maps an action-API error envelope to the typed
// taxonomy. Module-specific continuation keys vary, but error codes
// are stable enough to branch on.
func classifyAPIError(site, action, code, info string, lag time.Duration) error {
	switch {
	case code == "maxlag" || code == "ratelimited" || code == "readonly":
		return &RateLimitError{Site: site, Action: action, Lag: lag, Code: code}
	case code == "badtoken" || code == "notoken":
		return &TokenRejectedError{Site: site, Kind: "csrf", Code: code}
	case code == "assertuserfailed" || code == "assertbotfailed" || code == "mustbeloggedin":
		return &AuthError{Site: site, Reason: fmt.Sprintf("[%s] %s", code, info)}
	case permissionCodes[code]:
		return &PermissionDeniedError{Site: site, Action: action, Code: code, Info: info}
	default:
		return &InvalidRequestError{Site: site, Action: action, Code: code, Info: info}
	}
}
