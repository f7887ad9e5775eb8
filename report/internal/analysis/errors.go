package analysis

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a completion failure. Kinds are assigned where the
// failure is observed, from status codes and API error codes, never by
// matching message substrings downstream.
type ErrorKind string

const (
	KindCredentials ErrorKind = "credentials"
	KindRateLimit   ErrorKind = "rate_limit"
	KindQuota       ErrorKind = "quota"
	KindConnection  ErrorKind = "connection"
	KindRegion      ErrorKind = "region"
	KindGeneric     ErrorKind = "generic"
)

// Terminal reports whether retrying the same request can ever succeed.
func (k ErrorKind) Terminal() bool {
	return k == KindCredentials || k == KindQuota
}

// UserMessage is the operator-facing explanation for the kind.
func (k ErrorKind) UserMessage() string {
	switch k {
	case KindCredentials:
		return "AI provider rejected the configured credentials; check the API key"
	case KindRateLimit:
		return "AI provider rate limit reached; the task will be retried"
	case KindQuota:
		return "AI provider quota exhausted; analysis is unavailable until the quota resets"
	case KindConnection:
		return "could not reach the AI provider; the task will be retried"
	case KindRegion:
		return "AI provider does not serve this region"
	default:
		return "AI provider returned an unexpected error"
	}
}

// Error carries the kind alongside the underlying failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("analysis: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify returns the ErrorKind of err, or KindGeneric when err carries none.
func Classify(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindGeneric
}

// kindForStatus maps an HTTP response to an ErrorKind. The optional API
// error code refines ambiguous statuses (429 is quota when the provider
// says so, rate limit otherwise).
func kindForStatus(status int, apiCode string) ErrorKind {
	switch status {
	case 401, 403:
		if apiCode == "unsupported_country_region_territory" {
			return KindRegion
		}
		return KindCredentials
	case 429:
		if apiCode == "insufficient_quota" {
			return KindQuota
		}
		return KindRateLimit
	}
	if status >= 500 {
		return KindConnection
	}
	return KindGeneric
}
