package gateway

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed gateway call for the relay's status
// bookkeeping.
type ErrorKind int

const (
	// KindAuthFailure: 401 from the gateway (expired bearer token or bad
	// API key).
	KindAuthFailure ErrorKind = iota
	// KindRateLimited: 429, the batch must be deferred, not failed.
	KindRateLimited
	// KindUnreachable: timeout or connection level failure.
	KindUnreachable
	// KindUpstreamRejected: any other non-2xx response.
	KindUpstreamRejected
	// KindMalformedResponse: a 2xx whose body could not be decoded.
	KindMalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthFailure:
		return "auth_failure"
	case KindRateLimited:
		return "rate_limited"
	case KindUnreachable:
		return "unreachable"
	case KindUpstreamRejected:
		return "upstream_rejected"
	case KindMalformedResponse:
		return "malformed_response"
	}
	return "unknown"
}

// Error is a classified gateway failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway %s: %s", e.Kind, e.Message)
}

func kindOf(err error) (ErrorKind, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return 0, false
}

func IsAuthFailure(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindAuthFailure
}

func IsRateLimited(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindRateLimited
}

func IsUnreachable(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindUnreachable
}

func IsMalformedResponse(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindMalformedResponse
}
