package event

import (
	"errors"
	"net/textproto"
	"strings"
)

var (
	// ErrMalformed marks a payload that is not a valid envelope.
	ErrMalformed = errors.New("malformed status change envelope")

	// ErrUnknownStatus marks an envelope whose status tag is outside the closed set.
	ErrUnknownStatus = errors.New("unknown status tag")

	// ErrInvalidState marks a locally detected condition that no retry can fix,
	// such as a dispatcher missing its destination.
	ErrInvalidState = errors.New("invalid local state")
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable reports whether a dispatch failure may succeed on a later attempt.
// Decode failures and invalid local state never do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var p *permanentError
	if errors.As(err, &p) {
		return false
	}
	return !errors.Is(err, ErrInvalidState) &&
		!errors.Is(err, ErrMalformed) &&
		!errors.Is(err, ErrUnknownStatus)
}

// Reason maps a failure to a low-cardinality label for metrics and dead letters.
func Reason(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, ErrMalformed) || errors.Is(err, ErrUnknownStatus) {
		return "decode"
	}
	if errors.Is(err, ErrInvalidState) {
		return "invalid_state"
	}

	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		switch code := sc.StatusCode(); {
		case code >= 500:
			return "http_5xx"
		case code == 429:
			return "http_429"
		case code >= 400:
			return "http_4xx"
		}
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return "smtp"
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "timeout"), strings.Contains(errLower, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errLower, "connection refused"):
		return "connection_refused"
	case strings.Contains(errLower, "no such host"), strings.Contains(errLower, "dns"):
		return "dns_error"
	case strings.Contains(errLower, "dial"), strings.Contains(errLower, "connection reset"):
		return "network"
	}
	return "other"
}
