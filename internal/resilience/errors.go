package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// Kind classifies a fetch failure.
type Kind string

// Failure kinds. Timeout, RateLimited and Transient are retryable by default.
const (
	KindTransient   Kind = "transient"
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindParse       Kind = "parse"
	KindNotFound    Kind = "not_found"
	KindPermanent   Kind = "permanent"
)

// ParseKind converts a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindTransient, KindTimeout, KindRateLimited, KindParse, KindNotFound, KindPermanent:
		return k, nil
	}
	return "", eris.Errorf("resilience: unknown error kind %q", s)
}

// Error is a classified failure. Adapters return it so the retry policy can
// decide without inspecting messages.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and the operation that produced it.
func NewError(kind Kind, op string, err error) *Error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return NewError(kind, op, fmt.Errorf(format, args...))
}

// HTTPError classifies a non-2xx HTTP response.
func HTTPError(op string, statusCode int, url string) *Error {
	e := Errorf(KindForStatus(statusCode), op, "http %d from %s", statusCode, url)
	e.StatusCode = statusCode
	return e
}

// KindForStatus maps an HTTP status code to a failure kind.
func KindForStatus(statusCode int) Kind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusGatewayTimeout:
		return KindTimeout
	case statusCode == http.StatusNotFound, statusCode == http.StatusGone:
		return KindNotFound
	case statusCode >= 500:
		return KindTransient
	case statusCode >= 400:
		// Auth failures and malformed queries will not heal on retry.
		return KindPermanent
	default:
		return KindTransient
	}
}

// Classify returns the kind of err. Errors that carry no classification are
// treated as transient.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"i/o timeout", "tls handshake timeout", "deadline exceeded"} {
		if strings.Contains(msg, p) {
			return KindTimeout
		}
	}
	return KindTransient
}

// IsTransient reports whether err classifies as timeout, rate limited, or
// transient.
func IsTransient(err error) bool {
	switch Classify(err) {
	case KindTransient, KindTimeout, KindRateLimited:
		return true
	}
	return false
}

// Class is the coarse error taxonomy used in run results.
type Class string

// Error classes.
const (
	ClassTransient   Class = "transient"
	ClassPermanent   Class = "permanent"
	ClassDataQuality Class = "data_quality"
	ClassExhausted   Class = "exhausted"
)

// ClassOf maps err onto the coarse taxonomy.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	if IsExhausted(err) {
		return ClassExhausted
	}
	if IsTransient(err) {
		return ClassTransient
	}
	return ClassPermanent
}
