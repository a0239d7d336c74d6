package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var ErrTimeout = errors.New("llm: request timed out")

// ProviderError is a non-2xx answer from a model API.
type ProviderError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: status %d: %s: %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *ProviderError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.Type == "rate_limit_error" || e.Type == "RESOURCE_EXHAUSTED"
}

// Unavailable covers 5xx and the vendor-specific overloaded status 529.
func (e *ProviderError) Unavailable() bool {
	return e.StatusCode >= 500 || e.Type == "overloaded_error"
}

type Class string

const (
	ClassNone        Class = ""
	ClassTimeout     Class = "timeout"
	ClassRateLimited Class = "rate_limited"
	ClassUnavailable Class = "unavailable"
	ClassRejected    Class = "rejected"
)

const (
	msgTimeout     = "The assistant is taking too long to respond. Please try a simpler request."
	msgRateLimited = "Too many requests right now. Please wait a moment and try again."
	msgUnavailable = "The assistant is temporarily unavailable. Please try again shortly."
	msgRejected    = "The assistant could not process this request."
)

// Classify sorts a provider failure into one of the user-facing classes.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassTimeout
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch {
		case pe.RateLimited():
			return ClassRateLimited
		case pe.Unavailable():
			return ClassUnavailable
		}
		return ClassRejected
	}
	return ClassUnavailable
}

// UserMessage maps a provider failure to text safe to show an end user.
func UserMessage(err error) string {
	switch Classify(err) {
	case ClassNone:
		return ""
	case ClassTimeout:
		return msgTimeout
	case ClassRateLimited:
		return msgRateLimited
	case ClassRejected:
		return msgRejected
	}
	return msgUnavailable
}

// wrapTransport turns deadline expiry into ErrTimeout.
func wrapTransport(ctx context.Context, provider string, err error) error {
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", provider, ErrTimeout)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%s: %w", provider, ErrTimeout)
	}
	return fmt.Errorf("%s request: %w", provider, err)
}
