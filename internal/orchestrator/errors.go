package orchestrator

import (
	"errors"
	"fmt"

	"agentline/internal/engine"
	"agentline/internal/engine/auth"
	"agentline/internal/llm"
)

type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindAccessDenied     ErrorKind = "access_denied"
	KindTimeout          ErrorKind = "timeout"
	KindRateLimited      ErrorKind = "rate_limited"
	KindUnavailable      ErrorKind = "unavailable"
	KindGenerationFailed ErrorKind = "generation_failed"
)

const msgGenerationFailed = "The assistant produced a response that could not be processed. Please try again."

// TurnError is the only error type Chat and Onboard return. UserMessage is
// safe to show; Err keeps the cause for logs.
type TurnError struct {
	Kind        ErrorKind
	UserMessage string
	Err         error
}

func (e *TurnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind) + ": " + e.UserMessage
}

func (e *TurnError) Unwrap() error { return e.Err }

func validationError(format string, args ...any) *TurnError {
	msg := fmt.Sprintf(format, args...)
	return &TurnError{Kind: KindValidation, UserMessage: msg, Err: errors.New(msg)}
}

// lookupError classifies failures while loading turn inputs.
func lookupError(err error) *TurnError {
	var (
		denied    auth.AccessDeniedError
		invalidID auth.InvalidIDError
		invalid   engine.ValidationError
	)
	switch {
	case errors.As(err, &denied):
		return &TurnError{Kind: KindAccessDenied, UserMessage: denied.Error(), Err: err}
	case errors.As(err, &invalidID), errors.As(err, &invalid):
		return &TurnError{Kind: KindValidation, UserMessage: err.Error(), Err: err}
	}
	return &TurnError{Kind: KindUnavailable, UserMessage: "The service is temporarily unavailable. Please try again shortly.", Err: err}
}

func providerError(err error) *TurnError {
	te := &TurnError{UserMessage: llm.UserMessage(err), Err: err}
	switch llm.Classify(err) {
	case llm.ClassTimeout:
		te.Kind = KindTimeout
	case llm.ClassRateLimited:
		te.Kind = KindRateLimited
	case llm.ClassRejected:
		te.Kind = KindGenerationFailed
	default:
		te.Kind = KindUnavailable
	}
	return te
}

func generationError(err error) *TurnError {
	return &TurnError{Kind: KindGenerationFailed, UserMessage: msgGenerationFailed, Err: err}
}
