package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

var (
	ErrUpstreamUnavailable = errors.New("llm upstream unavailable")
	ErrMalformedResponse   = errors.New("llm response malformed")
)

// UpstreamError wraps a failed provider call. StatusCode is zero when the
// request never produced an HTTP response.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s API error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s API error: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamUnavailable }

// Retryable reports whether the failure is transient.
func (e *UpstreamError) Retryable() bool {
	switch {
	case e.StatusCode == 408, e.StatusCode == 409, e.StatusCode == 429, e.StatusCode >= 500:
		return true
	case e.StatusCode > 0:
		return false
	}
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) || errors.Is(e.Err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr)
}

type MalformedResponseError struct {
	Template string
	Field    string
	Err      error
	Raw      string
}

func (e *MalformedResponseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed %s response (field %s): %v", e.Template, e.Field, e.Err)
	}
	return fmt.Sprintf("malformed %s response: %v", e.Template, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

func (e *MalformedResponseError) Is(target error) bool { return target == ErrMalformedResponse }

func asUpstreamError(provider string, err error) *UpstreamError {
	var up *UpstreamError
	if errors.As(err, &up) {
		return up
	}
	return &UpstreamError{Provider: provider, Err: err}
}
