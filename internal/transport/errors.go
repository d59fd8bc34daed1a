// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorKind categorizes transport errors for handling.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidRequest
	KindConnection
	KindStatus
	KindTimeout
	KindCanceled
	KindDecode
)

// String returns a short name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindConnection:
		return "connection"
	case KindStatus:
		return "status"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// TransportError is returned when a request fails before the stream opens:
// a bad request, a connection failure or a non-2xx status.
type TransportError struct {
	Kind       ErrorKind
	StatusCode int
	Status     string
	Message    string
	Cause      error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Status
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Temporary reports whether the failure is worth retrying by a caller.
// The client itself never retries.
func (e *TransportError) Temporary() bool {
	switch e.Kind {
	case KindConnection, KindTimeout:
		return true
	case KindStatus:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	}
	return false
}

// StreamError is a failure after the stream opened. Partial holds the text
// received before the failure.
type StreamError struct {
	Partial string
	Err     error
}

func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// requestError classifies an error from http.Client.Do.
func requestError(ctx context.Context, err error) *TransportError {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &TransportError{Kind: KindTimeout, Message: "request timed out", Cause: err}
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return &TransportError{Kind: KindCanceled, Message: "request canceled", Cause: err}
	default:
		return &TransportError{Kind: KindConnection, Message: "completion endpoint unreachable", Cause: err}
	}
}

// IsCanceled reports whether err stems from context cancellation or timeout.
func IsCanceled(err error) bool {
	var te *TransportError
	if errors.As(err, &te) && (te.Kind == KindCanceled || te.Kind == KindTimeout) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
