// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so the gateway can pick the right response
// without parsing error strings.
type ErrorKind string

const (
	// KindInvalidScope marks a malformed scope/identifier combination.
	// User input error; reported verbatim, never retried.
	KindInvalidScope ErrorKind = "invalid_scope"

	// KindConversationNotFound marks a stale or forged conversation id.
	KindConversationNotFound ErrorKind = "conversation_not_found"

	// KindScopeMismatch marks a request whose scope/ids disagree with the
	// stored conversation binding.
	KindScopeMismatch ErrorKind = "scope_mismatch"

	// KindUpstreamTimeout marks an embedding/generation dependency that
	// exceeded its deadline.
	KindUpstreamTimeout ErrorKind = "upstream_timeout"

	// KindUpstreamError marks any other embedding/generation failure.
	KindUpstreamError ErrorKind = "upstream_error"

	// KindIndexUnavailable marks an unreachable document index. Retrieval
	// degrades to empty results instead of failing the request.
	KindIndexUnavailable ErrorKind = "index_unavailable"
)

// Error is the structured error crossing component boundaries: a kind plus
// a human-readable message, optionally wrapping a cause. Raw errors from
// dependencies never cross the gateway boundary.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

// NewError creates an Error with no underlying cause.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates an Error wrapping the underlying cause.
func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// IsKind reports whether err is (or wraps) an Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or KindUpstreamError when err carries no
// structured kind. The fallback keeps the gateway's terminal events well
// formed even for unexpected failures.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUpstreamError
}
