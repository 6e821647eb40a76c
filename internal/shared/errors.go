package shared

import (
	"context"
	"errors"
	"fmt"
)

var (
	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTokenExpired     = fmt.Errorf("access token expired")
	ErrInvalidState     = fmt.Errorf("invalid state parameter")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrNoTracks           = fmt.Errorf("no tracks found")
	ErrSessionNotFound    = fmt.Errorf("session not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// Code classifies a failure of the submit/authorize/generate flow.
type Code string

const (
	CodeNavigation   Code = "navigation"
	CodePopupClosed  Code = "popup_closed"
	CodeAuthError    Code = "auth_error"
	CodeNetwork      Code = "network"
	CodeFinishFailed Code = "finish_generation_failed"
	CodeTimedOut     Code = "timed_out"
	CodeRateLimited  Code = "rate_limited"
	CodeRejected     Code = "rejected"
	CodeUnknown      Code = "unknown"
)

// Sub-reasons for [CodeFinishFailed] and [CodeAuthError].
const (
	ReasonNoPrompt   = "no_prompt"
	ReasonNoClient   = "no_spotify_client"
	ReasonBadPayload = "unexpected_payload"
)

// FlowError is a classified failure carrying a user-facing message.
type FlowError struct {
	Code    Code
	Reason  string
	Message string
	Err     error
}

// NewFlowError builds a [FlowError] with the given code and message.
func NewFlowError(code Code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// WithReason returns e with its sub-reason set.
func (e *FlowError) WithReason(reason string) *FlowError {
	e.Reason = reason
	return e
}

// Wrap returns e with err recorded as the underlying cause.
func (e *FlowError) Wrap(err error) *FlowError {
	e.Err = err
	return e
}

func (e *FlowError) Error() string {
	msg := string(e.Code)
	if e.Reason != "" {
		msg += "(" + e.Reason + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// CodeOf reports the [Code] of err.
//
// Context cancellation counts as [CodePopupClosed]: closing the terminal is closing the auth window.
// Anything unclassified is [CodeUnknown].
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	if errors.Is(err, context.Canceled) {
		return CodePopupClosed
	}
	return CodeUnknown
}

// ReasonOf reports the sub-reason of err, or "" when err is not a [FlowError].
func ReasonOf(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}

// MessageOf returns the user-facing message carried by err, or fallback.
func MessageOf(err error, fallback string) string {
	var fe *FlowError
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	return fallback
}
