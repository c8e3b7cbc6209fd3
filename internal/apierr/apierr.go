package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error carries an HTTP status and a stable machine-readable code alongside
// the wrapped cause. Handlers map it directly onto the response envelope.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

const (
	CodeInvalidTransition    = "invalid_transition"
	CodeQualityGateFailed    = "quality_gate_failed"
	CodeTransitionBlocked    = "transition_blocked_by_fraud_flag"
	CodeInsufficientEvidence = "insufficient_evidence"
	CodeAdapterUnavailable   = "adapter_unavailable"
	CodeAnchorFailure        = "anchor_failure"
	CodeNotFound             = "not_found"
	CodeForbidden            = "forbidden"
	CodeBadRequest           = "bad_request"
)

func InvalidTransition(from, to string) *Error {
	return New(http.StatusConflict, CodeInvalidTransition, fmt.Errorf("cannot advance batch from %q to %q", from, to))
}

func QualityGateFailed(score, minimum float64) *Error {
	return New(http.StatusConflict, CodeQualityGateFailed, fmt.Errorf("latest quality score %.1f below minimum acceptable %.1f", score, minimum))
}

func TransitionBlocked(reason string) *Error {
	return New(http.StatusConflict, CodeTransitionBlocked, errors.New(reason))
}

func InsufficientEvidence(reason string) *Error {
	return New(http.StatusUnprocessableEntity, CodeInsufficientEvidence, errors.New(reason))
}

func NotFound(what string) *Error {
	return New(http.StatusNotFound, CodeNotFound, fmt.Errorf("%s not found", what))
}

func Forbidden(reason string) *Error {
	return New(http.StatusForbidden, CodeForbidden, errors.New(reason))
}

func BadRequest(err error) *Error {
	return New(http.StatusBadRequest, CodeBadRequest, err)
}

// CodeOf returns the apierr code wrapped anywhere in err, or "".
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// StatusOf returns the HTTP status wrapped in err, defaulting to 500.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) && ae.Status != 0 {
		return ae.Status
	}
	return http.StatusInternalServerError
}
