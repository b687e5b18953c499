// Package syncerr defines the error taxonomy shared by the synchronization engine.
//
// Every error returned by the adapters, the translation tracker, the subscription
// manager and the runtime loader is one of the types below (possibly wrapped), so
// callers can branch on it with errors.As or the Is* helpers and decide whether to
// retry locally, surface the problem to the user or log and continue.
package syncerr

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies an error class. Codes are strings so they serialize naturally
// in the status API.
type Code string

const (
	// CodeAuth indicates a missing, expired or rejected credential.
	CodeAuth Code = "AUTH"

	// CodeNotFound indicates that upstream does not know the requested parent id.
	CodeNotFound Code = "NOT_FOUND"

	// CodeTransient indicates a connection failure, timeout or 5xx response.
	CodeTransient Code = "TRANSIENT_NETWORK"

	// CodeTranslationFailed indicates that upstream reported the translation job as failed.
	CodeTranslationFailed Code = "TRANSLATION_FAILED"

	// CodeTimeout indicates that polling exceeded its attempt or time ceiling.
	CodeTimeout Code = "TIMEOUT"

	// CodeSubscription indicates a non-fatal subscription failure.
	CodeSubscription Code = "SUBSCRIPTION"

	// CodeRuntimeLoad indicates the parsing runtime could not be loaded.
	CodeRuntimeLoad Code = "RUNTIME_LOAD"
)

// AuthError is returned when the credential is empty, expired or rejected upstream.
// It is never retried by the engine; the caller refreshes the credential and retries.
type AuthError struct {
	Reason string
	// StatusCode is the upstream status, 0 when the request was never sent.
	StatusCode int
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed (HTTP %d): %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// NotFoundError is returned when upstream does not know the requested resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// TransientNetworkError wraps connection resets, timeouts and 5xx responses.
// Idempotent operations may retry it.
type TransientNetworkError struct {
	Op         string
	StatusCode int
	// RetryAfter is the upstream hint, zero when none was given.
	RetryAfter time.Duration
	Err        error
}

func (e *TransientNetworkError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: transient upstream failure (HTTP %d): %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: transient upstream failure (HTTP %d)", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s: transient network failure: %v", e.Op, e.Err)
	}
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// TranslationFailure is the terminal result of a job that upstream reported as failed.
type TranslationFailure struct {
	JobID    string
	URN      string
	Attempts int
	// Message is the last message reported by upstream.
	Message string
	// Cause is set when the job failed because of a non-retryable poll error.
	Cause error
}

func (e *TranslationFailure) Error() string {
	return fmt.Sprintf("translation %s for %s failed after %d attempt(s): %s", e.JobID, e.URN, e.Attempts, e.Message)
}

func (e *TranslationFailure) Unwrap() error {
	return e.Cause
}

// TimeoutError is the terminal result of a job that exceeded its polling budget.
type TimeoutError struct {
	JobID       string
	URN         string
	Attempts    int
	Elapsed     time.Duration
	LastMessage string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("translation %s for %s timed out after %d attempt(s) (%s); last status: %s",
		e.JobID, e.URN, e.Attempts, e.Elapsed.Round(time.Millisecond), e.LastMessage)
}

// SubscriptionError reports a subscription failure. It is logged at warning level;
// local registry state is consistent when it is returned.
type SubscriptionError struct {
	Source   string
	StreamID string
	Op       string
	Err      error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s on %s/%s failed: %v", e.Op, e.Source, e.StreamID, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// RuntimeLoadError is returned once the runtime fetch exhausted its retries.
// It disables geometry parsing only.
type RuntimeLoadError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *RuntimeLoadError) Error() string {
	return fmt.Sprintf("failed to load parser runtime from %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *RuntimeLoadError) Unwrap() error {
	return e.Err
}

// IsAuth reports whether err is, or wraps, an AuthError.
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsTransient reports whether err is, or wraps, a TransientNetworkError.
func IsTransient(err error) bool {
	var target *TransientNetworkError
	return errors.As(err, &target)
}

// CodeOf returns the taxonomy code of err, or an empty code for foreign errors.
// Envelope errors take precedence over the cause they wrap.
func CodeOf(err error) Code {
	var (
		authErr      *AuthError
		notFoundErr  *NotFoundError
		transientErr *TransientNetworkError
		failure      *TranslationFailure
		timeoutErr   *TimeoutError
		subErr       *SubscriptionError
		runtimeErr   *RuntimeLoadError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &timeoutErr):
		return CodeTimeout
	case errors.As(err, &failure):
		return CodeTranslationFailed
	case errors.As(err, &runtimeErr):
		return CodeRuntimeLoad
	case errors.As(err, &subErr):
		return CodeSubscription
	case errors.As(err, &authErr):
		return CodeAuth
	case errors.As(err, &notFoundErr):
		return CodeNotFound
	case errors.As(err, &transientErr):
		return CodeTransient
	default:
		return ""
	}
}
