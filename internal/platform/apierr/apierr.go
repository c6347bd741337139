package apierr

import (
	"errors"
	"fmt"

	"github.com/seralia/guildmind/internal/pkg/httpx"
)

// Kind classifies a failure for retry and surfacing decisions.
type Kind string

const (
	// KindStorage covers local persistence failures. Fatal for the current
	// operation; the core never retries storage internally.
	KindStorage Kind = "storage"
	// KindNoCredential means the conversation's credential pool is empty.
	KindNoCredential Kind = "no_credential"
	// KindQuota covers quota / resource-exhausted upstream responses. They
	// trigger credential rotation and are otherwise retryable.
	KindQuota Kind = "quota"
	// KindTransient covers timeouts and 5xx-class upstream failures.
	KindTransient Kind = "transient"
	// KindPermanent covers invalid-argument, permission and not-found
	// upstream failures. Never retried.
	KindPermanent Kind = "permanent"
	// KindSafetyBlocked means the upstream safety filter refused the
	// request or response. Permanent from the retry loop's perspective.
	KindSafetyBlocked Kind = "safety_blocked"
	// KindRetryBudget is the synthetic failure raised when the attempt
	// count or wall-clock budget is exhausted.
	KindRetryBudget Kind = "retry_budget"
)

// Error is a classified failure. Status is the upstream HTTP status when one
// exists, zero otherwise.
type Error struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (http %d)", e.Kind, e.Status)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatusCode implements httpx.HTTPStatusCoder.
func (e *Error) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.Status
}

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func NewHTTP(kind Kind, status int, err error) *Error {
	return &Error{Kind: kind, Status: status, Err: err}
}

// KindOf extracts the classification from an error chain. Unclassified
// errors are treated as transient when httpx considers them retryable and
// permanent otherwise, so an unknown failure never loops forever.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if httpx.IsRetryableError(err) {
		return KindTransient
	}
	return KindPermanent
}

// Retryable reports whether the retry loop may absorb this failure.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindQuota, KindTransient:
		return true
	default:
		return false
	}
}

// FromHTTPStatus classifies a non-2xx upstream response.
func FromHTTPStatus(status int, err error) *Error {
	switch {
	case status == 429:
		return NewHTTP(KindQuota, status, err)
	case httpx.IsRetryableHTTPStatus(status):
		return NewHTTP(KindTransient, status, err)
	default:
		return NewHTTP(KindPermanent, status, err)
	}
}

var userMessages = map[Kind]string{
	KindStorage:       "Something went wrong while saving this conversation. Please try again.",
	KindNoCredential:  "No valid API key is configured for this server. Please ask an administrator to add one.",
	KindQuota:         "I'm a bit overwhelmed at the moment. The API rate limit has been exceeded; please try again in a few minutes.",
	KindTransient:     "I'm having trouble connecting to the AI service. This is likely temporary; please try again in a moment.",
	KindPermanent:     "There was a problem with the request. Please check the server's model settings or contact an administrator.",
	KindSafetyBlocked: "I'm sorry, but I can't respond to that due to safety restrictions.",
	KindRetryBudget:   "I'm having trouble responding at the moment. Please try again later.",
}

// UserMessage renders a classified failure as a human-readable message safe
// to show in chat. It never includes credential material or raw upstream
// detail.
func UserMessage(err error) string {
	if msg, ok := userMessages[KindOf(err)]; ok {
		return msg
	}
	return "An unexpected error occurred. Please try again later."
}
