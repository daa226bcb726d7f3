package domain

import (
	"errors"
	"fmt"
)

// Error kinds. The HTTP layer maps each to a status code; engines wrap them
// with operation context via fmt.Errorf and %w.
var (
	ErrUnauthenticated     = errors.New("authentication required")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("resource not found")
	ErrConflict            = errors.New("conflict")
	ErrValidation          = errors.New("invalid input")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Specific errors wrap their kind, so errors.Is works against both the
// sentinel and the kind it belongs to.

// Conversation errors
var (
	ErrNotMember        = fmt.Errorf("%w: not a conversation member", ErrForbidden)
	ErrNotAdmin         = fmt.Errorf("%w: admin role required", ErrForbidden)
	ErrDMImmutable      = fmt.Errorf("%w: direct conversations cannot be modified", ErrValidation)
	ErrAlreadyMember    = fmt.Errorf("%w: user is already a member", ErrConflict)
	ErrEmptyGroupName   = fmt.Errorf("%w: group name is required", ErrValidation)
	ErrInvalidDMMembers = fmt.Errorf("%w: direct conversations have exactly one other member", ErrValidation)
)

// Message errors
var (
	ErrNotSender         = fmt.Errorf("%w: only the sender may do this", ErrForbidden)
	ErrMessageDeleted    = fmt.Errorf("%w: message is deleted", ErrValidation)
	ErrReplyCrossesConv  = fmt.Errorf("%w: reply target is in another conversation", ErrValidation)
	ErrEmptyContent      = fmt.Errorf("%w: content cannot be empty", ErrValidation)
	ErrUnsupportedFile   = fmt.Errorf("%w: file type not allowed", ErrValidation)
	ErrFileTooLarge      = fmt.Errorf("%w: file exceeds the size limit", ErrValidation)
	ErrDuplicateReaction = fmt.Errorf("%w: reaction already exists", ErrConflict)
)

// Poll errors. None wrap ErrConflict: vote handling retries on conflict and
// these must not look like retryable races.
var (
	ErrPollExpired       = fmt.Errorf("%w: poll is closed", ErrValidation)
	ErrSingleChoicePoll  = fmt.Errorf("%w: poll accepts a single option", ErrValidation)
	ErrUnknownPollOption = fmt.Errorf("%w: unknown poll option", ErrValidation)
)

// DomainError wraps a domain error with additional context
type DomainError struct {
	Err     error
	Message string
	Code    string
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a DomainError wrapping err.
func NewDomainError(err error, message, code string) *DomainError {
	return &DomainError{Err: err, Message: message, Code: code}
}
