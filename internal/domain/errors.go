/**
 * @description
 * Error taxonomy shared by the core, relay and services tiers. Every error that crosses
 * a tier boundary is classified into one Kind so that handlers can map it to a stable
 * status code and category without inspecting messages.
 */

package domain

import (
	"errors"
	"fmt"
)

// Kind is the stable category of an error as seen by callers.
type Kind string

const (
	KindInvalidInput          Kind = "invalid_input"
	KindNotFound              Kind = "not_found"
	KindPolicyViolation       Kind = "policy_violation"
	KindUnauthorized          Kind = "unauthorized"
	KindDownstreamUnreachable Kind = "downstream_unreachable"
	KindInternal              Kind = "internal"
)

// Error is a classified error. Message is safe to show to the caller; Cause is not.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches two classified errors by kind and message so that sentinels survive
// being re-created on the far side of an HTTP hop.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

var (
	ErrInvalidAmount         = &Error{Kind: KindInvalidInput, Message: "amount must be a positive value with at most two decimal places"}
	ErrMissingAccount        = &Error{Kind: KindInvalidInput, Message: "source and target account numbers are required"}
	ErrUnsupportedTransfer   = &Error{Kind: KindInvalidInput, Message: "only internal overbooking transfers are supported"}
	ErrSameAccount           = &Error{Kind: KindPolicyViolation, Message: "source and target accounts must be different"}
	ErrCurrencyMismatch      = &Error{Kind: KindPolicyViolation, Message: "account currency does not match the requested currency"}
	ErrInsufficientFunds     = &Error{Kind: KindPolicyViolation, Message: "insufficient balance"}
	ErrAccountInactive       = &Error{Kind: KindPolicyViolation, Message: "account is not active"}
	ErrAccountNotFound       = &Error{Kind: KindNotFound, Message: "account not found"}
	ErrCustomerNotFound      = &Error{Kind: KindNotFound, Message: "customer not found"}
	ErrAccountAlreadyExists  = &Error{Kind: KindPolicyViolation, Message: "account already exists"}
	ErrUnauthorized          = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrDownstreamUnreachable = &Error{Kind: KindDownstreamUnreachable, Message: "downstream system unreachable; outcome unknown"}
)

// NewError builds a classified error with a caller-safe message.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies cause under kind, keeping message caller-safe.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the category of err. Unclassified errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns the caller-safe message for err. Internal errors never expose detail.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal server error"
}
