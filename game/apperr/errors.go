// Package apperr defines the precondition failures returned by the social
// services. Each carries a stable code that clients can switch on and the
// HTTP status the REST layer answers with.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a precondition or lookup failure. Values are compared by code, so
// both the sentinels and copies made with WithMsg satisfy errors.Is.
type Error struct {
	Code   string
	Status int
	Msg    string
}

func (e *Error) Error() string { return e.Msg }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithMsg returns a copy of e carrying a more specific message.
func (e *Error) WithMsg(format string, args ...any) *Error {
	return &Error{Code: e.Code, Status: e.Status, Msg: fmt.Sprintf(format, args...)}
}

func newErr(code string, status int, msg string) *Error {
	return &Error{Code: code, Status: status, Msg: msg}
}

// Friend graph.
var (
	ErrAlreadyFriendsOrPending = newErr("ALREADY_FRIENDS_OR_PENDING", http.StatusConflict, "already friends or request pending")
	ErrNotSender               = newErr("NOT_SENDER", http.StatusForbidden, "only the sender can cancel this request")
	ErrNotRecipient            = newErr("NOT_RECIPIENT", http.StatusForbidden, "only the recipient can answer this request")
	ErrAlreadyAccepted         = newErr("ALREADY_ACCEPTED", http.StatusConflict, "request already accepted")
	ErrNotFriends              = newErr("NOT_FRIENDS", http.StatusConflict, "not friends")
	ErrRequestNotFound         = newErr("REQUEST_NOT_FOUND", http.StatusNotFound, "friend request not found")
)

// Group membership.
var (
	ErrNotFriend     = newErr("NOT_FRIEND", http.StatusForbidden, "every member must be a friend of the creator")
	ErrNotAdmin      = newErr("NOT_ADMIN", http.StatusForbidden, "admin rights required")
	ErrNotMember     = newErr("NOT_MEMBER", http.StatusForbidden, "not a member of this group")
	ErrAlreadyMember = newErr("ALREADY_MEMBER", http.StatusConflict, "already a member")
)

// General.
var (
	ErrNotFound        = newErr("NOT_FOUND", http.StatusNotFound, "not found")
	ErrInvalidArgument = newErr("INVALID_ARGUMENT", http.StatusBadRequest, "invalid argument")
	ErrInternal        = newErr("INTERNAL", http.StatusInternalServerError, "internal error")
)

// From extracts an *Error from err. Anything else maps to ErrInternal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal
}
