package collab

import "errors"

// Kind classifies an operation failure. Every kind is surfaced only to the
// requesting participant; none of them terminate the room.
type Kind string

const (
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	KindInvalidInput     Kind = "INVALID_INPUT"
	KindNotFound         Kind = "NOT_FOUND"
	KindSessionClosed    Kind = "SESSION_CLOSED"
	KindNotAuthorized    Kind = "NOT_AUTHORIZED"
)

type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func permissionDenied(message string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: message}
}

func invalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Message: message}
}

func notFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func sessionClosed(message string) *Error {
	return &Error{Kind: KindSessionClosed, Message: message}
}

func notAuthorized(message string) *Error {
	return &Error{Kind: KindNotAuthorized, Message: message}
}

// KindOf extracts the classification from an error chain, or "" for errors
// that are not collaboration failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
