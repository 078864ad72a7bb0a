package app

import (
	"errors"
	"fmt"
	"net/http"

	"atelier/api/internal/collab"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// fromCollab translates a room failure into its HTTP shape. Unclassified
// errors pass through untouched and surface as 500s.
func fromCollab(err error) error {
	if err == nil {
		return nil
	}
	var collabErr *collab.Error
	if !errors.As(err, &collabErr) {
		return err
	}
	switch collabErr.Kind {
	case collab.KindPermissionDenied:
		return domainError(http.StatusForbidden, string(collabErr.Kind), collabErr.Message, nil)
	case collab.KindNotAuthorized:
		return domainError(http.StatusForbidden, string(collabErr.Kind), collabErr.Message, nil)
	case collab.KindInvalidInput:
		return domainError(http.StatusBadRequest, string(collabErr.Kind), collabErr.Message, nil)
	case collab.KindNotFound:
		return domainError(http.StatusNotFound, string(collabErr.Kind), collabErr.Message, nil)
	case collab.KindSessionClosed:
		return domainError(http.StatusConflict, string(collabErr.Kind), collabErr.Message, nil)
	default:
		return err
	}
}
