package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
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

func errInvalidStatus() *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_STATUS", "Invalid status value", nil)
}

func errInsufficientNominations(required, count int) *DomainError {
	return domainError(http.StatusBadRequest, "INSUFFICIENT_NOMINATIONS",
		"This beatmap does not have enough nominations.",
		map[string]any{"required": required, "count": count})
}

func errNotYetQualified() *DomainError {
	return domainError(http.StatusBadRequest, "NOT_YET_QUALIFIED",
		"This beatmap is not yet ranked. Try to qualify it first!", nil)
}

func errForbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func errNotFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what, nil)
}

func errSelfReward() *DomainError {
	return domainError(http.StatusBadRequest, "SELF_REWARD",
		"You cannot reward kudosu for this post.", nil)
}

func errAlreadyRewarded() *DomainError {
	return domainError(http.StatusBadRequest, "ALREADY_REWARDED",
		"You have already rewarded kudosu for this post.", nil)
}

func errAlreadyRevoked() *DomainError {
	return domainError(http.StatusBadRequest, "ALREADY_REVOKED",
		"Kudosu for this post has already been revoked.", nil)
}

func errNoPriorPost() *DomainError {
	return domainError(http.StatusBadRequest, "NO_PRIOR_POST",
		"There is no earlier post to compare against.", nil)
}

func errNoEntries() *DomainError {
	return domainError(http.StatusBadRequest, "NO_ENTRIES",
		"This post has no kudosu entries.", nil)
}

// storeError keeps typed outcomes intact and folds everything else
// coming out of the persistence layer into a single retryable error.
// Missing rows become NOT_FOUND; a transition that hits any other
// store failure is aborted wholesale and the caller retries it.
func storeError(err error, what string) error {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound(what)
	}
	return domainError(http.StatusServiceUnavailable, "PERSISTENCE_UNAVAILABLE",
		"The operation could not be completed, try again later.", nil)
}
