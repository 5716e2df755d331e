package discussion

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when the status or kind of a discussion forbids an operation.
	ErrInvalidState = errors.New("discussion: invalid state")
	// ErrPermission is returned when the requester may not mutate the target.
	ErrPermission = errors.New("discussion: permission denied")
	// ErrNotFound is returned for an absent discussion or message.
	ErrNotFound = errors.New("discussion: not found")
	// ErrInconsistentReference is returned when a reference required by the operation is missing.
	ErrInconsistentReference = errors.New("discussion: inconsistent reference")
	// ErrAlreadyExpired is returned for an inbound message whose existence duration elapsed before reception.
	ErrAlreadyExpired = errors.New("discussion: message already expired")
	// ErrPredatesRemoteDeletion is returned for an inbound message uploaded before the last remote delete-all.
	ErrPredatesRemoteDeletion = fmt.Errorf("%w: uploaded before the last remote deletion", ErrAlreadyExpired)
)

type StateError struct {
	Operation string
	Status    Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("discussion: %s is not allowed while %s", e.Operation, e.Status)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

func stateError(operation string, s Status) error {
	return &StateError{Operation: operation, Status: s}
}

type PermissionError struct {
	Operation string
	Reason    string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("discussion: %s denied: %s", e.Operation, e.Reason)
}

func (e *PermissionError) Unwrap() error { return ErrPermission }

func permissionError(operation, reason string) error {
	return &PermissionError{Operation: operation, Reason: reason}
}
