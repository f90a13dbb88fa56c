package workflow

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrAcquisition: the camera or image file was unavailable or unreadable.
	ErrAcquisition = errors.New("acquisition failed")

	// ErrDetectionInput: the image could not be scaled or detected. Process
	// recovers from it and keeps the previous results.
	ErrDetectionInput = errors.New("invalid detection input")

	// ErrPersistence: results could not be written.
	ErrPersistence = errors.New("persistence failed")

	// ErrPrecondition: the call is not valid in the current state.
	ErrPrecondition = errors.New("precondition not met")
)

// StageError records which pipeline stage failed.
type StageError struct {
	Stage string
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stageErr(stage string, kind, err error) error {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

func precondition(op string, format string, args ...any) error {
	return stageErr(op, ErrPrecondition, fmt.Errorf(format, args...))
}
