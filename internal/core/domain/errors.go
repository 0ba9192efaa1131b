package domain

import (
	"errors"
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
)

// Error taxonomy. Each sentinel is classified with containerd/errdefs so
// callers can use either errors.Is against the sentinel or the errdefs
// predicates (cerrdefs.IsInvalidArgument, cerrdefs.IsFailedPrecondition).
var (
	// ErrInvalidArgument reports a malformed or capability-incompatible input.
	ErrInvalidArgument = cerrdefs.ErrInvalidArgument

	// ErrInvalidState reports an operation attempted in the wrong lifecycle
	// state, such as registering an extension after the registry is frozen.
	ErrInvalidState = cerrdefs.ErrFailedPrecondition

	// ErrForeignHandle is returned when a completion handle is presented to a
	// bridge that did not produce it.
	ErrForeignHandle = fmt.Errorf("%w: handle was not produced by this bridge", cerrdefs.ErrInvalidArgument)

	// ErrUnavailable reports a host that is not accepting requests.
	ErrUnavailable = cerrdefs.ErrUnavailable

	// ErrPermissionDenied reports a refused request or connection.
	ErrPermissionDenied = cerrdefs.ErrPermissionDenied

	// ErrRegistryFrozen is returned by registrations attempted after freeze.
	ErrRegistryFrozen = fmt.Errorf("%w: extension registry is frozen", cerrdefs.ErrFailedPrecondition)
)

// IsInvalidArgument reports whether err is classified as InvalidArgument.
func IsInvalidArgument(err error) bool {
	return cerrdefs.IsInvalidArgument(err)
}

// IsInvalidState reports whether err is classified as InvalidState.
func IsInvalidState(err error) bool {
	return cerrdefs.IsFailedPrecondition(err)
}

// IsForeignHandle reports whether err came from presenting a handle to the
// wrong bridge.
func IsForeignHandle(err error) bool {
	return errors.Is(err, ErrForeignHandle)
}

// StageFailure describes how a request ended when one of its stages failed.
// Err is the original failure exactly as returned by the extension or
// handler; it is never wrapped.
type StageFailure struct {
	Stage Stage
	Post  bool
	Err   error
}

func (f *StageFailure) Error() string {
	phase := ""
	if f.Post {
		phase = "Post"
	}
	return fmt.Sprintf("stage %s%s failed: %v", phase, f.Stage, f.Err)
}

// Unwrap returns the original failure.
func (f *StageFailure) Unwrap() error { return f.Err }

// DeniedError is returned when a stage refuses a request. Status is the
// response status to send; zero means 403.
type DeniedError struct {
	StageName string
	Reason    string
	Status    int
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("request denied by %s: %s", e.StageName, e.Reason)
}

// Unwrap classifies denials as PermissionDenied.
func (e *DeniedError) Unwrap() error { return cerrdefs.ErrPermissionDenied }

// IsDenied returns true if the error is a stage denial.
func IsDenied(err error) bool {
	var denied *DeniedError
	return errors.As(err, &denied)
}
