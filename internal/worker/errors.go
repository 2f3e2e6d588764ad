package worker

import "github.com/jmgilman/go/errors"

// CodeInstallFailed marks a generation that could not be installed. It is never promoted.
const CodeInstallFailed errors.ErrorCode = "INSTALL_FAILED"

var (
	// ErrNoController is returned when no generation is active.
	ErrNoController = errors.New(errors.CodeUnavailable, "no active cache generation")
	// ErrClosed is returned for events dispatched after Registration.Close.
	ErrClosed = errors.New(errors.CodeUnavailable, "registration is closed")
)
