package ipc

import "errors"

// Error kinds returned by the message-passing operations. None is fatal;
// the syscall layer maps them to process-visible error numbers.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrPermission      = errors.New("permission denied")
	ErrExhausted       = errors.New("resource exhausted")
	ErrTimedOut        = errors.New("timed out")
	ErrFault           = errors.New("bad address")
)
