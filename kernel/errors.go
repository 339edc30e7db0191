package kernel

import "orion/kernel/ipc"

// The kernel surfaces the shared error taxonomy so callers never import
// subsystem packages just to match errors.
var (
	ErrInvalidArgument = ipc.ErrInvalidArgument
	ErrNotFound        = ipc.ErrNotFound
	ErrPermission      = ipc.ErrPermission
	ErrExhausted       = ipc.ErrExhausted
	ErrTimedOut        = ipc.ErrTimedOut
	ErrFault           = ipc.ErrFault
)
