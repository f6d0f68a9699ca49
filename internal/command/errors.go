package command

import (
	"fmt"
)

// CommandError reports a failed device command. Op names the operation and
// Index the indexed-string slot that was being read. Command errors are not
// retried.
type CommandError struct {
	Op    string
	Index int
	Err   error
}

func (e *CommandError) Error() string {
	if e.Index == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s (index %d): %v", e.Op, e.Index, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// HostShutdownError reports that the device shutdown was written but the
// host could not be powered off.
type HostShutdownError struct {
	Err error
}

func (e *HostShutdownError) Error() string {
	return fmt.Sprintf("host power-off failed: %v", e.Err)
}

func (e *HostShutdownError) Unwrap() error { return e.Err }
