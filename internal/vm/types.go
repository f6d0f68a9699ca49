// Package vm stops virtual machines through libvirt before the host is
// powered off.
package vm

import (
	"context"
	"errors"
)

// ErrLibvirtNotCompiled is returned when the binary was built without the
// libvirt build tag.
var ErrLibvirtNotCompiled = errors.New("libvirt support not compiled: rebuild with -tags libvirt")

// VMState represents the current state of a virtual machine.
type VMState string

const (
	VMStateRunning   VMState = "running"
	VMStateShutoff   VMState = "shutoff"
	VMStatePaused    VMState = "paused"
	VMStateCrashed   VMState = "crashed"
	VMStateSuspended VMState = "suspended"
)

// VM is the summary of a virtual machine.
type VM struct {
	Name  string  `json:"name"`
	UUID  string  `json:"uuid"`
	State VMState `json:"state"`
}

// VMManager is the subset of VM operations needed to drain a host before
// power-off.
type VMManager interface {
	ListVMs(ctx context.Context) ([]VM, error)
	StopVM(ctx context.Context, name string) error
	ForceStopVM(ctx context.Context, name string) error
}
