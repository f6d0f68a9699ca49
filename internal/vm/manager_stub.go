//go:build !libvirt

package vm

import (
	"context"
	"fmt"
)

// Compile-time interface check.
var _ VMManager = (*LibvirtVMManager)(nil)

// LibvirtVMManager is the libvirt-backed manager. This stub is compiled
// without the libvirt build tag; build with -tags libvirt for production.
type LibvirtVMManager struct{}

// NewLibvirtVMManager always fails in stub builds.
func NewLibvirtVMManager(socketPath string) (*LibvirtVMManager, error) {
	return nil, fmt.Errorf("%w (socket: %s)", ErrLibvirtNotCompiled, socketPath)
}

// Close is a no-op.
func (m *LibvirtVMManager) Close() error { return nil }

// ListVMs always returns ErrLibvirtNotCompiled.
func (m *LibvirtVMManager) ListVMs(context.Context) ([]VM, error) {
	return nil, ErrLibvirtNotCompiled
}

// StopVM always returns ErrLibvirtNotCompiled.
func (m *LibvirtVMManager) StopVM(context.Context, string) error {
	return ErrLibvirtNotCompiled
}

// ForceStopVM always returns ErrLibvirtNotCompiled.
func (m *LibvirtVMManager) ForceStopVM(context.Context, string) error {
	return ErrLibvirtNotCompiled
}
