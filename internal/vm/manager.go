//go:build libvirt

package vm

import (
	"context"
	"fmt"
	"net"

	"github.com/digitalocean/go-libvirt"
)

// Compile-time interface check.
var _ VMManager = (*LibvirtVMManager)(nil)

// LibvirtVMManager implements VMManager using the go-libvirt pure-Go client.
type LibvirtVMManager struct {
	l          *libvirt.Libvirt
	socketPath string
}

// NewLibvirtVMManager dials the libvirt Unix socket at socketPath and
// performs the connect handshake.
func NewLibvirtVMManager(socketPath string) (*LibvirtVMManager, error) {
	if socketPath == "" {
		return nil, fmt.Errorf("libvirt socket path must not be empty")
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial libvirt socket %q: %w", socketPath, err)
	}

	l := libvirt.New(conn)
	if err := l.Connect(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("libvirt connect: %w", err)
	}

	return &LibvirtVMManager{l: l, socketPath: socketPath}, nil
}

// Close disconnects from the libvirt daemon.
func (m *LibvirtVMManager) Close() error {
	if err := m.l.Disconnect(); err != nil {
		return fmt.Errorf("libvirt disconnect: %w", err)
	}
	return nil
}

// ListVMs returns every domain known to libvirt, active and inactive.
// Domains whose state cannot be read are skipped.
func (m *LibvirtVMManager) ListVMs(ctx context.Context) ([]VM, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list vms: %w", err)
	}

	domains, _, err := m.l.ConnectListAllDomains(1, libvirt.ConnectListDomainsActive|libvirt.ConnectListDomainsInactive)
	if err != nil {
		return nil, fmt.Errorf("list vms: %w", err)
	}

	out := make([]VM, 0, len(domains))
	for _, d := range domains {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("list vms: %w", err)
		}
		state, err := m.domainState(d)
		if err != nil {
			continue
		}
		out = append(out, VM{Name: d.Name, UUID: formatUUID(d.UUID), State: state})
	}
	return out, nil
}

// StopVM asks the guest to shut down via ACPI.
func (m *LibvirtVMManager) StopVM(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("stop vm: %w", err)
	}

	dom, err := m.l.DomainLookupByName(name)
	if err != nil {
		return fmt.Errorf("vm %q not found: %w", name, err)
	}
	if err := m.l.DomainShutdown(dom); err != nil {
		return fmt.Errorf("stop vm %q: %w", name, err)
	}
	return nil
}

// ForceStopVM destroys a domain immediately.
func (m *LibvirtVMManager) ForceStopVM(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("force stop vm: %w", err)
	}

	dom, err := m.l.DomainLookupByName(name)
	if err != nil {
		return fmt.Errorf("vm %q not found: %w", name, err)
	}
	if err := m.l.DomainDestroy(dom); err != nil {
		return fmt.Errorf("force stop vm %q: %w", name, err)
	}
	return nil
}

func (m *LibvirtVMManager) domainState(dom libvirt.Domain) (VMState, error) {
	state, _, err := m.l.DomainGetState(dom, 0)
	if err != nil {
		return "", fmt.Errorf("get domain state: %w", err)
	}
	return libvirtStateToVMState(libvirt.DomainState(state)), nil
}

func libvirtStateToVMState(s libvirt.DomainState) VMState {
	switch s {
	case libvirt.DomainRunning:
		return VMStateRunning
	case libvirt.DomainPaused:
		return VMStatePaused
	case libvirt.DomainCrashed:
		return VMStateCrashed
	case libvirt.DomainPmsuspended:
		return VMStateSuspended
	default:
		return VMStateShutoff
	}
}

// formatUUID renders a 16-byte UUID in 8-4-4-4-12 form.
func formatUUID(uuid [16]byte) string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x", uuid[0:4], uuid[4:6], uuid[6:8], uuid[8:10], uuid[10:16])
}
