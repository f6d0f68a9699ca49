// Package host powers off the machine running the monitor.
package host

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"

	"github.com/godbus/dbus/v5"
)

// Power-off methods accepted by New.
const (
	MethodLogind  = "logind"
	MethodCommand = "command"
	MethodDryRun  = "dry_run"
)

// DefaultCommand is run by the command method when none is configured.
const DefaultCommand = "shutdown -h now"

const (
	logindDest   = "org.freedesktop.login1"
	logindPath   = dbus.ObjectPath("/org/freedesktop/login1")
	logindMethod = "org.freedesktop.login1.Manager.PowerOff"
)

// PowerOffer powers off the host.
type PowerOffer interface {
	PowerOff(ctx context.Context) error
}

// Compile-time interface checks.
var (
	_ PowerOffer = (*Logind)(nil)
	_ PowerOffer = (*Command)(nil)
	_ PowerOffer = DryRun{}
)

// Logind asks systemd-logind over the system bus to power off.
type Logind struct {
	// Connect opens the system bus. Nil uses dbus.ConnectSystemBus.
	Connect func(ctx context.Context) (*dbus.Conn, error)
}

// PowerOff calls org.freedesktop.login1.Manager.PowerOff without
// interactive authorisation.
func (l *Logind) PowerOff(ctx context.Context) error {
	connect := l.Connect
	if connect == nil {
		connect = func(ctx context.Context) (*dbus.Conn, error) {
			return dbus.ConnectSystemBus(dbus.WithContext(ctx))
		}
	}

	conn, err := connect(ctx)
	if err != nil {
		return fmt.Errorf("connect system bus: %w", err)
	}
	defer conn.Close()

	obj := conn.Object(logindDest, logindPath)
	if err := obj.CallWithContext(ctx, logindMethod, 0, false).Err; err != nil {
		return fmt.Errorf("logind power off: %w", err)
	}
	return nil
}

// Command runs an external program to power off.
type Command struct {
	Argv []string
}

// PowerOff runs the command and reports its output on failure.
func (c *Command) PowerOff(ctx context.Context) error {
	if len(c.Argv) == 0 {
		return errors.New("power-off command is empty")
	}
	out, err := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %q: %w: %s", strings.Join(c.Argv, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// DryRun logs instead of powering off.
type DryRun struct{}

// PowerOff logs the request.
func (DryRun) PowerOff(context.Context) error {
	log.Printf("host: dry run: power-off suppressed")
	return nil
}

// New returns the PowerOffer for method. command is split on whitespace and
// only used by MethodCommand.
func New(method, command string) (PowerOffer, error) {
	switch method {
	case "", MethodLogind:
		return &Logind{}, nil
	case MethodCommand:
		if strings.TrimSpace(command) == "" {
			command = DefaultCommand
		}
		return &Command{Argv: strings.Fields(command)}, nil
	case MethodDryRun:
		return DryRun{}, nil
	default:
		return nil, fmt.Errorf("unknown power-off method %q", method)
	}
}
