// Package main is the entry point for the upsmon daemon and CLI.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/jamesprial/upsmon/internal/command"
	"github.com/jamesprial/upsmon/internal/config"
	"github.com/jamesprial/upsmon/internal/hid"
	"github.com/jamesprial/upsmon/internal/host"
	"github.com/jamesprial/upsmon/internal/reference"
	"github.com/jamesprial/upsmon/internal/safety"
	"github.com/jamesprial/upsmon/internal/vm"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/upsmon/config.yaml"

var version = "dev"

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "upsmon",
		Short:        "Monitor a HID UPS and power the host off on low battery",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default $UPSMON_CONFIG_PATH or "+defaultConfigPath+")")

	root.AddCommand(
		serveCmd,
		statusCmd,
		testCmd,
		switchSourceCmd,
		shutdownCmd,
		devicesCmd,
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads .env, then the config file from --config,
// UPSMON_CONFIG_PATH or the default path, then applies environment
// overrides and validates the result. A missing file yields the defaults.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("warning: could not read .env: %v", err)
	}

	path := configPath
	if path == "" {
		path = os.Getenv("UPSMON_CONFIG_PATH")
	}
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := config.LoadConfig(path)
	switch {
	case err == nil:
		log.Printf("loaded config from %q", path)
	case errors.Is(err, fs.ErrNotExist):
		log.Printf("config %q not found, using defaults", path)
		cfg = config.DefaultConfig()
	default:
		return nil, err
	}

	if err := config.ApplyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// app holds the components shared by every subcommand.
type app struct {
	cfg      *config.Config
	opener   hid.Opener
	ref      reference.Source
	audit    *safety.AuditLogger
	vmMgr    *vm.LibvirtVMManager
	vmFilter *safety.Filter
	drainer  *vm.Drainer
	closers  []func()
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	ref, err := reference.New(cfg.Reference.Source, cfg.Device.Commands.Reference, cfg.Reference.Static)
	if err != nil {
		return nil, err
	}

	opener := hid.NewHIDOpener(hid.Identity{
		Path:      cfg.Device.Path,
		VendorID:  cfg.Device.VendorID,
		ProductID: cfg.Device.ProductID,
	})

	a := &app{
		cfg:      cfg,
		opener:   opener,
		ref:      ref,
		vmFilter: safety.NewFilter(cfg.Host.VMs.Allowlist, cfg.Host.VMs.Denylist),
	}

	if cfg.Audit.Enabled {
		audit, closer, err := safety.OpenAuditLog(cfg.Audit.LogPath)
		if err != nil {
			log.Printf("warning: %v; audit logging disabled", err)
		} else {
			a.audit = audit
			a.closers = append(a.closers, func() { closer.Close() })
		}
	}

	if cfg.Host.StopVMs {
		mgr, err := vm.NewLibvirtVMManager(cfg.Host.LibvirtSocket)
		if err != nil {
			log.Printf("warning: VM manager unavailable (%v); VMs will not be stopped before power-off", err)
		} else {
			a.vmMgr = mgr
			a.drainer = vm.NewDrainer(mgr, a.vmFilter, cfg.Host.VMStopTimeout.Std())
			a.closers = append(a.closers, func() { mgr.Close() })
		}
	}

	return a, nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// dispatcher builds the command dispatcher with the configured indices,
// audit log, host power-off method and VM drain hook.
func (a *app) dispatcher(opts ...command.Option) (*command.Dispatcher, error) {
	poweroff, err := host.New(a.cfg.Host.Method, a.cfg.Host.Command)
	if err != nil {
		return nil, err
	}

	c := a.cfg.Device.Commands
	all := []command.Option{
		command.WithIndices(command.Indices{
			Telemetry:       c.Telemetry,
			SelfTest:        c.SelfTest,
			SwitchToBattery: c.SwitchToBattery,
			SwitchToMains:   c.SwitchToMains,
			Shutdown:        c.Shutdown,
		}),
		command.WithAudit(a.audit),
	}
	if a.drainer != nil {
		// Leave the drainer time to force-stop stragglers after its own timeout.
		all = append(all,
			command.WithPreShutdown(a.drainer.Drain),
			command.WithHookTimeout(a.cfg.Host.VMStopTimeout.Std()+30*time.Second),
		)
	}
	all = append(all, opts...)

	return command.NewDispatcher(a.opener, poweroff, all...), nil
}
