package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jamesprial/upsmon/internal/command"
	"github.com/jamesprial/upsmon/internal/hid"
	"github.com/jamesprial/upsmon/internal/monitor"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Read one telemetry frame and print the classified snapshot",
	RunE:  runStatus,
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Start the UPS battery self-test",
	RunE:  runTest,
}

var switchSourceCmd = &cobra.Command{
	Use:   "switch-source",
	Short: "Toggle the UPS between mains and battery power",
	RunE:  runSwitchSource,
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Shut the UPS down and power off this host",
	RunE:  runShutdown,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List HID devices matching the configured vendor and product",
	RunE:  runDevices,
}

var (
	shutdownYes    bool
	shutdownReason string
)

func init() {
	shutdownCmd.Flags().BoolVar(&shutdownYes, "yes", false, "confirm the shutdown")
	shutdownCmd.Flags().StringVar(&shutdownReason, "reason", "requested from the command line", "reason recorded in the audit log")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := monitor.ReadOnce(cmd.Context(), a.opener, a.ref, a.cfg.Device.Commands.Telemetry, a.cfg.Thresholds)
	if err != nil {
		return err
	}
	return printJSON(snap)
}

func runTest(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	disp, err := a.dispatcher()
	if err != nil {
		return err
	}
	if err := disp.Test(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("self-test started")
	return nil
}

func runSwitchSource(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	disp, err := a.dispatcher()
	if err != nil {
		return err
	}
	res, err := disp.SwitchSource(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("switched from %s to %s (index %d)\n", res.From, res.To, res.Index)
	return nil
}

func runShutdown(cmd *cobra.Command, _ []string) error {
	if !shutdownYes {
		return errors.New("refusing to shut down without --yes")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	disp, err := a.dispatcher()
	if err != nil {
		return err
	}
	intent := command.ShutdownIntent{Source: command.SourceCLI, Reason: shutdownReason, At: time.Now()}
	return disp.Shutdown(cmd.Context(), intent)
}

func runDevices(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	devices, err := hid.Enumerate(cfg.Device.VendorID, cfg.Device.ProductID)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return fmt.Errorf("%w: no device matches %s", hid.ErrNotFound,
			hid.Identity{VendorID: cfg.Device.VendorID, ProductID: cfg.Device.ProductID})
	}
	return printJSON(devices)
}
