// Package ups exposes the UPS monitor and its device commands as MCP tools.
package ups

import (
	"context"

	"github.com/jamesprial/upsmon/internal/command"
	"github.com/jamesprial/upsmon/internal/monitor"
)

// StatusReader returns the monitor's latest connection state and snapshot.
type StatusReader interface {
	Status() monitor.Status
}

// Commander issues device commands.
type Commander interface {
	Test(ctx context.Context) error
	SwitchSource(ctx context.Context) (command.SwitchResult, error)
	Shutdown(ctx context.Context, intent command.ShutdownIntent) error
}

// Compile-time interface checks.
var (
	_ StatusReader = (*monitor.Latest)(nil)
	_ Commander    = (*command.Dispatcher)(nil)
)

// ReferenceView is the reference profile together with its derived
// expected power draw.
type ReferenceView struct {
	Voltage           float64 `json:"voltage"`
	Current           float64 `json:"current"`
	BatteryVoltage    float64 `json:"battery_voltage"`
	Frequency         float64 `json:"frequency"`
	ExpectedPowerDraw float64 `json:"expected_power_draw"`
	Epoch             uint64  `json:"epoch"`
}
