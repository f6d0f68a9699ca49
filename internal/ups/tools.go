package ups

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jamesprial/upsmon/internal/command"
	"github.com/jamesprial/upsmon/internal/safety"
	"github.com/jamesprial/upsmon/internal/tools"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	toolNameUPSStatus    = "ups_status"
	toolNameUPSReference = "ups_reference"
	toolNameUPSTest      = command.OpTest
	toolNameUPSSwitch    = command.OpSwitchSource
	toolNameUPSShutdown  = command.OpShutdown
)

// DestructiveTools lists the tools that require a confirmation token.
var DestructiveTools = []string{toolNameUPSSwitch, toolNameUPSShutdown}

// errNoSnapshot is reported while the monitor has not yet decoded a frame.
var errNoSnapshot = errors.New("no telemetry received yet")

// UPSTools returns the tool registrations for the UPS. ups_status and
// ups_reference are read-only; ups_switch_source and ups_shutdown require
// confirmation. audit receives the read-only tools' entries; command
// entries are written by the Commander.
func UPSTools(status StatusReader, cmd Commander, confirm *safety.ConfirmationTracker, audit *safety.AuditLogger) []tools.Registration {
	return []tools.Registration{
		upsStatus(status, audit),
		upsReference(status, audit),
		upsTest(cmd),
		upsSwitchSource(cmd, confirm),
		upsShutdown(cmd, confirm),
	}
}

// upsStatus constructs the ups_status Registration.
func upsStatus(status StatusReader, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool(toolNameUPSStatus,
		mcp.WithDescription("Show the UPS connection state, the latest telemetry, derived power draw and the status of every channel."),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		tools.LogAudit(audit, toolNameUPSStatus, map[string]any{}, "ok", start)
		return tools.JSONResult(status.Status()), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func upsReference(status StatusReader, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool(toolNameUPSReference,
		mcp.WithDescription("Show the reference profile telemetry is classified against in the current epoch."),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		params := map[string]any{}

		st := status.Status()
		if st.Snapshot == nil {
			tools.LogAudit(audit, toolNameUPSReference, params, "error: "+errNoSnapshot.Error(), start)
			return tools.ErrorResult(errNoSnapshot), nil
		}

		ref := st.Snapshot.Reference
		tools.LogAudit(audit, toolNameUPSReference, params, "ok", start)
		return tools.JSONResult(ReferenceView{
			Voltage:           ref.Voltage,
			Current:           ref.Current,
			BatteryVoltage:    ref.BatteryVoltage,
			Frequency:         ref.Frequency,
			ExpectedPowerDraw: st.Snapshot.ExpectedPowerDraw,
			Epoch:             st.Snapshot.Epoch,
		}), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func upsTest(cmd Commander) tools.Registration {
	tool := mcp.NewTool(toolNameUPSTest,
		mcp.WithDescription("Start the UPS battery self-test."),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := cmd.Test(ctx); err != nil {
			return tools.ErrorResult(err), nil
		}
		return mcp.NewToolResultText("UPS self-test started"), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func upsSwitchSource(cmd Commander, confirm *safety.ConfirmationTracker) tools.Registration {
	tool := mcp.NewTool(toolNameUPSSwitch,
		mcp.WithDescription("Toggle the UPS power source between mains and battery. Requires confirmation."),
		mcp.WithString("confirmation_token",
			mcp.Description("Confirmation token returned by a prior call to this tool"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		token := req.GetString("confirmation_token", "")
		if !confirm.Confirm(toolNameUPSSwitch, token) {
			desc := "This will move the load to the other power source (mains to battery, or battery to mains)."
			return tools.ConfirmPrompt(confirm, toolNameUPSSwitch, "ups", desc), nil
		}

		res, err := cmd.SwitchSource(ctx)
		if err != nil {
			return tools.ErrorResult(err), nil
		}
		return tools.JSONResult(res), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler), Destructive: true}
}

func upsShutdown(cmd Commander, confirm *safety.ConfirmationTracker) tools.Registration {
	tool := mcp.NewTool(toolNameUPSShutdown,
		mcp.WithDescription("Shut the UPS down and power off this host. Requires confirmation."),
		mcp.WithString("reason",
			mcp.Description("Free-text reason recorded in the audit log"),
		),
		mcp.WithString("confirmation_token",
			mcp.Description("Confirmation token returned by a prior call to this tool"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		reason := req.GetString("reason", "requested over MCP")
		token := req.GetString("confirmation_token", "")

		if !confirm.Confirm(toolNameUPSShutdown, token) {
			desc := fmt.Sprintf("This will shut the UPS down and power off this host (reason: %s).", reason)
			return tools.ConfirmPrompt(confirm, toolNameUPSShutdown, "ups", desc), nil
		}

		intent := command.ShutdownIntent{Source: command.SourceMCP, Reason: reason, At: start}
		if err := cmd.Shutdown(ctx, intent); err != nil {
			return tools.ErrorResult(err), nil
		}
		return mcp.NewToolResultText("UPS shutdown issued; host power-off requested"), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler), Destructive: true}
}
