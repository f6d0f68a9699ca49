package vm

import (
	"context"
	"time"

	"github.com/jamesprial/upsmon/internal/safety"
	"github.com/jamesprial/upsmon/internal/tools"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// VMTools returns the read-only VM tools: the domain list and the drain
// plan that a power-off would execute.
func VMTools(mgr VMManager, drainer *Drainer, filter *safety.Filter, audit *safety.AuditLogger) []tools.Registration {
	return []tools.Registration{
		vmList(mgr, filter, audit),
		vmDrainPlan(drainer, audit),
	}
}

func vmList(mgr VMManager, filter *safety.Filter, audit *safety.AuditLogger) tools.Registration {
	const toolName = "vm_list"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("List the virtual machines on this host that are visible to the monitor."),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		params := map[string]any{}

		vms, err := mgr.ListVMs(ctx)
		if err != nil {
			tools.LogAudit(audit, toolName, params, "error: "+err.Error(), start)
			return tools.ErrorResult(err), nil
		}

		visible := make([]VM, 0, len(vms))
		for _, v := range vms {
			if filter.IsAllowed(v.Name) {
				visible = append(visible, v)
			}
		}

		tools.LogAudit(audit, toolName, params, "ok", start)
		return tools.JSONResult(visible), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func vmDrainPlan(drainer *Drainer, audit *safety.AuditLogger) tools.Registration {
	const toolName = "vm_drain_plan"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Show the running virtual machines that would be stopped before the host powers off."),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		params := map[string]any{}

		plan, err := drainer.Plan(ctx)
		if err != nil {
			tools.LogAudit(audit, toolName, params, "error: "+err.Error(), start)
			return tools.ErrorResult(err), nil
		}
		if plan == nil {
			plan = []VM{}
		}

		tools.LogAudit(audit, toolName, params, "ok", start)
		return tools.JSONResult(plan), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}
