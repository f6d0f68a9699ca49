package vm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jamesprial/upsmon/internal/safety"
	"github.com/mark3labs/mcp-go/mcp"
)

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("first content entry is not TextContent, got %T", res.Content[0])
	}
	return tc.Text
}

func Test_VMTools_Names(t *testing.T) {
	mgr := NewMockVMManager(seedVMs()...)
	regs := VMTools(mgr, NewDrainer(mgr, nil, time.Second), safety.NewFilter(nil, nil), nil)

	var names []string
	for _, r := range regs {
		names = append(names, r.Tool.Name)
		if r.Handler == nil {
			t.Errorf("tool %s has nil handler", r.Tool.Name)
		}
	}
	if strings.Join(names, ",") != "vm_list,vm_drain_plan" {
		t.Errorf("tool names = %v", names)
	}
}

func Test_VMList_HidesFilteredVMs(t *testing.T) {
	mgr := NewMockVMManager(seedVMs()...)
	filter := safety.NewFilter(nil, []string{"windows*"})
	var buf bytes.Buffer
	audit := safety.NewAuditLogger(&buf)

	reg := vmList(mgr, filter, audit)
	res, err := reg.Handler(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}

	var got []VM
	if err := json.Unmarshal([]byte(resultText(t, res)), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for _, v := range got {
		if v.Name == "windows11" {
			t.Error("denied VM listed")
		}
	}
	if !strings.Contains(buf.String(), `"op":"vm_list"`) {
		t.Errorf("audit = %q, want vm_list entry", buf.String())
	}
}

func Test_VMList_ManagerError(t *testing.T) {
	mgr := NewMockVMManager()
	mgr.listErr = errors.New("socket closed")

	res, err := vmList(mgr, safety.NewFilter(nil, nil), nil).Handler(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if text := resultText(t, res); !strings.HasPrefix(text, "error: ") {
		t.Errorf("text = %q, want error result", text)
	}
}

func Test_VMDrainPlan_Cases(t *testing.T) {
	tests := []struct {
		name string
		vms  []VM
		want string
	}{
		{name: "running VMs", vms: seedVMs(), want: "windows11"},
		{name: "empty plan", vms: []VM{{Name: "off", State: VMStateShutoff}}, want: "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewMockVMManager(tt.vms...)
			res, err := vmDrainPlan(NewDrainer(mgr, nil, time.Second), nil).Handler(context.Background(), mcp.CallToolRequest{})
			if err != nil {
				t.Fatalf("handler error = %v", err)
			}
			if text := resultText(t, res); !strings.Contains(text, tt.want) {
				t.Errorf("text = %q, want it to contain %q", text, tt.want)
			}
		})
	}
}
