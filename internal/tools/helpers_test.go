package tools_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jamesprial/upsmon/internal/safety"
	"github.com/jamesprial/upsmon/internal/tools"
	"github.com/mark3labs/mcp-go/mcp"
)

// ---------------------------------------------------------------------------
// Test helper: extract text from a *mcp.CallToolResult
// ---------------------------------------------------------------------------

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatal("CallToolResult is nil")
	}
	if len(result.Content) == 0 {
		t.Fatal("CallToolResult.Content is empty")
	}
	tc, ok := mcp.AsTextContent(result.Content[0])
	if !ok {
		t.Fatalf("Content[0] is %T, want mcp.TextContent", result.Content[0])
	}
	return tc.Text
}

var tokenPattern = regexp.MustCompile(`confirmation_token="([a-f0-9]+)"`)

func extractToken(t *testing.T, text string) string {
	t.Helper()
	m := tokenPattern.FindStringSubmatch(text)
	if len(m) < 2 {
		t.Fatalf("no confirmation_token found in text:\n%s", text)
	}
	return m[1]
}

// ---------------------------------------------------------------------------
// JSONResult
// ---------------------------------------------------------------------------

func Test_JSONResult_Cases(t *testing.T) {
	type reading struct {
		Channel string  `json:"channel"`
		Value   float64 `json:"value"`
	}

	tests := []struct {
		name  string
		input any
		want  string
	}{
		{name: "integer", input: 42, want: "42"},
		{name: "string", input: "on battery", want: `"on battery"`},
		{name: "bool", input: true, want: "true"},
		{name: "nil", input: nil, want: "null"},
		{name: "struct is indented", input: reading{Channel: "battery_voltage", Value: 13.7}, want: "{\n  \"channel\": \"battery_voltage\",\n  \"value\": 13.7\n}"},
		{name: "empty slice", input: []string{}, want: "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resultText(t, tools.JSONResult(tt.input)); got != tt.want {
				t.Errorf("JSONResult(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func Test_JSONResult_Unmarshalable(t *testing.T) {
	text := resultText(t, tools.JSONResult(make(chan int)))
	if !strings.HasPrefix(text, "error marshaling result:") {
		t.Errorf("JSONResult(chan) = %q, want marshal error text", text)
	}
}

// ---------------------------------------------------------------------------
// ErrorResult
// ---------------------------------------------------------------------------

func Test_ErrorResult_Cases(t *testing.T) {
	errs := []error{
		errors.New("device not found"),
		fmt.Errorf("ups_shutdown (index 24): %w", errors.New("read failed")),
	}

	for _, err := range errs {
		t.Run(err.Error(), func(t *testing.T) {
			result := tools.ErrorResult(err)
			if !result.IsError {
				t.Error("IsError = false, want true")
			}
			if got := resultText(t, result); got != "error: "+err.Error() {
				t.Errorf("ErrorResult(%v) = %q, want %q", err, got, "error: "+err.Error())
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

func Test_DestructiveNames(t *testing.T) {
	regs := []tools.Registration{
		{Tool: mcp.NewTool("ups_status")},
		{Tool: mcp.NewTool("ups_switch_source"), Destructive: true},
		{Tool: mcp.NewTool("ups_shutdown"), Destructive: true},
	}

	got := tools.DestructiveNames(regs)
	want := []string{"ups_switch_source", "ups_shutdown"}
	if len(got) != len(want) {
		t.Fatalf("DestructiveNames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("DestructiveNames[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if got := tools.DestructiveNames(nil); len(got) != 0 {
		t.Errorf("DestructiveNames(nil) = %v, want empty", got)
	}
}

// ---------------------------------------------------------------------------
// LogAudit
// ---------------------------------------------------------------------------

func Test_LogAudit_NilLogger_NoPanic(t *testing.T) {
	tools.LogAudit(nil, "ups_status", map[string]any{}, "ok", time.Now())
}

func Test_LogAudit_ValidLogger_Cases(t *testing.T) {
	tests := []struct {
		name     string
		toolName string
		params   map[string]any
		result   string
		validate func(t *testing.T, parsed map[string]any)
	}{
		{
			name:     "basic entry is written",
			toolName: "ups_status",
			params:   map[string]any{},
			result:   "ok",
			validate: func(t *testing.T, parsed map[string]any) {
				t.Helper()
				if parsed["op"] != "ups_status" {
					t.Errorf("op = %v, want %q", parsed["op"], "ups_status")
				}
				if parsed["source"] != tools.SourceMCP {
					t.Errorf("source = %v, want %q", parsed["source"], tools.SourceMCP)
				}
				if parsed["result"] != "ok" {
					t.Errorf("result = %v, want %q", parsed["result"], "ok")
				}
			},
		},
		{
			name:     "params are preserved",
			toolName: "ups_shutdown",
			params:   map[string]any{"reason": "maintenance", "confirmed": true},
			result:   "ok",
			validate: func(t *testing.T, parsed map[string]any) {
				t.Helper()
				params, ok := parsed["params"].(map[string]any)
				if !ok {
					t.Fatalf("params is %T, want map[string]any", parsed["params"])
				}
				if params["reason"] != "maintenance" || params["confirmed"] != true {
					t.Errorf("params = %v", params)
				}
			},
		},
		{
			name:     "error result kept verbatim",
			toolName: "ups_test",
			params:   nil,
			result:   "error: device not found",
			validate: func(t *testing.T, parsed map[string]any) {
				t.Helper()
				if parsed["result"] != "error: device not found" {
					t.Errorf("result = %v", parsed["result"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			audit := safety.NewAuditLogger(&buf)

			tools.LogAudit(audit, tt.toolName, tt.params, tt.result, time.Now().Add(-time.Millisecond))

			var parsed map[string]any
			if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &parsed); err != nil {
				t.Fatalf("audit output is not valid JSON: %v\noutput: %s", err, buf.String())
			}
			if d, _ := parsed["duration_ns"].(float64); d <= 0 {
				t.Errorf("duration_ns = %v, want > 0", parsed["duration_ns"])
			}
			tt.validate(t, parsed)
		})
	}
}

func Test_LogAudit_TimestampMatchesStart(t *testing.T) {
	var buf bytes.Buffer
	audit := safety.NewAuditLogger(&buf)

	start := time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)
	tools.LogAudit(audit, "ups_status", nil, "ok", start)

	var parsed struct {
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &parsed); err != nil {
		t.Fatalf("audit output is not valid JSON: %v", err)
	}
	if !parsed.Timestamp.Equal(start) {
		t.Errorf("timestamp = %v, want %v", parsed.Timestamp, start)
	}
}

// ---------------------------------------------------------------------------
// ConfirmPrompt
// ---------------------------------------------------------------------------

func Test_ConfirmPrompt_StandardPrompt(t *testing.T) {
	confirm := safety.NewConfirmationTracker([]string{"ups_shutdown"})

	text := resultText(t, tools.ConfirmPrompt(confirm, "ups_shutdown", "ups", "cut output power"))

	required := []string{
		"Confirmation required for ups_shutdown",
		`"ups"`,
		"cut output power",
		"call ups_shutdown again",
		"confirmation_token=",
	}
	for _, substr := range required {
		if !strings.Contains(text, substr) {
			t.Errorf("result text missing %q\nfull text:\n%s", substr, text)
		}
	}
}

func Test_ConfirmPrompt_TokenUnique(t *testing.T) {
	confirm := safety.NewConfirmationTracker([]string{"ups_shutdown"})

	token1 := extractToken(t, resultText(t, tools.ConfirmPrompt(confirm, "ups_shutdown", "ups", "x")))
	token2 := extractToken(t, resultText(t, tools.ConfirmPrompt(confirm, "ups_shutdown", "ups", "x")))

	if token1 == token2 {
		t.Errorf("two prompts returned the same token %q", token1)
	}
}

func Test_ConfirmPrompt_TokenConsumable(t *testing.T) {
	confirm := safety.NewConfirmationTracker([]string{"ups_switch_source"})

	token := extractToken(t, resultText(t, tools.ConfirmPrompt(confirm, "ups_switch_source", "ups", "switch")))

	if !confirm.Confirm("ups_switch_source", token) {
		t.Error("Confirm should return true on first use")
	}
	if confirm.Confirm("ups_switch_source", token) {
		t.Error("Confirm should return false on second use")
	}
}

func Test_ConfirmPrompt_TokenBoundToTool(t *testing.T) {
	confirm := safety.NewConfirmationTracker([]string{"ups_switch_source", "ups_shutdown"})

	token := extractToken(t, resultText(t, tools.ConfirmPrompt(confirm, "ups_switch_source", "ups", "switch")))

	if confirm.Confirm("ups_shutdown", token) {
		t.Error("a switch-source token confirmed a shutdown")
	}
}
