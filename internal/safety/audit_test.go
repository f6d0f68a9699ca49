package safety

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func Test_AuditLogger_Log_Cases(t *testing.T) {
	tests := []struct {
		name     string
		entry    AuditEntry
		validate func(t *testing.T, parsed map[string]any)
	}{
		{
			name: "shutdown entry",
			entry: AuditEntry{
				Timestamp: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
				Op:        "ups_shutdown",
				Source:    "watchdog",
				Params:    map[string]any{"reason": "battery low"},
				Result:    "ok",
				Duration:  150 * time.Millisecond,
			},
			validate: func(t *testing.T, parsed map[string]any) {
				t.Helper()
				if parsed["op"] != "ups_shutdown" {
					t.Errorf("op = %v, want ups_shutdown", parsed["op"])
				}
				if parsed["source"] != "watchdog" {
					t.Errorf("source = %v, want watchdog", parsed["source"])
				}
				if parsed["duration_ns"] != float64(150*time.Millisecond) {
					t.Errorf("duration_ns = %v", parsed["duration_ns"])
				}
				params, ok := parsed["params"].(map[string]any)
				if !ok || params["reason"] != "battery low" {
					t.Errorf("params = %v", parsed["params"])
				}
			},
		},
		{
			name: "source omitted when empty",
			entry: AuditEntry{
				Timestamp: time.Now(),
				Op:        "ups_test",
				Result:    "error: ups device not found",
			},
			validate: func(t *testing.T, parsed map[string]any) {
				t.Helper()
				if _, ok := parsed["source"]; ok {
					t.Errorf("source present: %v", parsed["source"])
				}
				if parsed["params"] != nil {
					t.Errorf("params = %v, want null", parsed["params"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewAuditLogger(&buf)
			if logger == nil {
				t.Fatal("NewAuditLogger() returned nil")
			}

			if err := logger.Log(tt.entry); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			out := buf.String()
			if !strings.HasSuffix(out, "\n") || strings.Count(out, "\n") != 1 {
				t.Fatalf("output is not a single JSON line: %q", out)
			}
			var parsed map[string]any
			if err := json.Unmarshal([]byte(out), &parsed); err != nil {
				t.Fatalf("output is not valid JSON: %v", err)
			}
			tt.validate(t, parsed)
		})
	}
}

func Test_AuditLogger_ConcurrentWritesAreLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewAuditLogger(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = logger.Log(AuditEntry{Timestamp: time.Now(), Op: "ups_status", Result: "ok"})
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 20 {
		t.Fatalf("lines = %d, want 20", len(lines))
	}
	for i, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Errorf("line %d is not valid JSON: %q", i, line)
		}
	}
}

func Test_AuditLogger_NilWriter(t *testing.T) {
	logger := NewAuditLogger(nil)
	if logger != nil {
		t.Fatal("NewAuditLogger(nil) should return nil")
	}
	if err := logger.Log(AuditEntry{Op: "ups_test"}); !errors.Is(err, ErrNilWriter) {
		t.Errorf("Log on nil logger error = %v, want ErrNilWriter", err)
	}
}

func Test_OpenAuditLog_AppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.log")

	for i := 0; i < 2; i++ {
		logger, closer, err := OpenAuditLog(path)
		if err != nil {
			t.Fatalf("OpenAuditLog: %v", err)
		}
		if err := logger.Log(AuditEntry{Op: "ups_shutdown", Source: "cli", Result: "ok"}); err != nil {
			t.Fatalf("Log: %v", err)
		}
		if err := closer.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), data)
	}
	var entry AuditEntry
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if entry.Op != "ups_shutdown" || entry.Source != "cli" {
		t.Errorf("entry = %+v", entry)
	}
}
