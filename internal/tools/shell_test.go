package tools

import (
	"context"
	"strings"
	"testing"
)

func TestShellExecute(t *testing.T) {
	sh := NewShellTool()

	res := sh.Execute(context.Background(), map[string]interface{}{"command": "echo hello"})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Output, "hello") || !strings.Contains(res.Output, "Exit code: 0") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestShellNonZeroExit(t *testing.T) {
	sh := NewShellTool()
	res := sh.Execute(context.Background(), map[string]interface{}{"command": "exit 3"})
	if res.Success {
		t.Fatal("non-zero exit reported success")
	}
	if !strings.Contains(res.Output, "Exit code: 3") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestShellBlockedCommands(t *testing.T) {
	sh := NewShellTool()
	blocked := []string{
		"rm -rf /",
		"mkfs /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
		":(){ :|:& };:",
	}
	for _, cmd := range blocked {
		res := sh.Execute(context.Background(), map[string]interface{}{"command": cmd})
		if res.Success || !strings.Contains(res.Error, "safety filter") {
			t.Errorf("command %q not blocked: %+v", cmd, res)
		}
	}

	// Similar but safe commands pass the filter.
	res := sh.Execute(context.Background(), map[string]interface{}{"command": "echo rm -rf /tmp/x"})
	if !res.Success {
		t.Errorf("safe command blocked: %+v", res)
	}
}

func TestShellTimeout(t *testing.T) {
	sh := NewShellTool()
	res := sh.Execute(context.Background(), map[string]interface{}{
		"command": "sleep 5",
		"timeout": float64(1),
	})
	if res.Success || !strings.Contains(res.Error, "timed out") {
		t.Errorf("result = %+v", res)
	}
}

func TestShellMissingCommand(t *testing.T) {
	sh := NewShellTool()
	if res := sh.Execute(context.Background(), map[string]interface{}{}); res.Success {
		t.Error("missing command succeeded")
	}
}
