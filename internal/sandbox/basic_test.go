package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resolved(p string) string {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	return p
}

func TestRunScript_RunsInConversationDirectory(t *testing.T) {
	base := t.TempDir()
	manager, err := NewBasicSandboxManager(base)
	if err != nil {
		t.Fatalf("NewBasicSandboxManager failed: %v", err)
	}

	sb, err := manager.Setup("conv/../1")
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if filepath.Dir(sb.RootPath) != filepath.Clean(base) {
		t.Fatalf("conversation id escaped sandbox base: %s", sb.RootPath)
	}

	res, err := manager.RunScript(context.Background(), "conv/../1", "sh", "pwd\necho done", ".sh", 5*time.Second)
	if err != nil {
		t.Fatalf("RunScript failed: %v", err)
	}
	lines := strings.Split(res.Output, "\n")
	if len(lines) != 2 || resolved(lines[0]) != resolved(sb.RootPath) || lines[1] != "done" {
		t.Fatalf("unexpected output %q (root %s)", res.Output, sb.RootPath)
	}
	if res.ExitCode != 0 || res.TimedOut {
		t.Fatalf("unexpected result: %+v", res)
	}

	entries, _ := os.ReadDir(sb.RootPath)
	if len(entries) != 0 {
		t.Fatalf("script file should be removed after run, found %d entries", len(entries))
	}
}

func TestRunScript_ReportsExitCodeAndTimeout(t *testing.T) {
	manager, err := NewBasicSandboxManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewBasicSandboxManager failed: %v", err)
	}

	res, err := manager.RunScript(context.Background(), "c1", "sh", "echo oops >&2\nexit 3", ".sh", 5*time.Second)
	if err != nil {
		t.Fatalf("RunScript failed: %v", err)
	}
	if res.ExitCode != 3 || res.Output != "oops" {
		t.Fatalf("unexpected result: %+v", res)
	}

	res, err = manager.RunScript(context.Background(), "c1", "sh", "sleep 5", ".sh", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("RunScript failed: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected timeout, got %+v", res)
	}
}

func TestRunScript_BadCommand(t *testing.T) {
	manager, err := NewBasicSandboxManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewBasicSandboxManager failed: %v", err)
	}
	if _, err := manager.RunScript(context.Background(), "c1", "", "x", ".py", time.Second); err == nil {
		t.Fatal("expected error for empty command")
	}
	if _, err := manager.RunScript(context.Background(), "c1", "definitely-not-a-binary-xyz", "x", ".py", time.Second); err == nil {
		t.Fatal("expected error for missing interpreter")
	}
	if _, err := manager.RunScript(context.Background(), "c1", `python3 "unterminated`, "x", ".py", time.Second); err == nil {
		t.Fatal("expected error for unparsable command")
	}
}

func TestTeardownRemovesDirectory(t *testing.T) {
	manager, err := NewBasicSandboxManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewBasicSandboxManager failed: %v", err)
	}
	sb, err := manager.Setup("c2")
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := manager.Teardown("c2"); err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}
	if _, err := os.Stat(sb.RootPath); !os.IsNotExist(err) {
		t.Fatalf("sandbox dir still exists: %v", err)
	}
	if err := manager.Teardown("missing"); err != nil {
		t.Fatalf("Teardown of unknown conversation should be a no-op: %v", err)
	}
}
