package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/vektorhq/taskd/internal/model"
)

func TestShellEchoCompletes(t *testing.T) {
	res := Shell(context.Background(), ShellTask{Command: "echo hello"})

	if res.Status != model.LogCompleted {
		t.Fatalf("status = %v, want COMPLETED (stderr=%q)", res.Status, res.Stderr)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0", res.ExitCode)
	}
	if res.Stdout != "hello\n" {
		t.Fatalf("stdout = %q, want %q", res.Stdout, "hello\n")
	}
}

func TestShellNonZeroExitIsFailed(t *testing.T) {
	res := Shell(context.Background(), ShellTask{Command: "false"})

	if res.Status != model.LogFailed {
		t.Fatalf("status = %v, want FAILED", res.Status)
	}
	if res.ExitCode == nil || *res.ExitCode == 0 {
		t.Fatalf("exit code = %v, want nonzero", res.ExitCode)
	}
}

func TestShellMalformedCommandFailsWithoutPanicking(t *testing.T) {
	res := Shell(context.Background(), ShellTask{Command: `echo "unterminated`})

	if res.Status != model.LogFailed {
		t.Fatalf("status = %v, want FAILED for unparseable command", res.Status)
	}
}

func TestShellTimeoutKillsProcess(t *testing.T) {
	res := Shell(context.Background(), ShellTask{Command: "sleep 5", TimeoutSeconds: 1})

	if res.Status != model.LogFailed {
		t.Fatalf("status = %v, want FAILED on timeout", res.Status)
	}
}

func TestShellBackgroundReturnsImmediately(t *testing.T) {
	start := time.Now()
	res := Shell(context.Background(), ShellTask{Command: "sleep 2", RunInBackground: true})
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Fatalf("background dispatch took %v, expected near-immediate return", elapsed)
	}
	if res.Status != model.LogCompleted {
		t.Fatalf("status = %v, want COMPLETED for a launched background process", res.Status)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("exit code = %v, want synthetic 0 for a background dispatch", res.ExitCode)
	}
}

func TestSandboxRejectsParentTraversal(t *testing.T) {
	if _, err := Sandbox("/var/lib/taskd/work", "../../etc"); err == nil {
		t.Fatal("expected Sandbox to reject a path containing '..'")
	}
}

func TestSandboxRejectsAbsolutePath(t *testing.T) {
	if _, err := Sandbox("/var/lib/taskd/work", "/etc/passwd"); err == nil {
		t.Fatal("expected Sandbox to reject an absolute path")
	}
}

func TestSandboxAllowsNestedRelativePath(t *testing.T) {
	dir := t.TempDir()
	got, err := Sandbox(dir, "sub/dir")
	if err != nil {
		t.Fatalf("Sandbox: %v", err)
	}
	want := dir + "/sub/dir"
	if got != want {
		t.Fatalf("Sandbox() = %q, want %q", got, want)
	}
}

func TestSandboxEmptyRelativeResolvesToRoot(t *testing.T) {
	dir := t.TempDir()
	got, err := Sandbox(dir, "")
	if err != nil {
		t.Fatalf("Sandbox: %v", err)
	}
	if got != dir {
		t.Fatalf("Sandbox() = %q, want root %q", got, dir)
	}
}
