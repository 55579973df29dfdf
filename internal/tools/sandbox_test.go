package tools

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSandboxRelativeResolvesUnderRoot(t *testing.T) {
	root := t.TempDir()
	sb := NewSandbox(root)

	got, err := sb.Resolve("notes.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.HasPrefix(got, sb.Root()) {
		t.Errorf("resolved path %q not under root %q", got, sb.Root())
	}
}

func TestSandboxTraversalRejected(t *testing.T) {
	sb := NewSandbox(t.TempDir())

	for _, path := range []string{
		"../../etc/passwd",
		"/etc/passwd",
		"sub/../../outside.txt",
	} {
		if _, err := sb.Resolve(path); !errors.Is(err, ErrSandbox) {
			t.Errorf("Resolve(%q) = %v, want ErrSandbox", path, err)
		}
	}
}

func TestSandboxSymlinkEscapeRejected(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlink unsupported: %v", err)
	}

	sb := NewSandbox(root)
	if _, err := sb.Resolve("escape/secret.txt"); !errors.Is(err, ErrSandbox) {
		t.Errorf("symlink escape resolved to %v, want ErrSandbox", err)
	}
}

func TestSandboxDisabledPassesThrough(t *testing.T) {
	sb := NewSandbox("")
	if sb.Enabled() {
		t.Fatal("empty root must disable the sandbox")
	}
	if _, err := sb.Resolve("/etc/passwd"); err != nil {
		t.Errorf("disabled sandbox must not restrict: %v", err)
	}
}

func TestSandboxNonexistentLeafAllowed(t *testing.T) {
	sb := NewSandbox(t.TempDir())
	got, err := sb.Resolve("new/dir/file.txt")
	if err != nil {
		t.Fatalf("Resolve of nonexistent leaf: %v", err)
	}
	if !strings.HasPrefix(got, sb.Root()) {
		t.Errorf("resolved path %q not under root", got)
	}
}
