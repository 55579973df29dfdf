package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrSandbox marks a path that resolves outside the workspace root. The
// executor treats it as a permission failure and aborts the turn.
var ErrSandbox = errors.New("path outside workspace")

// Sandbox confines filesystem and working-directory arguments to a single
// root. A nil Sandbox, or one with an empty root, allows everything.
type Sandbox struct {
	root string
}

// NewSandbox creates a sandbox rooted at root. The root itself is resolved
// through symlinks once so later containment checks compare real paths.
func NewSandbox(root string) *Sandbox {
	if root == "" {
		return &Sandbox{}
	}
	root = expandPath(root)
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	return &Sandbox{root: root}
}

// Root returns the configured workspace root ("" when unrestricted).
func (s *Sandbox) Root() string {
	if s == nil {
		return ""
	}
	return s.root
}

// Enabled reports whether path restriction is active.
func (s *Sandbox) Enabled() bool {
	return s != nil && s.root != ""
}

// Resolve expands and resolves path, then verifies it stays under the
// workspace root. Relative paths resolve against the root. Symlinks in the
// deepest existing ancestor are followed, so a link escaping the root is
// caught even when the leaf does not exist yet.
func (s *Sandbox) Resolve(path string) (string, error) {
	path = expandPath(path)
	if !s.Enabled() {
		return path, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	path = filepath.Clean(path)

	resolved, err := resolveExisting(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	if !isWithin(s.root, resolved) {
		return "", fmt.Errorf("%w: %s", ErrSandbox, path)
	}
	return resolved, nil
}

// resolveExisting follows symlinks on the longest existing prefix of path
// and re-joins the non-existent tail.
func resolveExisting(path string) (string, error) {
	var tail []string
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		tail = append(tail, filepath.Base(current))
		current = parent
	}
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	if abs, err := filepath.Abs(path); err == nil && filepath.IsAbs(path) {
		path = abs
	}
	return path
}

func isWithin(root, path string) bool {
	if root == "" {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
