// Package pathpolicy validates working directories against a runtime
// mutable allow-list. Paths are resolved through the OS real-path
// function so symlinks cannot escape an allowed root.
package pathpolicy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Policy is the externally visible working-directory policy.
type Policy struct {
	Enforced     bool     `json:"enforced"`
	AllowedRoots []string `json:"allowedRoots"`
}

// Store holds the active policy. Safe for concurrent use; Set takes
// effect immediately for subsequent Resolve calls.
type Store struct {
	mu     sync.RWMutex
	policy Policy
}

// NewStore creates a policy store with the given initial policy.
func NewStore(initial Policy) *Store {
	return &Store{policy: initial}
}

// Get returns a copy of the current policy.
func (s *Store) Get() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.policy
	p.AllowedRoots = append([]string(nil), s.policy.AllowedRoots...)
	return p
}

// Set replaces the current policy.
func (s *Store) Set(p Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = Policy{
		Enforced:     p.Enforced,
		AllowedRoots: append([]string(nil), p.AllowedRoots...),
	}
}

// Resolve turns path into an absolute real path and, when the policy is
// enforced, verifies it sits under one of the allowed roots.
func (s *Store) Resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("working directory is empty")
	}

	abs, err := filepath.Abs(expandPlaceholders(path))
	if err != nil {
		return "", fmt.Errorf("resolve working directory %q: %w", path, err)
	}

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("working directory %q does not resolve: %w", path, err)
	}

	info, err := os.Stat(real)
	if err != nil {
		return "", fmt.Errorf("working directory %q: %w", path, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("working directory %q is not a directory", path)
	}

	s.mu.RLock()
	policy := s.policy
	s.mu.RUnlock()

	if !policy.Enforced {
		return real, nil
	}

	for _, root := range policy.AllowedRoots {
		resolvedRoot, err := resolveRoot(root)
		if err != nil {
			continue
		}
		if isWithin(real, resolvedRoot) {
			return real, nil
		}
	}
	return "", fmt.Errorf("working directory %q is outside the allowed roots", path)
}

// resolveRoot expands placeholders and canonicalizes an allow-root. A root
// that does not exist on disk is still usable in its cleaned form.
func resolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(expandPlaceholders(root))
	if err != nil {
		return "", err
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}
	return filepath.Clean(abs), nil
}

func isWithin(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// expandPlaceholders substitutes environment placeholders (TEMP, HOME,
// USERPROFILE) whether written bare, as $NAME, or as %NAME%.
func expandPlaceholders(path string) string {
	for _, name := range []string{"TEMP", "TMP", "HOME", "USERPROFILE"} {
		value := os.Getenv(name)
		if value == "" {
			if name == "TEMP" || name == "TMP" {
				value = os.TempDir()
			} else {
				continue
			}
		}
		path = strings.ReplaceAll(path, "%"+name+"%", value)
		path = strings.ReplaceAll(path, "$"+name, value)
		if path == name {
			path = value
		}
	}
	return path
}
