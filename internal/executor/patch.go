package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgelabs/engine/internal/generator"
)

// ErrSearchNotFound is returned when a modify patch's search text matches
// nowhere in the target file.
type ErrSearchNotFound struct {
	Path string
}

func (e *ErrSearchNotFound) Error() string {
	return fmt.Sprintf("patch: search text not found in %s", e.Path)
}

// ErrSearchAmbiguous is returned when a modify patch's search text matches
// more than once. SPEC_FULL.md §9 resolves the "patch search not unique"
// Open Question to the stricter option: refuse rather than guess.
type ErrSearchAmbiguous struct {
	Path  string
	Count int
}

func (e *ErrSearchAmbiguous) Error() string {
	return fmt.Sprintf("patch: search text matches %d times in %s, refusing to guess", e.Count, e.Path)
}

// ApplyPatches applies every patch in order against files rooted at dir. It
// stops at the first failure, leaving prior patches in this call already
// applied on disk. The caller (Executor) logs an error from here as a warning
// and carries on with the attempt (commit, push, verify).
func ApplyPatches(dir string, patches []generator.Patch) error {
	for _, p := range patches {
		if err := applyOne(dir, p); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(dir string, p generator.Patch) error {
	fullPath := filepath.Join(dir, p.Path)

	switch p.Op {
	case generator.OpCreate:
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
			return fmt.Errorf("patch: create parent dirs for %s: %w", p.Path, err)
		}
		if err := os.WriteFile(fullPath, []byte(p.Replace), 0o640); err != nil {
			return fmt.Errorf("patch: write %s: %w", p.Path, err)
		}
		return nil

	case generator.OpModify:
		raw, err := os.ReadFile(fullPath) // #nosec G304 -- path is relative to a worktree this process created
		if err != nil {
			return fmt.Errorf("patch: read %s: %w", p.Path, err)
		}
		content := string(raw)

		count := strings.Count(content, p.Search)
		switch count {
		case 0:
			return &ErrSearchNotFound{Path: p.Path}
		case 1:
			updated := strings.Replace(content, p.Search, p.Replace, 1)
			if err := os.WriteFile(fullPath, []byte(updated), 0o640); err != nil {
				return fmt.Errorf("patch: write %s: %w", p.Path, err)
			}
			return nil
		default:
			return &ErrSearchAmbiguous{Path: p.Path, Count: count}
		}

	default:
		return fmt.Errorf("patch: unknown op %q for %s", p.Op, p.Path)
	}
}
