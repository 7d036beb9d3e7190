package dispatcher

import (
	"path/filepath"
	"strings"

	"github.com/forgelabs/engine/internal/ticket"
)

// hasFileConflict reports whether candidate's expected file set overlaps
// with any currently in-progress ticket's, per SPEC_FULL.md §12's file-
// conflict enrichment. It is a conservative check: it may flag a conflict
// even when the patterns would not actually touch the same file, by design
// (see patternsOverlap below) — adapted from kanban/conflict.go's
// HasConflict, generalized from kanban.Ticket.Files to ticket.Ticket's
// RAGContext-derived file list.
func hasFileConflict(candidate ticket.Ticket, inProgress []ticket.Ticket) bool {
	candidateFiles := expectedFiles(candidate)
	if len(candidateFiles) == 0 {
		return false
	}
	for _, other := range inProgress {
		if other.ID == candidate.ID {
			continue
		}
		if filesOverlap(candidateFiles, expectedFiles(other)) {
			return true
		}
	}
	return false
}

func expectedFiles(t ticket.Ticket) []string {
	var files []string
	files = append(files, t.HintFiles...)
	if t.RAGContext != nil {
		files = append(files, t.RAGContext.FilesToCreate...)
		files = append(files, t.RAGContext.FilesToModify...)
	}
	return files
}

func filesOverlap(a, b []string) bool {
	for _, patternA := range a {
		for _, patternB := range b {
			if patternsOverlap(patternA, patternB) {
				return true
			}
		}
	}
	return false
}

// patternsOverlap conservatively checks whether two glob-ish path patterns
// could match the same file.
func patternsOverlap(a, b string) bool {
	a = filepath.Clean(a)
	b = filepath.Clean(b)

	if a == b {
		return true
	}
	if isParentPath(a, b) || isParentPath(b, a) {
		return true
	}

	aParts := strings.Split(a, string(filepath.Separator))
	bParts := strings.Split(b, string(filepath.Separator))

	minLen := len(aParts)
	if len(bParts) < minLen {
		minLen = len(bParts)
	}
	common := 0
	for i := 0; i < minLen; i++ {
		if aParts[i] == bParts[i] || aParts[i] == "*" || bParts[i] == "*" || aParts[i] == "**" || bParts[i] == "**" {
			common++
		} else {
			break
		}
	}
	return common == minLen
}

func isParentPath(parent, child string) bool {
	parent = strings.TrimSuffix(parent, "/*")
	parent = strings.TrimSuffix(parent, "/**")
	child = strings.TrimSuffix(child, "/*")
	child = strings.TrimSuffix(child, "/**")
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
