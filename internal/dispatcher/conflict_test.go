package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/forgelabs/engine/internal/ticket"
)

func TestHasFileConflict_OverlappingHintFiles(t *testing.T) {
	a := ticket.Ticket{ID: "a", HintFiles: []string{"internal/api/handler.go"}}
	b := ticket.Ticket{ID: "b", HintFiles: []string{"internal/api/handler.go"}}
	assert.True(t, hasFileConflict(a, []ticket.Ticket{b}))
}

func TestHasFileConflict_DisjointFiles(t *testing.T) {
	a := ticket.Ticket{ID: "a", HintFiles: []string{"internal/api/handler.go"}}
	b := ticket.Ticket{ID: "b", HintFiles: []string{"internal/storage/store.go"}}
	assert.False(t, hasFileConflict(a, []ticket.Ticket{b}))
}

func TestHasFileConflict_IgnoresSelf(t *testing.T) {
	a := ticket.Ticket{ID: "a", HintFiles: []string{"x.go"}}
	assert.False(t, hasFileConflict(a, []ticket.Ticket{a}))
}

func TestHasFileConflict_NoExpectedFilesNeverConflicts(t *testing.T) {
	a := ticket.Ticket{ID: "a"}
	b := ticket.Ticket{ID: "b", HintFiles: []string{"x.go"}}
	assert.False(t, hasFileConflict(a, []ticket.Ticket{b}))
}
