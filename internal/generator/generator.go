// Package generator defines the Generator external collaborator interface
// (SPEC_FULL.md §6): given a ticket and its RAG context, produce a patch
// description for the executor to apply. It is grounded in
// agents/provider/provider.go's Provider interface (usage tracking,
// Available gating, provider-agnostic request/response shape) rather than
// reimplementing a specific model client — the Engine only needs a stable
// seam, same as the teacher's BaseProvider/Provider split.
package generator

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FileOp is one file-level operation the generator asks the executor to
// perform (SPEC_FULL.md §9's patch Open Question: "create" or "modify").
type FileOp string

const (
	OpCreate FileOp = "create"
	OpModify FileOp = "modify"
)

// Patch is one unit of a generator's response: either a whole new file
// (OpCreate, Search empty) or a search/replace edit against an existing file
// (OpModify).
type Patch struct {
	Path    string
	Op      FileOp
	Search  string // empty for OpCreate
	Replace string
}

// Request carries everything the generator needs to produce patches for one
// ticket attempt.
type Request struct {
	TicketID           string
	Title              string
	Description        string
	AcceptanceCriteria []string
	HintFiles          []string
	RAGSnippets        []RAGSnippet
	FeedbackForAgent   []string // non-empty on retry attempts (SPEC_FULL.md §4.4)
	Attempt            int
}

// RAGSnippet is one retrieved context fragment (SPEC_FULL.md §12).
type RAGSnippet struct {
	Path    string
	Content string
}

// Response is the generator's reply: the patches to apply plus a short
// commit-message-worthy summary.
type Response struct {
	Patches []Patch
	Summary string
}

// ErrGeneratorNotAvailable mirrors provider.ErrProviderNotAvailable: the
// configured generator has no credentials available.
type ErrGeneratorNotAvailable string

func (e ErrGeneratorNotAvailable) Error() string {
	return fmt.Sprintf("generator %s not available: no credentials configured", string(e))
}

// Generator is the external collaborator interface the executor calls once
// per verification attempt.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
	Available() bool
	GetUsage() Usage
}

// Usage tracks cumulative request volume for one generator, mirroring
// provider.TokenUsage.
type Usage struct {
	Requests  int64
	LastUsed  time.Time
}

// BaseGenerator provides the usage-tracking boilerplate every concrete
// Generator embeds, exactly as every teacher Provider embeds BaseProvider.
type BaseGenerator struct {
	mu    sync.Mutex
	usage Usage
}

func (b *BaseGenerator) trackUsage() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage.Requests++
	b.usage.LastUsed = time.Now()
}

func (b *BaseGenerator) GetUsage() Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.usage
}

var _ Generator = (*HTTPGenerator)(nil)
