// Package gitops provides the git plumbing the executor needs to give each
// ticket its own working tree: branch creation, commit, and push. It has no
// merge helper; merges go through vcs.Host.MergePR. Adapted from git/worktree.go's WorktreeManager, trimmed of its
// bare-repo local-only mode (the Engine always has a remote VCS host per
// SPEC_FULL.md §6) and made context-aware throughout, since executor calls
// now carry a per-ticket context.Context that must cancel a hung git
// subprocess the same way it cancels a hung generator/verifier call.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// Worktrees manages one repository's worktrees on local disk.
type Worktrees struct {
	repoRoot    string
	worktreeDir string
	mainBranch  string
}

func New(repoRoot, worktreeDir, mainBranch string) *Worktrees {
	return &Worktrees{repoRoot: repoRoot, worktreeDir: worktreeDir, mainBranch: mainBranch}
}

// Info describes one worktree as reported by `git worktree list --porcelain`.
type Info struct {
	Path   string
	Branch string
	Commit string
}

// Create checks out branchName into its own worktree, creating the branch
// from origin/<mainBranch> if it doesn't already exist. Returns the absolute
// worktree path.
func (w *Worktrees) Create(ctx context.Context, ticketID, branchName string) (string, error) {
	safeName := sanitizeBranchName(branchName)

	worktreePath, err := filepath.Abs(filepath.Join(w.repoRoot, w.worktreeDir, safeName))
	if err != nil {
		return "", fmt.Errorf("gitops: resolve worktree path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(worktreePath), 0o750); err != nil {
		return "", fmt.Errorf("gitops: create worktree parent dir: %w", err)
	}
	if _, err := os.Stat(worktreePath); err == nil {
		return worktreePath, nil
	}

	if err := w.runGit(ctx, w.repoRoot, "fetch", "origin", w.mainBranch); err != nil {
		return "", fmt.Errorf("gitops: fetch origin: %w", err)
	}

	var args []string
	if w.branchExists(ctx, branchName) {
		args = []string{"worktree", "add", worktreePath, branchName}
	} else {
		args = []string{"worktree", "add", "-b", branchName, worktreePath, "origin/" + w.mainBranch}
	}
	if err := w.runGit(ctx, w.repoRoot, args...); err != nil {
		return "", fmt.Errorf("gitops: create worktree for ticket %s: %w", ticketID, err)
	}
	return worktreePath, nil
}

// Remove tears down a worktree and, optionally, its branch.
func (w *Worktrees) Remove(ctx context.Context, worktreePath string, removeBranch bool) error {
	var branchName string
	if removeBranch {
		if info, err := w.Info(ctx, worktreePath); err == nil {
			branchName = info.Branch
		}
	}

	if err := w.runGit(ctx, w.repoRoot, "worktree", "remove", "--force", worktreePath); err != nil {
		if rmErr := os.RemoveAll(worktreePath); rmErr != nil {
			return fmt.Errorf("gitops: remove worktree directory: %w", rmErr)
		}
		_ = w.runGit(ctx, w.repoRoot, "worktree", "prune")
	}
	if removeBranch && branchName != "" && branchName != w.mainBranch {
		_ = w.runGit(ctx, w.repoRoot, "branch", "-D", branchName)
	}
	return nil
}

// List enumerates every worktree of the repository.
func (w *Worktrees) List(ctx context.Context) ([]Info, error) {
	out, err := w.runGitOutput(ctx, w.repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("gitops: list worktrees: %w", err)
	}

	var worktrees []Info
	var current *Info
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			if current != nil {
				worktrees = append(worktrees, *current)
				current = nil
			}
		case strings.HasPrefix(line, "worktree "):
			current = &Info{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD ") && current != nil:
			current.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch ") && current != nil:
			current.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		}
	}
	if current != nil {
		worktrees = append(worktrees, *current)
	}
	return worktrees, nil
}

// Info returns the worktree entry matching worktreePath.
func (w *Worktrees) Info(ctx context.Context, worktreePath string) (*Info, error) {
	all, err := w.List(ctx)
	if err != nil {
		return nil, err
	}
	absPath, err := filepath.Abs(worktreePath)
	if err != nil {
		return nil, fmt.Errorf("gitops: resolve path: %w", err)
	}
	for _, wt := range all {
		if wtAbs, err := filepath.Abs(wt.Path); err == nil && wtAbs == absPath {
			return &wt, nil
		}
	}
	return nil, fmt.Errorf("gitops: worktree not found: %s", worktreePath)
}

// Commit stages and commits every change in worktreePath. A clean tree is not
// an error — it simply has nothing to commit.
func (w *Worktrees) Commit(ctx context.Context, worktreePath, message string) error {
	if err := w.runGit(ctx, worktreePath, "add", "-A"); err != nil {
		return fmt.Errorf("gitops: stage changes: %w", err)
	}
	dirty, err := w.HasUncommittedChanges(ctx, worktreePath)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	if err := w.runGit(ctx, worktreePath, "commit", "-m", message); err != nil {
		return fmt.Errorf("gitops: commit: %w", err)
	}
	return nil
}

// Push pushes the worktree's current branch to origin with upstream tracking.
func (w *Worktrees) Push(ctx context.Context, worktreePath string) error {
	branch, err := w.CurrentBranch(ctx, worktreePath)
	if err != nil {
		return err
	}
	if err := w.runGit(ctx, worktreePath, "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("gitops: push %s: %w", branch, err)
	}
	return nil
}

// HasUncommittedChanges reports whether a worktree has a dirty working tree.
func (w *Worktrees) HasUncommittedChanges(ctx context.Context, worktreePath string) (bool, error) {
	out, err := w.runGitOutput(ctx, worktreePath, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("gitops: status: %w", err)
	}
	return len(bytes.TrimSpace(out)) > 0, nil
}

// CurrentBranch returns the checked-out branch of a worktree.
func (w *Worktrees) CurrentBranch(ctx context.Context, worktreePath string) (string, error) {
	out, err := w.runGitOutput(ctx, worktreePath, "branch", "--show-current")
	if err != nil {
		return "", fmt.Errorf("gitops: current branch: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// LatestCommit returns the worktree's HEAD commit hash.
func (w *Worktrees) LatestCommit(ctx context.Context, worktreePath string) (string, error) {
	out, err := w.runGitOutput(ctx, worktreePath, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("gitops: rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Prune removes worktree metadata for trees deleted outside of git.
func (w *Worktrees) Prune(ctx context.Context) error {
	return w.runGit(ctx, w.repoRoot, "worktree", "prune")
}

func (w *Worktrees) branchExists(ctx context.Context, branchName string) bool {
	if w.runGit(ctx, w.repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/"+branchName) == nil {
		return true
	}
	return w.runGit(ctx, w.repoRoot, "show-ref", "--verify", "--quiet", "refs/remotes/origin/"+branchName) == nil
}

func (w *Worktrees) runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (w *Worktrees) runGitOutput(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	return cmd.Output()
}

// sanitizeBranchName converts a branch name to a safe directory name for use
// as a worktree path component.
func sanitizeBranchName(branch string) string {
	branch = strings.TrimPrefix(branch, "feat/")
	branch = strings.TrimPrefix(branch, "fix/")
	branch = strings.TrimPrefix(branch, "chore/")
	return regexp.MustCompile(`[^a-zA-Z0-9-_]`).ReplaceAllString(branch, "-")
}

// BranchName builds a deterministic branch name from a ticket id and title,
// e.g. BranchName("ticket/", "t-42", "Add login endpoint") ->
// "ticket/t-42-add-login-endpoint".
func BranchName(prefix, ticketID, title string) string {
	re := regexp.MustCompile(`[^a-zA-Z0-9\s-]`)
	title = re.ReplaceAllString(title, "")
	title = strings.ToLower(title)
	title = strings.ReplaceAll(title, " ", "-")
	if len(title) > 40 {
		title = title[:40]
	}
	title = strings.TrimRight(title, "-")
	return fmt.Sprintf("%s%s-%s", prefix, ticketID, title)
}
