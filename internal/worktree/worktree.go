// Package worktree manages the git worktrees tasks run their sessions
// in. This lives outside the session core proper — the core only ever
// sees a WorktreeDir string — but agencyctl uses it to prepare that
// directory before opening a session.
package worktree

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Project is a git repository registered for task worktrees: a bare or
// checked-out main clone, plus a directory holding one worktree per task
// slug.
type Project struct {
	RepoURL string
	DataDir string // holds main/ (canonical checkout) and worktrees/
}

// MainDir is the canonical checkout all worktrees branch from.
func (p *Project) MainDir() string {
	return filepath.Join(p.DataDir, "main")
}

// WorktreesDir holds every task's worktree.
func (p *Project) WorktreesDir() string {
	return filepath.Join(p.DataDir, "worktrees")
}

// Dir returns the worktree path for a given task slug.
func (p *Project) Dir(slug string) string {
	return filepath.Join(p.WorktreesDir(), slug)
}

// EnsureMainCheckout clones RepoURL into MainDir if it does not already
// exist. A no-op if the directory already has a git repo. Clone output
// is written to w.
func EnsureMainCheckout(p *Project, w io.Writer) error {
	mainDir := p.MainDir()
	gitDir := filepath.Join(mainDir, ".git")

	if _, err := os.Stat(gitDir); err == nil {
		return nil
	}
	if p.RepoURL == "" {
		return fmt.Errorf("worktree: no repo URL and main checkout %s does not exist", mainDir)
	}
	if err := os.MkdirAll(filepath.Dir(mainDir), 0o755); err != nil {
		return err
	}

	fmt.Fprintf(w, "cloning %s into %s\n", p.RepoURL, mainDir)
	cmd := exec.Command("git", "clone", p.RepoURL, mainDir)
	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		w.Write(out)
	}
	if err != nil {
		detail := strings.TrimSpace(string(out))
		if detail != "" {
			return fmt.Errorf("git clone %q failed: %s", p.RepoURL, detail)
		}
		return fmt.Errorf("git clone %q failed: %w", p.RepoURL, err)
	}
	return nil
}

// PullMain runs git pull in the main checkout. Errors are non-fatal —
// the caller logs and continues so offline use still works.
func PullMain(p *Project, w io.Writer) error {
	cmd := exec.Command("git", "-C", p.MainDir(), "pull")
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git pull: %w", err)
	}
	return nil
}

// Create adds a new git worktree for slug on branchName, branching from
// the main checkout's current HEAD. If branchName already exists, the
// worktree checks it out directly instead of creating it.
func Create(p *Project, slug, branchName string) (string, error) {
	mainDir := p.MainDir()
	dir := p.Dir(slug)

	if err := os.MkdirAll(p.WorktreesDir(), 0o755); err != nil {
		return "", err
	}

	cmd := exec.Command("git", "-C", mainDir, "worktree", "add", "-b", branchName, dir)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		cmd = exec.Command("git", "-C", mainDir, "worktree", "add", dir, branchName)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("git worktree add: %w", err)
		}
	}
	return dir, nil
}

// Remove removes slug's worktree and its branch. Best-effort: failures
// are swallowed since a worktree the caller already considers gone
// should not block task teardown.
func Remove(p *Project, slug, branchName string) {
	mainDir := p.MainDir()
	dir := p.Dir(slug)
	exec.Command("git", "-C", mainDir, "worktree", "remove", "--force", dir).Run()
	exec.Command("git", "-C", mainDir, "branch", "-D", branchName).Run()
}
