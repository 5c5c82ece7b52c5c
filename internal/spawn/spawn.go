// Package spawn launches a Session's child process under a PTY, applying
// the environment contract the core guarantees to every spawned agent.
package spawn

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/creack/pty"
)

// Command is the de-serialized, host-side form of a wire.WireCommand: the
// recipe used to spawn (or respawn) a session's child.
type Command struct {
	Program string
	Args    []string
	Cwd     string
	Env     []EnvVar

	// TaskID, Slug, ProjectRoot, and Worktree populate the environment
	// contract (AGENCY_TASK_ID, AGENCY_SLUG, AGENCY_PROJECT_ROOT,
	// AGENCY_WORKTREE) the core guarantees to every spawned child.
	TaskID      uint32
	Slug        string
	ProjectRoot string
	Worktree    string
}

// EnvVar is one ordered (key, value) environment entry.
type EnvVar struct {
	Key   string
	Value string
}

// Result is the set of OS handles produced by a successful spawn.
type Result struct {
	Master *os.File
	Cmd    *exec.Cmd
}

// Start opens a PTY of the given size and starts the command's child
// process attached to its slave side. The environment contract
// (AGENCY_TASK_ID, AGENCY_SLUG, AGENCY_PROJECT_ROOT, AGENCY_WORKTREE) is
// always set; any additional environment from the command is layered on
// top, so a caller-supplied value with the same key wins.
func Start(c Command, rows, cols uint16) (*Result, error) {
	cmd := exec.Command(c.Program, c.Args...)
	cmd.Dir = c.Cwd

	env := append(os.Environ(),
		"AGENCY_TASK_ID="+strconv.FormatUint(uint64(c.TaskID), 10),
		"AGENCY_SLUG="+c.Slug,
		"AGENCY_PROJECT_ROOT="+c.ProjectRoot,
		"AGENCY_WORKTREE="+c.Worktree,
	)
	for _, kv := range c.Env {
		env = append(env, kv.Key+"="+kv.Value)
	}
	cmd.Env = env

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, fmt.Errorf("spawn %q: %w", c.Program, err)
	}
	return &Result{Master: master, Cmd: cmd}, nil
}
