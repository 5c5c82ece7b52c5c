package worktree

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
}

func newUpstream(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-q")
	runGit(t, dir, "config", "user.email", "a@example.com")
	runGit(t, dir, "config", "user.name", "agency")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi"), 0o644))
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-q", "-m", "init")
	return dir
}

func TestEnsureMainCheckoutClonesOnce(t *testing.T) {
	upstream := newUpstream(t)
	p := &Project{RepoURL: upstream, DataDir: t.TempDir()}

	var buf bytes.Buffer
	require.NoError(t, EnsureMainCheckout(p, &buf))
	assert.FileExists(t, filepath.Join(p.MainDir(), "README.md"))
	assert.Contains(t, buf.String(), "cloning")

	buf.Reset()
	require.NoError(t, EnsureMainCheckout(p, &buf))
	assert.Empty(t, buf.String(), "second call should be a no-op")
}

func TestEnsureMainCheckoutWithoutURLFails(t *testing.T) {
	p := &Project{DataDir: t.TempDir()}
	err := EnsureMainCheckout(p, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestCreateAndRemoveWorktree(t *testing.T) {
	upstream := newUpstream(t)
	p := &Project{RepoURL: upstream, DataDir: t.TempDir()}
	require.NoError(t, EnsureMainCheckout(p, &bytes.Buffer{}))

	dir, err := Create(p, "my-task", "agency/my-task")
	require.NoError(t, err)
	assert.Equal(t, p.Dir("my-task"), dir)
	assert.FileExists(t, filepath.Join(dir, "README.md"))

	Remove(p, "my-task", "agency/my-task")
	assert.NoDirExists(t, dir)
}

func TestCreateReusesExistingBranch(t *testing.T) {
	upstream := newUpstream(t)
	p := &Project{RepoURL: upstream, DataDir: t.TempDir()}
	require.NoError(t, EnsureMainCheckout(p, &bytes.Buffer{}))
	runGit(t, p.MainDir(), "branch", "agency/existing")

	dir, err := Create(p, "existing", "agency/existing")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "README.md"))
}
