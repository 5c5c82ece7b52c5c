package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/agency/internal/attachment"
	"github.com/ianremillard/agency/internal/wire"
)

func sleepMeta(slug string) wire.SessionOpenMeta {
	return wire.SessionOpenMeta{
		Project: wire.ProjectKey{RepoRoot: "/repo"},
		Task:    wire.TaskMeta{ID: 1, Slug: slug},
		Cmd:     wire.WireCommand{Program: "cat"},
	}
}

func TestCreateAndListSession(t *testing.T) {
	r := New()
	id, err := r.CreateSession(sleepMeta("a"), 24, 80)
	require.NoError(t, err)
	defer r.StopSession(id)

	list := r.ListSessions(nil)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].SessionID)
	assert.Equal(t, "running", list[0].Status)
}

func TestFindLatestForTaskPicksMostRecent(t *testing.T) {
	r := New()
	id1, err := r.CreateSession(sleepMeta("a"), 24, 80)
	require.NoError(t, err)
	defer r.StopSession(id1)
	time.Sleep(5 * time.Millisecond)
	id2, err := r.CreateSession(sleepMeta("a"), 24, 80)
	require.NoError(t, err)
	defer r.StopSession(id2)

	got, ok := r.FindLatestForTask(wire.ProjectKey{RepoRoot: "/repo"}, 1, "a")
	require.True(t, ok)
	assert.Equal(t, id2, got)
}

func TestAttachDetachClient(t *testing.T) {
	r := New()
	id, err := r.CreateSession(sleepMeta("a"), 24, 80)
	require.NoError(t, err)
	defer r.StopSession(id)

	clientID := r.NewClientID()
	_, err = r.AttachClient(id, clientID, attachment.New(clientID, attachment.DefaultOutputQueueCapacity))
	require.NoError(t, err)
	assert.Len(t, r.ClientIDs(id), 1)

	r.DetachClient(id, clientID)
	assert.Len(t, r.ClientIDs(id), 0)
}

func TestEnsureRunningForAttachRestartsOnlyWhenEmptyAndExited(t *testing.T) {
	r := New()
	id, err := r.CreateSession(wire.SessionOpenMeta{
		Project: wire.ProjectKey{RepoRoot: "/repo"},
		Task:    wire.TaskMeta{ID: 1, Slug: "a"},
		Cmd:     wire.WireCommand{Program: "true"},
	}, 24, 80)
	require.NoError(t, err)
	defer r.StopSession(id)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		list := r.ListSessions(nil)
		if len(list) == 1 && list[0].Status == "exited" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	require.NoError(t, r.EnsureRunningForAttach(id))
	list := r.ListSessions(nil)
	require.Len(t, list, 1)
	assert.Equal(t, "running", list[0].Status)
}

func TestStopTaskStopsAllMatchingSessions(t *testing.T) {
	r := New()
	id1, err := r.CreateSession(sleepMeta("a"), 24, 80)
	require.NoError(t, err)
	id2, err := r.CreateSession(sleepMeta("b"), 24, 80)
	require.NoError(t, err)

	stopped := r.StopTask(wire.ProjectKey{RepoRoot: "/repo"}, 1, "")
	assert.ElementsMatch(t, []uint64{id1, id2}, stopped)
	assert.Empty(t, r.ListSessions(nil))
}

func TestStopTaskMatchesOnSlugWhenGiven(t *testing.T) {
	r := New()
	id1, err := r.CreateSession(sleepMeta("a"), 24, 80)
	require.NoError(t, err)
	defer r.StopSession(id1)
	id2, err := r.CreateSession(sleepMeta("b"), 24, 80)
	require.NoError(t, err)

	stopped := r.StopTask(wire.ProjectKey{RepoRoot: "/repo"}, 1, "b")
	assert.Equal(t, []uint64{id2}, stopped)
	list := r.ListSessions(nil)
	require.Len(t, list, 1)
	assert.Equal(t, id1, list[0].SessionID)
}

func TestCollectExitedAtMostOncePerSession(t *testing.T) {
	r := New()
	id, err := r.CreateSession(wire.SessionOpenMeta{
		Cmd: wire.WireCommand{Program: "true"},
	}, 24, 80)
	require.NoError(t, err)
	defer r.StopSession(id)

	deadline := time.Now().Add(2 * time.Second)
	var events []ExitedEvent
	for time.Now().Before(deadline) {
		events = r.CollectExited()
		if len(events) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].SessionID)

	assert.Empty(t, r.CollectExited())
}

func TestSessionNotFoundErrors(t *testing.T) {
	r := New()
	_, err := r.Snapshot(999)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSetLogDirWritesPerSessionLogFile(t *testing.T) {
	dir := t.TempDir()
	r := New()
	r.SetLogDir(dir)

	id, err := r.CreateSession(sleepMeta("my-feature"), 24, 80)
	require.NoError(t, err)
	defer r.StopSession(id)

	require.NoError(t, r.WriteInput(id, []byte("hi\n")))

	deadline := time.Now().Add(2 * time.Second)
	path := filepath.Join(dir, "agency-1-my-feature.log")
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("log file %s was never written", path)
}
