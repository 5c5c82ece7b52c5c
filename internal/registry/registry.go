// Package registry implements the session registry (spec component B):
// the map from session id to live Session, keyed lookup by task, the
// restart-on-attach policy, and the exited-session poll used to drive
// Exited broadcasts.
package registry

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ianremillard/agency/internal/attachment"
	"github.com/ianremillard/agency/internal/ptysession"
	"github.com/ianremillard/agency/internal/sessionkey"
	"github.com/ianremillard/agency/internal/spawn"
	"github.com/ianremillard/agency/internal/wire"
)

// entry is one registered session plus the metadata needed to restart it
// and report it in listings.
type entry struct {
	id        uint64
	session   *ptysession.Session
	meta      wire.SessionOpenMeta
	createdAt time.Time
	rows      uint16
	cols      uint16
	clients   map[uint64]*attachment.Client
}

// Registry owns every live session in the daemon process.
type Registry struct {
	mu            sync.Mutex
	nextSessionID uint64
	nextClientID  uint64
	sessions      map[uint64]*entry
	logDir        string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[uint64]*entry)}
}

// SetLogDir enables the per-session rolling on-disk log tee: every
// session created after this call gets its own <dir>/<sessionkey>.log
// file, written independently of the in-memory scrollback ring. A
// failure to open the log file is ignored and not logged — it never
// prevents a session from starting.
func (r *Registry) SetLogDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logDir = dir
}

// NewClientID allocates a fresh, process-unique client id.
func (r *Registry) NewClientID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextClientID++
	return r.nextClientID
}

func toSpawnCommand(meta wire.SessionOpenMeta) spawn.Command {
	env := make([]spawn.EnvVar, len(meta.Cmd.Env))
	for i, e := range meta.Cmd.Env {
		env[i] = spawn.EnvVar{Key: e.Key, Value: e.Value}
	}
	return spawn.Command{
		Program:     meta.Cmd.Program,
		Args:        meta.Cmd.Args,
		Cwd:         meta.Cmd.Cwd,
		Env:         env,
		TaskID:      meta.Task.ID,
		Slug:        meta.Task.Slug,
		ProjectRoot: meta.Project.RepoRoot,
		Worktree:    meta.WorktreeDir,
	}
}

// CreateSession spawns a new session for meta at the given size and
// registers it.
func (r *Registry) CreateSession(meta wire.SessionOpenMeta, rows, cols uint16) (uint64, error) {
	sess, err := ptysession.New(toSpawnCommand(meta), rows, cols)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	if r.logDir != "" {
		path := filepath.Join(r.logDir, sessionkey.LogFileName(meta.Task.ID, meta.Task.Slug))
		sess.OpenLogFile(path)
	}
	defer r.mu.Unlock()
	r.nextSessionID++
	id := r.nextSessionID
	r.sessions[id] = &entry{
		id:        id,
		session:   sess,
		meta:      meta,
		createdAt: time.Now(),
		rows:      rows,
		cols:      cols,
		clients:   make(map[uint64]*attachment.Client),
	}
	return id, nil
}

func (r *Registry) lookup(sessionID uint64) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	return e, ok
}

// ErrSessionNotFound is returned whenever sessionID does not name a
// currently-registered session.
var ErrSessionNotFound = fmt.Errorf("registry: session not found")

// FindLatestForTask returns the most recently created session id for the
// given project and task id, if any. When slug is non-empty it must also
// match the task's slug; an empty slug matches any.
func (r *Registry) FindLatestForTask(project wire.ProjectKey, taskID uint32, slug string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *entry
	for _, e := range r.sessions {
		if e.meta.Project != project || e.meta.Task.ID != taskID {
			continue
		}
		if slug != "" && e.meta.Task.Slug != slug {
			continue
		}
		if best == nil || e.createdAt.After(best.createdAt) {
			best = e
		}
	}
	if best == nil {
		return 0, false
	}
	return best.id, true
}

// EnsureRunningForAttach restarts sessionID's shell if it has already
// exited and no client is currently attached — the restart-on-attach
// policy: a session is only respawned when joining it would otherwise
// attach to a dead child.
func (r *Registry) EnsureRunningForAttach(sessionID uint64) error {
	e, ok := r.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if !e.session.HasExited() {
		return nil
	}
	r.mu.Lock()
	empty := len(e.clients) == 0
	r.mu.Unlock()
	if !empty {
		return nil
	}
	return e.session.RestartShell(e.rows, e.cols)
}

// AttachClient registers client's output sink with sessionID's session
// and records the attachment so client-count checks and control
// broadcasts (Exited, Goodbye, SessionsChanged) can reach it.
func (r *Registry) AttachClient(sessionID, clientID uint64, client *attachment.Client) (*ptysession.Session, error) {
	e, ok := r.lookup(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	r.mu.Lock()
	e.clients[clientID] = client
	r.mu.Unlock()
	e.session.AddOutputSink(clientID, client)
	return e.session, nil
}

// DetachClient removes clientID's output sink and attachment record from
// sessionID. Detaching an already-detached client is a no-op.
func (r *Registry) DetachClient(sessionID, clientID uint64) {
	e, ok := r.lookup(sessionID)
	if !ok {
		return
	}
	e.session.RemoveOutputSink(clientID)
	r.mu.Lock()
	delete(e.clients, clientID)
	r.mu.Unlock()
}

// BroadcastControl sends ctrl to every client currently attached to
// sessionID via each client's reliable control queue.
func (r *Registry) BroadcastControl(sessionID uint64, ctrl wire.D2CControl) {
	e, ok := r.lookup(sessionID)
	if !ok {
		return
	}
	r.mu.Lock()
	clients := make([]*attachment.Client, 0, len(e.clients))
	for _, c := range e.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()
	for _, c := range clients {
		c.SendControl(ctrl)
	}
}

// ApplyResize resizes sessionID's PTY and virtual screen, and remembers
// the new size for future restarts.
func (r *Registry) ApplyResize(sessionID uint64, rows, cols uint16) error {
	e, ok := r.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	e.session.ApplyResize(rows, cols)
	r.mu.Lock()
	e.rows, e.cols = rows, cols
	r.mu.Unlock()
	return nil
}

// WriteInput forwards data to sessionID's PTY master.
func (r *Registry) WriteInput(sessionID uint64, data []byte) error {
	e, ok := r.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	return e.session.WriteInput(data)
}

// Snapshot returns sessionID's current ANSI screen contents and size.
func (r *Registry) Snapshot(sessionID uint64) ([]byte, int, int, error) {
	e, ok := r.lookup(sessionID)
	if !ok {
		return nil, 0, 0, ErrSessionNotFound
	}
	out, rows, cols := e.session.Snapshot()
	return out, rows, cols, nil
}

// HistorySnapshot returns sessionID's retained scrollback, for the
// caller to sanitize and cap before replay.
func (r *Registry) HistorySnapshot(sessionID uint64) ([]byte, error) {
	e, ok := r.lookup(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.session.HistorySnapshot(), nil
}

// RestartSession force-restarts sessionID's shell regardless of
// attachment state.
func (r *Registry) RestartSession(sessionID uint64) error {
	e, ok := r.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	return e.session.RestartShell(e.rows, e.cols)
}

// StopSession terminates sessionID's child and removes it from the
// registry. The caller is responsible for notifying attached clients
// before calling this, since once removed the session can no longer be
// looked up to address them.
func (r *Registry) StopSession(sessionID uint64) error {
	e, ok := r.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	err := e.session.Stop()
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	return err
}

// StopTask stops every session belonging to (project, taskID) and
// returns the ids that were stopped. When slug is non-empty, only
// sessions whose task slug matches are stopped; an empty slug matches
// every session for that task id.
func (r *Registry) StopTask(project wire.ProjectKey, taskID uint32, slug string) []uint64 {
	r.mu.Lock()
	var ids []uint64
	for id, e := range r.sessions {
		if e.meta.Project != project || e.meta.Task.ID != taskID {
			continue
		}
		if slug != "" && e.meta.Task.Slug != slug {
			continue
		}
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.StopSession(id)
	}
	return ids
}

// ClientIDs returns the currently attached client ids for sessionID.
func (r *Registry) ClientIDs(sessionID uint64) []uint64 {
	e, ok := r.lookup(sessionID)
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint64, 0, len(e.clients))
	for id := range e.clients {
		ids = append(ids, id)
	}
	return ids
}

// ListSessions returns SessionInfo for every session, optionally
// filtered to one project.
func (r *Registry) ListSessions(project *wire.ProjectKey) []wire.SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []wire.SessionInfo
	for id, e := range r.sessions {
		if project != nil && e.meta.Project != *project {
			continue
		}
		status := "running"
		if e.session.HasExited() {
			status = "exited"
		} else if e.session.Waiting() {
			status = "waiting"
		}
		stats := e.session.StatsLite()
		out = append(out, wire.SessionInfo{
			SessionID: id,
			Project:   e.meta.Project,
			Task:      e.meta.Task,
			Cwd:       e.meta.Cmd.Cwd,
			Status:    status,
			Clients:   uint32(len(e.clients)),
			CreatedAtMs: uint64(e.createdAt.UnixMilli()),
			Stats: wire.SessionStats{
				BytesIn:   stats.BytesIn,
				BytesOut:  stats.BytesOut,
				ElapsedMs: stats.ElapsedMs,
			},
		})
	}
	return out
}

// CollectExited scans every registered session for a not-yet-notified
// exit and returns the (sessionID, info) pairs to broadcast as Exited.
// Each session yields at most one entry across its entire lifetime
// until restarted, per the at-most-once Exited notification invariant.
func (r *Registry) CollectExited() []ExitedEvent {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	var out []ExitedEvent
	for _, e := range entries {
		if ok, info := e.session.ConsumeExited(); ok {
			stats := e.session.StatsLite()
			out = append(out, ExitedEvent{
				SessionID: e.id,
				Info:      info,
				Stats: wire.SessionStats{
					BytesIn:   stats.BytesIn,
					BytesOut:  stats.BytesOut,
					ElapsedMs: stats.ElapsedMs,
				},
			})
		}
	}
	return out
}

// ExitedEvent pairs a session id with its observed exit status and the
// session's cumulative stats at the moment it exited.
type ExitedEvent struct {
	SessionID uint64
	Info      ptysession.ExitInfo
	Stats     wire.SessionStats
}
