// Package wire implements the framed IPC codec shared by agencyd and its
// clients: a 4-byte little-endian length prefix around a canonical binary
// encoding of the C2D (client→daemon) and D2C (daemon→client) tagged unions.
package wire

// ProjectKey identifies a project by its canonical absolute repository root.
// Equality is byte-equal on the canonicalized string.
type ProjectKey struct {
	RepoRoot string
}

// TaskMeta identifies a task within a project. Opaque to the core.
type TaskMeta struct {
	ID   uint32
	Slug string
}

// EnvVar is one entry of an ordered environment list.
type EnvVar struct {
	Key   string
	Value string
}

// WireCommand is the recipe a session uses to spawn its child on creation
// or restart.
type WireCommand struct {
	Program string
	Args    []string
	Cwd     string
	Env     []EnvVar
}

// SessionOpenMeta is the metadata a client supplies when opening a session.
type SessionOpenMeta struct {
	Project     ProjectKey
	Task        TaskMeta
	WorktreeDir string
	Cmd         WireCommand
}

// SessionStats is a cumulative per-session stats record.
type SessionStats struct {
	BytesIn   uint64
	BytesOut  uint64
	ElapsedMs uint64
}

// SessionInfo summarizes a session for listing.
type SessionInfo struct {
	SessionID   uint64
	Project     ProjectKey
	Task        TaskMeta
	Cwd         string
	Status      string
	Clients     uint32
	CreatedAtMs uint64
	Stats       SessionStats
}

// ─── C2D: client → daemon ──────────────────────────────────────────────────

// C2DControl is the exhaustive set of client-to-daemon control variants.
// Only the fields belonging to the variant selected by Tag are meaningful.
type C2DControl struct {
	Tag C2DTag

	OpenSessionMeta *SessionOpenMeta // OpenSession
	Rows, Cols      uint16           // OpenSession, JoinSession, Resize

	SessionID uint64 // JoinSession, RestartSession, StopSession

	StopTaskProject ProjectKey // StopTask
	StopTaskID      uint32     // StopTask
	StopTaskSlug    string     // StopTask

	ListProject    *ProjectKey // ListSessions (nil = all projects)
	SubscribeProj  ProjectKey  // SubscribeEvents
	NotifyProject  ProjectKey  // NotifyTasksChanged

	Nonce uint64 // Ping
}

// C2DTag enumerates C2DControl variants.
type C2DTag byte

const (
	TagOpenSession C2DTag = iota
	TagJoinSession
	TagResize
	TagDetach
	TagRestartSession
	TagStopSession
	TagStopTask
	TagListSessions
	TagSubscribeEvents
	TagNotifyTasksChanged
	TagPing
	TagShutdown
	TagGetVersion
)

// C2D is the top-level client-to-daemon frame: either a control message or
// raw input bytes to be written to the session's PTY.
type C2D struct {
	IsInput bool
	Control C2DControl
	Input   []byte
}

// ─── D2C: daemon → client ──────────────────────────────────────────────────

// D2CControl is the exhaustive set of daemon-to-client control variants.
type D2CControl struct {
	Tag D2CTag

	WelcomeSessionID uint64 // Welcome
	Rows, Cols       uint16 // Welcome, Snapshot
	ANSI             []byte // Welcome, Snapshot

	HasCode   bool  // Exited
	Code      int32 // Exited
	HasSignal bool  // Exited
	Signal    int32 // Exited
	Stats     SessionStats

	Entries []SessionInfo // Sessions, SessionsChanged

	Project ProjectKey    // TasksChanged, ProjectState
	Tasks   []TaskMeta    // ProjectState
	Metrics []EnvVar      // ProjectState (flattened key/value metrics)

	Stopped uint32 // Ack

	Message string // Error

	PongNonce uint64 // Pong

	Version string // Version
}

// D2CTag enumerates D2CControl variants.
type D2CTag byte

const (
	TagWelcome D2CTag = iota
	TagSnapshot
	TagExited
	TagSessions
	TagSessionsChanged
	TagTasksChanged
	TagProjectState
	TagAck
	TagGoodbye
	TagError
	TagPong
	TagVersion
)

// D2C is the top-level daemon-to-client frame: either a control message or
// raw PTY output bytes.
type D2C struct {
	IsOutput bool
	Control  D2CControl
	Output   []byte
}
