// Package ptysession implements Session (spec component C): one PTY
// master/child pair, the virtual screen parser, the scrollback history
// ring, the set of attached output sinks, and the long-running reader
// pump that is the sole writer to all three.
package ptysession

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/ianremillard/agency/internal/spawn"
	"github.com/ianremillard/agency/internal/vt100"
)

const (
	// historyCapBytes is the fixed byte cap on the scrollback ring.
	historyCapBytes = 1 << 20 // 1 MiB

	// scrollbackRows is a scrollback depth in lines. Nothing passes it to
	// the virtual screen: vt100.New takes only (rows, cols), and the
	// screen keeps no scrollback beyond its visible rows.
	scrollbackRows = 10000

	readChunkBytes = 8192

	// waitingIdleThreshold is how long a session must produce no PTY
	// output before Waiting reports true.
	waitingIdleThreshold = 2 * time.Second

	// maxLogBytes caps the on-disk rolling log file; once exceeded the
	// tee stops writing rather than growing without bound.
	maxLogBytes = 1 << 20
)

// OutputSink receives raw PTY output chunks. Implementations must not
// block: TrySend is called from the reader pump and a blocking
// implementation would stall every attached client and the pump itself.
type OutputSink interface {
	TrySend(data []byte) bool
}

// Stats is a session's cumulative stats record.
type Stats struct {
	BytesIn   uint64
	BytesOut  uint64
	ElapsedMs uint64
}

// ExitInfo describes one observed child termination.
type ExitInfo struct {
	HasCode   bool
	Code      int32
	HasSignal bool
	Signal    int32
}

// Session owns one PTY pair, one child process, one virtual screen, one
// history ring, and the set of attached clients' output sinks.
//
// Lock order, per the concurrency model: master before writer before
// parser (screen has its own internal lock) before history before
// sinks. Holding two at once beyond what a single method needs is
// avoided; the reader pump never holds more than one session lock while
// calling into a sink.
type Session struct {
	masterMu sync.Mutex
	master   *os.File

	writerMu sync.Mutex

	screenMu sync.Mutex
	screen   *vt100.Screen
	history  *ring

	sinksMu sync.Mutex
	sinks   map[uint64]OutputSink

	bytesIn     atomic.Uint64
	bytesOut    atomic.Uint64
	started     time.Time
	lastOutput  atomic.Int64 // unix nanos, updated by readPump

	logMu      sync.Mutex
	logFile    *os.File
	logWritten int64

	childMu        sync.Mutex
	cmd            *exec.Cmd
	pid            int
	exited         bool
	exitedNotified bool
	exitInfo       ExitInfo

	command spawn.Command
}

// New opens a PTY pair, spawns the child described by cmd at the given
// size, allocates the virtual screen and history ring, and starts the
// reader pump.
func New(cmd spawn.Command, rows, cols uint16) (*Session, error) {
	res, err := spawn.Start(cmd, rows, cols)
	if err != nil {
		return nil, err
	}
	s := &Session{
		master:  res.Master,
		screen:  vt100.New(int(rows), int(cols)),
		history: newRing(historyCapBytes),
		sinks:   make(map[uint64]OutputSink),
		started: time.Now(),
		cmd:     res.Cmd,
		pid:     res.Cmd.Process.Pid,
		command: cmd,
	}
	s.lastOutput.Store(time.Now().UnixNano())
	go s.readPump()
	return s, nil
}

// OpenLogFile opens (creating and truncating) a rolling on-disk log at
// path that the reader pump tees every output chunk to, independent of
// the in-memory scrollback ring. Best-effort: failures here do not stop
// the session, they just mean no on-disk log gets written.
func (s *Session) OpenLogFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ptysession: open log file: %w", err)
	}
	s.logMu.Lock()
	s.logFile = f
	s.logWritten = 0
	s.logMu.Unlock()
	return nil
}

func (s *Session) teeLog(chunk []byte) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	if s.logFile == nil || s.logWritten >= maxLogBytes {
		return
	}
	n, _ := s.logFile.Write(chunk)
	s.logWritten += int64(n)
}

// Waiting reports whether the session's child is still running but has
// produced no PTY output for at least waitingIdleThreshold — the signal
// surfaced as an idle/"waiting for input" state in listings.
func (s *Session) Waiting() bool {
	if s.HasExited() {
		return false
	}
	last := time.Unix(0, s.lastOutput.Load())
	return time.Since(last) > waitingIdleThreshold
}

// readPump is the session's sole reader from the PTY master and sole
// writer to the history ring and to every attached sink. It exits on EOF
// or read error, at which point it reaps the child exactly once.
func (s *Session) readPump() {
	buf := make([]byte, readChunkBytes)
	for {
		n, err := s.master.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			s.screenMu.Lock()
			s.screen.Write(chunk)
			s.screenMu.Unlock()
			s.history.write(chunk)
			s.bytesOut.Add(uint64(n))
			s.lastOutput.Store(time.Now().UnixNano())
			s.teeLog(chunk)
			s.fanOut(chunk)
		}
		if err != nil {
			break
		}
	}
	s.reapChild()
}

func (s *Session) fanOut(chunk []byte) {
	s.sinksMu.Lock()
	sinks := make([]OutputSink, 0, len(s.sinks))
	for _, sink := range s.sinks {
		sinks = append(sinks, sink)
	}
	s.sinksMu.Unlock()
	for _, sink := range sinks {
		sink.TrySend(chunk)
	}
}

// reapChild waits for the child to fully exit and records its exit status.
// Called exactly once per child lifetime, from readPump after EOF.
func (s *Session) reapChild() {
	s.childMu.Lock()
	cmd := s.cmd
	s.childMu.Unlock()
	if cmd == nil {
		return
	}
	waitErr := cmd.Wait()

	info := ExitInfo{}
	if waitErr == nil {
		code := int32(0)
		info.HasCode = true
		info.Code = code
	} else if status, ok := exitStatusOf(waitErr); ok {
		if status.Signaled() {
			info.HasSignal = true
			info.Signal = int32(status.Signal())
		} else {
			info.HasCode = true
			info.Code = int32(status.ExitStatus())
		}
	}

	s.masterMu.Lock()
	if s.master != nil {
		s.master.Close()
	}
	s.masterMu.Unlock()

	s.childMu.Lock()
	s.exited = true
	s.exitInfo = info
	s.childMu.Unlock()
}

func exitStatusOf(err error) (syscall.WaitStatus, bool) {
	type exitError interface {
		Sys() any
	}
	ee, ok := err.(exitError)
	if !ok {
		return syscall.WaitStatus(0), false
	}
	ws, ok := ee.Sys().(syscall.WaitStatus)
	return ws, ok
}

// WriteInput writes client input bytes to the PTY master.
func (s *Session) WriteInput(p []byte) error {
	s.bytesIn.Add(uint64(len(p)))
	s.masterMu.Lock()
	m := s.master
	s.masterMu.Unlock()
	s.writerMu.Lock()
	defer s.writerMu.Unlock()
	if m == nil {
		return fmt.Errorf("ptysession: write to closed session")
	}
	if _, err := m.Write(p); err != nil {
		return fmt.Errorf("ptysession: write input: %w", err)
	}
	return nil
}

// ApplyResize resizes the PTY master and the virtual screen.
func (s *Session) ApplyResize(rows, cols uint16) {
	s.masterMu.Lock()
	m := s.master
	s.masterMu.Unlock()
	if m != nil {
		pty.Setsize(m, &pty.Winsize{Rows: rows, Cols: cols})
	}
	s.screenMu.Lock()
	s.screen.Resize(int(rows), int(cols))
	s.screenMu.Unlock()
}

// Snapshot returns the current self-contained ANSI screen contents and the
// (rows, cols) at capture time.
func (s *Session) Snapshot() ([]byte, int, int) {
	s.screenMu.Lock()
	defer s.screenMu.Unlock()
	return s.screen.SnapshotAndSize()
}

// AltScreenActive reports whether the virtual screen is in alternate-
// screen mode.
func (s *Session) AltScreenActive() bool {
	s.screenMu.Lock()
	defer s.screenMu.Unlock()
	return s.screen.AltScreenActive()
}

// HistorySnapshot returns a copy of the full retained scrollback ring, for
// the caller to sanitize and cap before replay.
func (s *Session) HistorySnapshot() []byte {
	return s.history.snapshot()
}

// AddOutputSink registers a client's output sink so the reader pump fans
// output out to it.
func (s *Session) AddOutputSink(clientID uint64, sink OutputSink) {
	s.sinksMu.Lock()
	defer s.sinksMu.Unlock()
	s.sinks[clientID] = sink
}

// RemoveOutputSink unregisters a client's output sink. Removing an
// already-removed sink is a no-op.
func (s *Session) RemoveOutputSink(clientID uint64) {
	s.sinksMu.Lock()
	defer s.sinksMu.Unlock()
	delete(s.sinks, clientID)
}

// ClearAllSinks removes every registered sink, e.g. before the first
// client attaches so no output is fanned out prematurely.
func (s *Session) ClearAllSinks() {
	s.sinksMu.Lock()
	defer s.sinksMu.Unlock()
	s.sinks = make(map[uint64]OutputSink)
}

// SinkCount returns the number of currently attached output sinks.
func (s *Session) SinkCount() int {
	s.sinksMu.Lock()
	defer s.sinksMu.Unlock()
	return len(s.sinks)
}

// ConsumeExited returns the child's exit info exactly once per child
// lifetime: the first call after the child has been reaped returns
// (true, info); every subsequent call returns (false, ExitInfo{}) until
// RestartShell resets the flag. This is the mechanism behind the
// at-most-one Exited notification invariant.
func (s *Session) ConsumeExited() (bool, ExitInfo) {
	s.childMu.Lock()
	defer s.childMu.Unlock()
	if !s.exited || s.exitedNotified {
		return false, ExitInfo{}
	}
	s.exitedNotified = true
	return true, s.exitInfo
}

// HasExited reports whether the child has been observed exited, without
// consuming the notification.
func (s *Session) HasExited() bool {
	s.childMu.Lock()
	defer s.childMu.Unlock()
	return s.exited
}

// RestartShell replaces the master, child, and virtual screen with a
// fresh set at the given size, and starts a new reader pump. Only valid
// once the prior child has exited.
func (s *Session) RestartShell(rows, cols uint16) error {
	res, err := spawn.Start(s.command, rows, cols)
	if err != nil {
		return err
	}

	s.masterMu.Lock()
	s.master = res.Master
	s.masterMu.Unlock()

	s.screenMu.Lock()
	s.screen = vt100.New(int(rows), int(cols))
	s.screenMu.Unlock()
	s.lastOutput.Store(time.Now().UnixNano())

	s.childMu.Lock()
	s.cmd = res.Cmd
	s.pid = res.Cmd.Process.Pid
	s.exited = false
	s.exitedNotified = false
	s.exitInfo = ExitInfo{}
	s.childMu.Unlock()

	go s.readPump()
	return nil
}

// Stop best-effort kills the child's process group (or the child alone if
// its group cannot be found) with SIGKILL. It does not close the master
// itself: once the child is gone the reader pump observes EOF, reaps the
// child, and closes the master.
func (s *Session) Stop() error {
	s.childMu.Lock()
	pid := s.pid
	s.childMu.Unlock()

	if pid > 0 {
		if pgid, err := syscall.Getpgid(pid); err == nil && pgid > 0 {
			syscall.Kill(-pgid, syscall.SIGKILL)
		} else {
			syscall.Kill(pid, syscall.SIGKILL)
		}
	}
	return nil
}

// StatsLite returns the session's cumulative stats.
func (s *Session) StatsLite() Stats {
	return Stats{
		BytesIn:   s.bytesIn.Load(),
		BytesOut:  s.bytesOut.Load(),
		ElapsedMs: uint64(time.Since(s.started).Milliseconds()),
	}
}

// PID returns the current child process id (0 if none is running).
func (s *Session) PID() int {
	s.childMu.Lock()
	defer s.childMu.Unlock()
	return s.pid
}
