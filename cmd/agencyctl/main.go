// agencyctl – the CLI client for agencyd.
//
// Usage:
//
//	agencyctl open <repo-root> <task-id> <slug> <program> [args...]
//	agencyctl join <session-id>
//	agencyctl list [repo-root]
//	agencyctl stop <session-id>
//	agencyctl stop-task <repo-root> <task-id> [slug]
//	agencyctl ping
//	agencyctl worktree create <repo-url> <data-dir> <slug> <branch>
//	agencyctl worktree remove <repo-url> <data-dir> <slug> <branch>
//
// Detach from an attached session with Ctrl-] (0x1D).
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ianremillard/agency/internal/config"
	"github.com/ianremillard/agency/internal/sockpath"
	"github.com/ianremillard/agency/internal/wire"
	"github.com/ianremillard/agency/internal/worktree"
	"golang.org/x/term"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "open":
		cmdOpen()
	case "join":
		cmdJoin()
	case "list":
		cmdList()
	case "stop":
		cmdStop()
	case "stop-task":
		cmdStopTask()
	case "ping":
		cmdPing()
	case "worktree":
		cmdWorktree()
	default:
		fmt.Fprintf(os.Stderr, "agencyctl: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `agencyctl – attach to PTY-backed agent sessions

  open <repo-root> <task-id> <slug> <program> [args...]
                              open or reattach to a task's session
  join <session-id>           attach to an existing session by id
  list [repo-root]            list sessions, optionally for one project
  stop <session-id>           stop a session
  stop-task <repo-root> <task-id> [slug]
                              stop every session for a task (and slug)
  ping                        round-trip check against the daemon
  worktree create <repo-url> <data-dir> <slug> <branch>
                              clone (if needed) and add a task worktree
  worktree remove <repo-url> <data-dir> <slug> <branch>
                              remove a task worktree and its branch

Detach from an attached session with Ctrl-].`)
}

func cmdWorktree() {
	if len(os.Args) < 7 {
		fmt.Fprintln(os.Stderr, "usage: agencyctl worktree <create|remove> <repo-url> <data-dir> <slug> <branch>")
		os.Exit(1)
	}
	action := os.Args[2]
	p := &worktree.Project{RepoURL: os.Args[3], DataDir: os.Args[4]}
	slug := os.Args[5]
	branch := os.Args[6]

	switch action {
	case "create":
		if err := worktree.EnsureMainCheckout(p, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "agencyctl: %v\n", err)
			os.Exit(1)
		}
		dir, err := worktree.Create(p, slug, branch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "agencyctl: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(dir)
	case "remove":
		worktree.Remove(p, slug, branch)
	default:
		fmt.Fprintf(os.Stderr, "agencyctl: unknown worktree action %q\n", action)
		os.Exit(1)
	}
}

func dial() net.Conn {
	path, err := sockpath.Default()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agencyctl: %v\n", err)
		os.Exit(1)
	}
	if cfg, err := config.Load(); err == nil && cfg.Sock != "" {
		path = cfg.Sock
	}
	if env := os.Getenv("AGENCY_SOCK"); env != "" {
		path = env
	}
	conn, err := net.Dial("unix", path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agencyctl: cannot connect to agencyd: %v\n", err)
		os.Exit(1)
	}
	return conn
}

// resolveRepo expands a configured project shortcut (the config file's
// projects list) to its repo root; a literal path passes through unchanged.
func resolveRepo(nameOrPath string) string {
	cfg, err := config.Load()
	if err != nil {
		return nameOrPath
	}
	return cfg.ResolveRepo(nameOrPath)
}

func termSize() (rows, cols uint16) {
	fd := int(os.Stdin.Fd())
	cols64, rows64, err := term.GetSize(fd)
	if err != nil {
		return 24, 80
	}
	return uint16(rows64), uint16(cols64)
}

func cmdOpen() {
	if len(os.Args) < 6 {
		fmt.Fprintln(os.Stderr, "usage: agencyctl open <repo-root> <task-id> <slug> <program> [args...]")
		os.Exit(1)
	}
	repoRoot := resolveRepo(os.Args[2])
	taskID, err := strconv.ParseUint(os.Args[3], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agencyctl: invalid task id: %v\n", err)
		os.Exit(1)
	}
	slug := os.Args[4]
	program := os.Args[5]
	args := os.Args[6:]

	rows, cols := termSize()
	conn := dial()

	wire.WriteFrame(conn, wire.EncodeC2D(wire.C2D{Control: wire.C2DControl{
		Tag: wire.TagOpenSession, Rows: rows, Cols: cols,
		OpenSessionMeta: &wire.SessionOpenMeta{
			Project: wire.ProjectKey{RepoRoot: repoRoot},
			Task:    wire.TaskMeta{ID: uint32(taskID), Slug: slug},
			Cmd:     wire.WireCommand{Program: program, Args: args, Cwd: repoRoot},
		},
	}}))

	runAttachLoop(conn)
}

func cmdJoin() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: agencyctl join <session-id>")
		os.Exit(1)
	}
	sessionID, err := strconv.ParseUint(os.Args[2], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agencyctl: invalid session id: %v\n", err)
		os.Exit(1)
	}
	rows, cols := termSize()
	conn := dial()
	wire.WriteFrame(conn, wire.EncodeC2D(wire.C2D{Control: wire.C2DControl{
		Tag: wire.TagJoinSession, SessionID: sessionID, Rows: rows, Cols: cols,
	}}))
	runAttachLoop(conn)
}

// runAttachLoop puts the terminal in raw mode and shuttles bytes between
// it and the session until the session says Goodbye or Error, the
// connection drops, or the user detaches with Ctrl-]. An Exited
// notification prints a notice but does not end the loop.
func runAttachLoop(conn net.Conn) {
	defer conn.Close()

	payload, err := wire.ReadFrame(conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agencyctl: %v\n", err)
		os.Exit(1)
	}
	welcome, err := wire.DecodeD2C(payload)
	if err != nil || welcome.Control.Tag != wire.TagWelcome {
		fmt.Fprintf(os.Stderr, "agencyctl: unexpected reply instead of Welcome\n")
		os.Exit(1)
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agencyctl: cannot set raw mode: %v\n", err)
		os.Exit(1)
	}
	defer term.Restore(fd, oldState)

	os.Stdout.Write(welcome.Control.ANSI)
	fmt.Fprintf(os.Stdout, "\r\n[agencyctl] attached to session %d (detach: Ctrl-])\r\n", welcome.Control.WelcomeSessionID)

	done := make(chan struct{}, 1)
	signalDone := func() {
		select {
		case done <- struct{}{}:
		default:
		}
	}

	go func() {
		for {
			payload, err := wire.ReadFrame(conn)
			if err != nil {
				signalDone()
				return
			}
			msg, err := wire.DecodeD2C(payload)
			if err != nil {
				signalDone()
				return
			}
			if msg.IsOutput {
				os.Stdout.Write(msg.Output)
				continue
			}
			switch msg.Control.Tag {
			case wire.TagExited:
				fmt.Fprintf(os.Stdout, "\r\n[agencyctl] session exited\r\n")
			case wire.TagGoodbye, wire.TagError:
				signalDone()
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				for i := 0; i < n; i++ {
					if buf[i] == 0x1D {
						wire.WriteFrame(conn, wire.EncodeC2D(wire.C2D{Control: wire.C2DControl{Tag: wire.TagDetach}}))
						signalDone()
						return
					}
				}
				wire.WriteFrame(conn, wire.EncodeC2D(wire.C2D{IsInput: true, Input: buf[:n]}))
			}
			if err != nil {
				signalDone()
				return
			}
		}
	}()

	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	go func() {
		for range winchCh {
			rows, cols := termSize()
			wire.WriteFrame(conn, wire.EncodeC2D(wire.C2D{Control: wire.C2DControl{
				Tag: wire.TagResize, Rows: rows, Cols: cols,
			}}))
		}
	}()

	<-done
	signal.Stop(winchCh)
	fmt.Fprintf(os.Stdout, "\r\n[agencyctl] detached\r\n")
}

func cmdList() {
	conn := dial()
	defer conn.Close()

	var project *wire.ProjectKey
	if len(os.Args) > 2 {
		project = &wire.ProjectKey{RepoRoot: resolveRepo(os.Args[2])}
	}
	wire.WriteFrame(conn, wire.EncodeC2D(wire.C2D{Control: wire.C2DControl{
		Tag: wire.TagListSessions, ListProject: project,
	}}))
	msg := readOneControl(conn)
	for _, e := range msg.Entries {
		fmt.Printf("%d\t%s\t%s/%s\t%s\tclients=%d\n", e.SessionID, e.Status, e.Project.RepoRoot, e.Task.Slug, e.Cwd, e.Clients)
	}
}

func cmdStop() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: agencyctl stop <session-id>")
		os.Exit(1)
	}
	sessionID, err := strconv.ParseUint(os.Args[2], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agencyctl: invalid session id: %v\n", err)
		os.Exit(1)
	}
	conn := dial()
	defer conn.Close()
	wire.WriteFrame(conn, wire.EncodeC2D(wire.C2D{Control: wire.C2DControl{
		Tag: wire.TagStopSession, SessionID: sessionID,
	}}))
	readOneControl(conn)
}

func cmdStopTask() {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "usage: agencyctl stop-task <repo-root> <task-id> [slug]")
		os.Exit(1)
	}
	taskID, err := strconv.ParseUint(os.Args[3], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agencyctl: invalid task id: %v\n", err)
		os.Exit(1)
	}
	var slug string
	if len(os.Args) > 4 {
		slug = os.Args[4]
	}
	conn := dial()
	defer conn.Close()
	wire.WriteFrame(conn, wire.EncodeC2D(wire.C2D{Control: wire.C2DControl{
		Tag:             wire.TagStopTask,
		StopTaskProject: wire.ProjectKey{RepoRoot: resolveRepo(os.Args[2])},
		StopTaskID:      uint32(taskID),
		StopTaskSlug:    slug,
	}}))
	msg := readOneControl(conn)
	fmt.Printf("stopped %d session(s)\n", msg.Stopped)
}

func cmdPing() {
	conn := dial()
	defer conn.Close()
	wire.WriteFrame(conn, wire.EncodeC2D(wire.C2D{Control: wire.C2DControl{Tag: wire.TagPing, Nonce: 1}}))
	readOneControl(conn)
	fmt.Println("pong")
}

func readOneControl(conn net.Conn) wire.D2CControl {
	payload, err := wire.ReadFrame(conn)
	if err != nil {
		if err == io.EOF {
			fmt.Fprintln(os.Stderr, "agencyctl: connection closed unexpectedly")
		} else {
			fmt.Fprintf(os.Stderr, "agencyctl: %v\n", err)
		}
		os.Exit(1)
	}
	msg, err := wire.DecodeD2C(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agencyctl: %v\n", err)
		os.Exit(1)
	}
	if msg.Control.Tag == wire.TagError {
		fmt.Fprintf(os.Stderr, "agencyctl: daemon error: %s\n", msg.Control.Message)
		os.Exit(1)
	}
	return msg.Control
}
