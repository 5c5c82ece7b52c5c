package supervisor

import (
	"net"

	"github.com/ianremillard/agency/internal/attachment"
	"github.com/ianremillard/agency/internal/snapshot"
	"github.com/ianremillard/agency/internal/wire"
)

// handleConn reads exactly one first frame and dispatches per the
// first-frame table. OpenSession and JoinSession continue into the
// session attachment reader/writer contract; every other variant
// replies once and closes.
func (s *Supervisor) handleConn(conn net.Conn) {
	defer conn.Close()

	payload, err := wire.ReadFrame(conn)
	if err != nil {
		return
	}
	msg, err := wire.DecodeC2D(payload)
	if err != nil || msg.IsInput {
		s.replyError(conn, "expected a control frame")
		return
	}

	switch msg.Control.Tag {
	case wire.TagOpenSession:
		s.handleOpenSession(conn, msg.Control)
	case wire.TagJoinSession:
		s.handleJoinSession(conn, msg.Control)
	case wire.TagListSessions:
		s.handleListSessions(conn, msg.Control)
	case wire.TagStopSession:
		s.handleStopSessionOneShot(conn, msg.Control)
	case wire.TagStopTask:
		s.handleStopTask(conn, msg.Control)
	case wire.TagShutdown:
		s.replyControl(conn, wire.D2CControl{Tag: wire.TagGoodbye})
		s.Shutdown()
	case wire.TagSubscribeEvents:
		s.handleSubscribe(conn, msg.Control)
	case wire.TagNotifyTasksChanged:
		s.refreshSubscribers()
		s.replyControl(conn, wire.D2CControl{Tag: wire.TagAck})
	case wire.TagPing:
		s.replyControl(conn, wire.D2CControl{Tag: wire.TagPong, PongNonce: msg.Control.Nonce})
	case wire.TagGetVersion:
		s.replyControl(conn, wire.D2CControl{Tag: wire.TagVersion, Version: Version})
	default:
		s.replyError(conn, "unexpected first frame")
	}
}

func (s *Supervisor) replyControl(conn net.Conn, ctrl wire.D2CControl) {
	wire.WriteFrame(conn, wire.EncodeD2C(wire.D2C{Control: ctrl}))
}

func (s *Supervisor) replyError(conn net.Conn, message string) {
	s.replyControl(conn, wire.D2CControl{Tag: wire.TagError, Message: message})
}

func (s *Supervisor) handleListSessions(conn net.Conn, c wire.C2DControl) {
	entries := s.reg.ListSessions(c.ListProject)
	s.replyControl(conn, wire.D2CControl{Tag: wire.TagSessions, Entries: entries})
}

func (s *Supervisor) handleStopSessionOneShot(conn net.Conn, c wire.C2DControl) {
	if err := s.reg.StopSession(c.SessionID); err != nil {
		s.replyError(conn, err.Error())
		return
	}
	s.replyControl(conn, wire.D2CControl{Tag: wire.TagGoodbye})
}

func (s *Supervisor) handleStopTask(conn net.Conn, c wire.C2DControl) {
	stopped := s.reg.StopTask(c.StopTaskProject, c.StopTaskID, c.StopTaskSlug)
	s.replyControl(conn, wire.D2CControl{Tag: wire.TagAck, Stopped: uint32(len(stopped))})
}

func (s *Supervisor) handleSubscribe(conn net.Conn, c wire.C2DControl) {
	clientID := s.reg.NewClientID()
	client := attachment.New(clientID, attachment.DefaultOutputQueueCapacity)

	s.subMu.Lock()
	s.subscribers[clientID] = &subscriber{project: c.SubscribeProj, client: client}
	s.subMu.Unlock()
	defer func() {
		s.subMu.Lock()
		delete(s.subscribers, clientID)
		s.subMu.Unlock()
		client.Close()
	}()

	client.SendControl(s.projectStateFor(c.SubscribeProj))

	writerDone := make(chan error, 1)
	go func() { writerDone <- client.Writer(conn) }()

	for {
		payload, err := wire.ReadFrame(conn)
		if err != nil {
			break
		}
		msg, err := wire.DecodeC2D(payload)
		if err != nil {
			break
		}
		if !msg.IsInput && msg.Control.Tag == wire.TagDetach {
			client.SendControl(wire.D2CControl{Tag: wire.TagGoodbye})
			break
		}
	}
	client.Close()
	<-writerDone
}

func (s *Supervisor) handleOpenSession(conn net.Conn, c wire.C2DControl) {
	if c.OpenSessionMeta == nil {
		s.replyError(conn, "OpenSession missing meta")
		return
	}
	meta := *c.OpenSessionMeta

	sessionID, ok := s.reg.FindLatestForTask(meta.Project, meta.Task.ID, meta.Task.Slug)
	if !ok {
		var err error
		sessionID, err = s.reg.CreateSession(meta, c.Rows, c.Cols)
		if err != nil {
			s.replyError(conn, err.Error())
			return
		}
	}
	s.attachAndServe(conn, sessionID, c.Rows, c.Cols)
}

func (s *Supervisor) handleJoinSession(conn net.Conn, c wire.C2DControl) {
	s.attachAndServe(conn, c.SessionID, c.Rows, c.Cols)
}

// attachAndServe performs the attachment handshake and then runs the
// reader contract for the remainder of the connection's life.
func (s *Supervisor) attachAndServe(conn net.Conn, sessionID uint64, rows, cols uint16) {
	if err := s.reg.EnsureRunningForAttach(sessionID); err != nil {
		s.replyError(conn, err.Error())
		return
	}
	if err := s.reg.ApplyResize(sessionID, rows, cols); err != nil {
		s.replyError(conn, err.Error())
		return
	}

	clientID := s.reg.NewClientID()
	client := attachment.New(clientID, attachment.DefaultOutputQueueCapacity)

	sess, err := s.reg.AttachClient(sessionID, clientID, client)
	if err != nil {
		s.replyError(conn, err.Error())
		return
	}

	ansi, snapRows, snapCols := sess.Snapshot()
	client.SendControl(wire.D2CControl{
		Tag:              wire.TagWelcome,
		WelcomeSessionID: sessionID,
		Rows:             uint16(snapRows),
		Cols:             uint16(snapCols),
		ANSI:             ansi,
	})

	// Prefill: replay is on by default, matching the original client's
	// implicit default. A client in the alternate screen already has a
	// full redraw from the snapshot above, so the scrollback suffix would
	// just be noise ahead of it.
	if !sess.AltScreenActive() {
		if history, err := s.reg.HistorySnapshot(sessionID); err == nil && len(history) > 0 {
			replay, _ := snapshot.Sanitize(history)
			if len(replay) > 0 {
				client.SendReplayOutput(replay)
			}
		}
	}

	writerDone := make(chan error, 1)
	go func() { writerDone <- client.Writer(conn) }()

	s.serveReader(conn, sessionID, client)

	s.reg.DetachClient(sessionID, clientID)
	client.Close()
	<-writerDone
}

// serveReader is the per-connection reader contract: it dispatches every
// C2D frame after the handshake until a frame error, EOF, Detach, or
// StopSession ends the connection.
func (s *Supervisor) serveReader(conn net.Conn, sessionID uint64, client *attachment.Client) {
	for {
		payload, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		msg, err := wire.DecodeC2D(payload)
		if err != nil {
			return
		}

		if msg.IsInput {
			if err := s.reg.WriteInput(sessionID, msg.Input); err != nil {
				client.SendControl(wire.D2CControl{Tag: wire.TagError, Message: err.Error()})
			}
			continue
		}

		switch msg.Control.Tag {
		case wire.TagResize:
			s.reg.ApplyResize(sessionID, msg.Control.Rows, msg.Control.Cols)
		case wire.TagDetach:
			client.SendControl(wire.D2CControl{Tag: wire.TagGoodbye})
			return
		case wire.TagPing:
			client.SendControl(wire.D2CControl{Tag: wire.TagPong, PongNonce: msg.Control.Nonce})
		case wire.TagRestartSession:
			if err := s.reg.RestartSession(sessionID); err != nil {
				client.SendControl(wire.D2CControl{Tag: wire.TagError, Message: err.Error()})
				continue
			}
			ansi, rows, cols, err := s.reg.Snapshot(sessionID)
			if err != nil {
				client.SendControl(wire.D2CControl{Tag: wire.TagError, Message: err.Error()})
				continue
			}
			client.SendControl(wire.D2CControl{
				Tag: wire.TagWelcome, WelcomeSessionID: sessionID,
				Rows: uint16(rows), Cols: uint16(cols), ANSI: ansi,
			})
		case wire.TagStopSession:
			s.reg.StopSession(sessionID)
			client.SendControl(wire.D2CControl{Tag: wire.TagGoodbye})
			return
		case wire.TagOpenSession, wire.TagJoinSession:
			client.SendControl(wire.D2CControl{Tag: wire.TagError, Message: "unexpected after handshake"})
			return
		default:
			client.SendControl(wire.D2CControl{Tag: wire.TagError, Message: "unexpected control frame"})
		}
	}
}
