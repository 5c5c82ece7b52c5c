package supervisor

import (
	"bytes"
	"io"
	"log"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/agency/internal/registry"
	"github.com/ianremillard/agency/internal/wire"
)

func startTestSupervisor(t *testing.T) (*Supervisor, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agency.sock")
	l, err := net.Listen("unix", path)
	require.NoError(t, err)

	reg := registry.New()
	logger := log.New(io.Discard, "", 0)
	sup := New(logger, reg, l, path)
	go sup.Run()
	t.Cleanup(sup.Shutdown)
	return sup, path
}

func dial(t *testing.T, path string) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	return conn
}

func sendC2D(t *testing.T, conn net.Conn, c wire.C2D) {
	t.Helper()
	require.NoError(t, wire.WriteFrame(conn, wire.EncodeC2D(c)))
}

func recvD2C(t *testing.T, conn net.Conn) wire.D2C {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	payload, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	msg, err := wire.DecodeD2C(payload)
	require.NoError(t, err)
	return msg
}

func TestOpenSessionEchoRoundTrip(t *testing.T) {
	_, path := startTestSupervisor(t)
	conn := dial(t, path)
	defer conn.Close()

	sendC2D(t, conn, wire.C2D{Control: wire.C2DControl{
		Tag:  wire.TagOpenSession,
		Rows: 24, Cols: 80,
		OpenSessionMeta: &wire.SessionOpenMeta{
			Project: wire.ProjectKey{RepoRoot: "/repo"},
			Task:    wire.TaskMeta{ID: 7, Slug: "feat"},
			Cmd:     wire.WireCommand{Program: "/bin/sh"},
		},
	}})

	welcome := recvD2C(t, conn)
	require.Equal(t, wire.TagWelcome, welcome.Control.Tag)
	sessionID := welcome.Control.WelcomeSessionID
	assert.NotZero(t, sessionID)

	sendC2D(t, conn, wire.C2D{IsInput: true, Input: []byte("echo hi\n")})

	var all bytes.Buffer
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !bytes.Contains(all.Bytes(), []byte("hi")) {
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		payload, err := wire.ReadFrame(conn)
		if err != nil {
			continue
		}
		msg, err := wire.DecodeD2C(payload)
		require.NoError(t, err)
		if msg.IsOutput {
			all.Write(msg.Output)
		}
	}
	assert.Contains(t, all.String(), "hi")

	sendC2D(t, conn, wire.C2D{Control: wire.C2DControl{Tag: wire.TagDetach}})
}

func TestJoinSessionSeesSnapshot(t *testing.T) {
	_, path := startTestSupervisor(t)
	conn1 := dial(t, path)
	defer conn1.Close()

	sendC2D(t, conn1, wire.C2D{Control: wire.C2DControl{
		Tag: wire.TagOpenSession, Rows: 24, Cols: 80,
		OpenSessionMeta: &wire.SessionOpenMeta{
			Project: wire.ProjectKey{RepoRoot: "/repo"},
			Task:    wire.TaskMeta{ID: 7, Slug: "feat"},
			Cmd:     wire.WireCommand{Program: "/bin/sh"},
		},
	}})
	welcome := recvD2C(t, conn1)
	sessionID := welcome.Control.WelcomeSessionID

	sendC2D(t, conn1, wire.C2D{IsInput: true, Input: []byte("echo hi\n")})
	time.Sleep(300 * time.Millisecond)
	conn1.SetReadDeadline(time.Now().Add(time.Second))
	for {
		payload, err := wire.ReadFrame(conn1)
		if err != nil {
			break
		}
		_, _ = wire.DecodeD2C(payload)
	}

	conn2 := dial(t, path)
	defer conn2.Close()
	sendC2D(t, conn2, wire.C2D{Control: wire.C2DControl{
		Tag: wire.TagJoinSession, SessionID: sessionID, Rows: 24, Cols: 80,
	}})
	welcome2 := recvD2C(t, conn2)
	require.Equal(t, wire.TagWelcome, welcome2.Control.Tag)
	assert.Equal(t, sessionID, welcome2.Control.WelcomeSessionID)
}

func TestListSessionsAndStopTask(t *testing.T) {
	_, path := startTestSupervisor(t)

	for i := 0; i < 2; i++ {
		conn := dial(t, path)
		sendC2D(t, conn, wire.C2D{Control: wire.C2DControl{
			Tag: wire.TagOpenSession, Rows: 24, Cols: 80,
			OpenSessionMeta: &wire.SessionOpenMeta{
				Project: wire.ProjectKey{RepoRoot: "/repo"},
				Task:    wire.TaskMeta{ID: 7, Slug: "feat"},
				Cmd:     wire.WireCommand{Program: "/bin/sh"},
			},
		}})
		recvD2C(t, conn)
		conn.Close()
	}

	listConn := dial(t, path)
	sendC2D(t, listConn, wire.C2D{Control: wire.C2DControl{
		Tag:         wire.TagListSessions,
		ListProject: &wire.ProjectKey{RepoRoot: "/repo"},
	}})
	sessions := recvD2C(t, listConn)
	require.Equal(t, wire.TagSessions, sessions.Control.Tag)
	assert.Len(t, sessions.Control.Entries, 1) // second Open reused the first session
	listConn.Close()

	stopConn := dial(t, path)
	sendC2D(t, stopConn, wire.C2D{Control: wire.C2DControl{
		Tag:             wire.TagStopTask,
		StopTaskProject: wire.ProjectKey{RepoRoot: "/repo"},
		StopTaskID:      7,
	}})
	ack := recvD2C(t, stopConn)
	require.Equal(t, wire.TagAck, ack.Control.Tag)
	assert.Equal(t, uint32(1), ack.Control.Stopped)
	stopConn.Close()
}

func TestPingPong(t *testing.T) {
	_, path := startTestSupervisor(t)
	conn := dial(t, path)
	defer conn.Close()

	sendC2D(t, conn, wire.C2D{Control: wire.C2DControl{Tag: wire.TagPing, Nonce: 99}})
	pong := recvD2C(t, conn)
	assert.Equal(t, wire.TagPong, pong.Control.Tag)
	assert.Equal(t, uint64(99), pong.Control.PongNonce)
}
