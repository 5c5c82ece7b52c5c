package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		{},
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB}, 70000),
	}
	for _, p := range payloads {
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, p))
		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, len(p), len(got))
		assert.True(t, bytes.Equal(p, got))
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	hdr := make([]byte, FrameHeaderLen)
	// Advertise a length larger than the cap without supplying the bytes;
	// ReadFrame must reject before attempting to read the payload.
	for i := range hdr {
		hdr[i] = 0xFF
	}
	buf.Write(hdr)
	_, err := ReadFrame(&buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLarge))
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{3, 0, 0, 0}) // advertises 3 bytes
	buf.Write([]byte("a"))        // supplies 1
	_, err := ReadFrame(&buf)
	require.Error(t, err)
}

func c2dSamples() []C2D {
	meta := SessionOpenMeta{
		Project: ProjectKey{RepoRoot: "/repo"},
		Task:    TaskMeta{ID: 7, Slug: "feat"},
		WorktreeDir: "/repo/.worktrees/7",
		Cmd: WireCommand{
			Program: "/bin/sh",
			Args:    []string{"-c", "true"},
			Cwd:     "/repo/.worktrees/7",
			Env:     []EnvVar{{Key: "AGENCY_TASK_ID", Value: "7"}},
		},
	}
	pk := ProjectKey{RepoRoot: "/repo"}
	return []C2D{
		{Control: C2DControl{Tag: TagOpenSession, OpenSessionMeta: &meta, Rows: 24, Cols: 80}},
		{Control: C2DControl{Tag: TagJoinSession, SessionID: 42, Rows: 24, Cols: 80}},
		{Control: C2DControl{Tag: TagResize, Rows: 40, Cols: 120}},
		{Control: C2DControl{Tag: TagDetach}},
		{Control: C2DControl{Tag: TagRestartSession, SessionID: 42}},
		{Control: C2DControl{Tag: TagStopSession, SessionID: 42}},
		{Control: C2DControl{Tag: TagStopTask, StopTaskProject: pk, StopTaskID: 7, StopTaskSlug: "feat"}},
		{Control: C2DControl{Tag: TagListSessions}},
		{Control: C2DControl{Tag: TagListSessions, ListProject: &pk}},
		{Control: C2DControl{Tag: TagSubscribeEvents, SubscribeProj: pk}},
		{Control: C2DControl{Tag: TagNotifyTasksChanged, NotifyProject: pk}},
		{Control: C2DControl{Tag: TagPing, Nonce: 9999}},
		{Control: C2DControl{Tag: TagShutdown}},
		{Control: C2DControl{Tag: TagGetVersion}},
		{IsInput: true, Input: []byte("echo hi\n")},
		{IsInput: true, Input: []byte{}},
	}
}

func TestC2DRoundTrip(t *testing.T) {
	for _, v := range c2dSamples() {
		enc := EncodeC2D(v)
		assert.LessOrEqual(t, len(enc), MaxFrameBytes)
		got, err := DecodeC2D(enc)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func d2cSamples() []D2C {
	pk := ProjectKey{RepoRoot: "/repo"}
	stats := SessionStats{BytesIn: 3, BytesOut: 128, ElapsedMs: 4500}
	entry := SessionInfo{
		SessionID: 1, Project: pk, Task: TaskMeta{ID: 7, Slug: "feat"},
		Cwd: "/repo/.worktrees/7", Status: "Running", Clients: 1,
		CreatedAtMs: 1000, Stats: stats,
	}
	return []D2C{
		{Control: D2CControl{Tag: TagWelcome, WelcomeSessionID: 1, Rows: 24, Cols: 80, ANSI: []byte("\x1b[2J")}},
		{Control: D2CControl{Tag: TagSnapshot, ANSI: []byte("\x1b[2J"), Rows: 24, Cols: 80}},
		{Control: D2CControl{Tag: TagExited, HasCode: true, Code: 3, Stats: stats}},
		{Control: D2CControl{Tag: TagExited, HasSignal: true, Signal: 9, Stats: stats}},
		{Control: D2CControl{Tag: TagSessions, Entries: []SessionInfo{entry}}},
		{Control: D2CControl{Tag: TagSessionsChanged, Entries: []SessionInfo{entry, entry}}},
		{Control: D2CControl{Tag: TagTasksChanged, Project: pk}},
		{Control: D2CControl{Tag: TagProjectState, Project: pk, Tasks: []TaskMeta{{ID: 7, Slug: "feat"}}, Entries: []SessionInfo{entry}, Metrics: []EnvVar{{Key: "active", Value: "1"}}}},
		{Control: D2CControl{Tag: TagAck, Stopped: 2}},
		{Control: D2CControl{Tag: TagGoodbye}},
		{Control: D2CControl{Tag: TagError, Message: "unexpected after handshake"}},
		{Control: D2CControl{Tag: TagPong, PongNonce: 123}},
		{Control: D2CControl{Tag: TagVersion, Version: "0.1.0"}},
		{IsOutput: true, Output: []byte("hi\r\n")},
	}
}

func TestD2CRoundTrip(t *testing.T) {
	for _, v := range d2cSamples() {
		enc := EncodeD2C(v)
		assert.LessOrEqual(t, len(enc), MaxFrameBytes)
		got, err := DecodeD2C(enc)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestDecodeC2DMalformed(t *testing.T) {
	_, err := DecodeC2D([]byte{0xFF})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestDecodeD2CMalformed(t *testing.T) {
	_, err := DecodeD2C(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestFrameCarriesEncodedLength(t *testing.T) {
	v := C2D{IsInput: true, Input: []byte("payload")}
	enc := EncodeC2D(v)
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, enc))
	all := buf.Bytes()
	length := uint32(all[0]) | uint32(all[1])<<8 | uint32(all[2])<<16 | uint32(all[3])<<24
	assert.Equal(t, uint32(len(enc)), length)
}
