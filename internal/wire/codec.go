package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameBytes is the fixed safety cap on an advertised frame length.
// read_frame refuses to allocate a payload larger than this.
const MaxFrameBytes = 16 * 1024 * 1024 // 16 MiB

// FrameHeaderLen is the size of the little-endian length prefix.
const FrameHeaderLen = 4

// Errors returned by ReadFrame/decode, named after the error kinds in
// the protocol design: a short read is Truncated, an oversized header is
// TooLarge, and a malformed payload is Decode.
var (
	ErrTruncated = errors.New("wire: truncated frame")
	ErrTooLarge  = errors.New("wire: frame exceeds size cap")
	ErrDecode    = errors.New("wire: malformed payload")
)

// WriteFrame writes one length-prefixed payload to w. It fails only on the
// underlying I/O error; the length is derived from len(payload) which is
// always representable in a uint32 given MaxFrameBytes.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [FrameHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one length-prefixed payload from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [FrameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrameBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return payload, nil
}

// ─── primitive encoders ─────────────────────────────────────────────────────

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) i32(v int32) { e.u32(uint32(v)) }

func (e *encoder) boolean(v bool) {
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

func (e *encoder) bytesField(v []byte) {
	e.u32(uint32(len(v)))
	e.buf.Write(v)
}

func (e *encoder) str(v string) {
	e.bytesField([]byte(v))
}

func (e *encoder) strSlice(v []string) {
	e.u32(uint32(len(v)))
	for _, s := range v {
		e.str(s)
	}
}

func (e *encoder) projectKey(p ProjectKey) {
	e.str(p.RepoRoot)
}

func (e *encoder) taskMeta(t TaskMeta) {
	e.u32(t.ID)
	e.str(t.Slug)
}

func (e *encoder) envVars(v []EnvVar) {
	e.u32(uint32(len(v)))
	for _, kv := range v {
		e.str(kv.Key)
		e.str(kv.Value)
	}
}

func (e *encoder) wireCommand(c WireCommand) {
	e.str(c.Program)
	e.strSlice(c.Args)
	e.str(c.Cwd)
	e.envVars(c.Env)
}

func (e *encoder) sessionOpenMeta(m SessionOpenMeta) {
	e.projectKey(m.Project)
	e.taskMeta(m.Task)
	e.str(m.WorktreeDir)
	e.wireCommand(m.Cmd)
}

func (e *encoder) stats(s SessionStats) {
	e.u64(s.BytesIn)
	e.u64(s.BytesOut)
	e.u64(s.ElapsedMs)
}

func (e *encoder) sessionInfo(s SessionInfo) {
	e.u64(s.SessionID)
	e.projectKey(s.Project)
	e.taskMeta(s.Task)
	e.str(s.Cwd)
	e.str(s.Status)
	e.u32(s.Clients)
	e.u64(s.CreatedAtMs)
	e.stats(s.Stats)
}

func (e *encoder) sessionInfoSlice(v []SessionInfo) {
	e.u32(uint32(len(v)))
	for _, s := range v {
		e.sessionInfo(s)
	}
}

func (e *encoder) taskMetaSlice(v []TaskMeta) {
	e.u32(uint32(len(v)))
	for _, t := range v {
		e.taskMeta(t)
	}
}

// ─── primitive decoders ─────────────────────────────────────────────────────

// decoder reads sequentially from a payload buffer, returning ErrDecode on
// any short read or invalid length so malformed frames never panic.
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) need(n int) ([]byte, error) {
	if d.pos+n > len(d.buf) {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrDecode, n, len(d.buf)-d.pos)
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) u16() (uint16, error) {
	b, err := d.need(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d *decoder) u32() (uint32, error) {
	b, err := d.need(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *decoder) u64() (uint64, error) {
	b, err := d.need(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *decoder) i32() (int32, error) {
	v, err := d.u32()
	return int32(v), err
}

func (d *decoder) boolean() (bool, error) {
	b, err := d.need(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (d *decoder) byteField() (byte, error) {
	b, err := d.need(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) bytesField() ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if n > MaxFrameBytes {
		return nil, fmt.Errorf("%w: field length %d exceeds cap", ErrDecode, n)
	}
	b, err := d.need(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (d *decoder) str() (string, error) {
	b, err := d.bytesField()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) strSlice() ([]string, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := d.str()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (d *decoder) projectKey() (ProjectKey, error) {
	s, err := d.str()
	return ProjectKey{RepoRoot: s}, err
}

func (d *decoder) taskMeta() (TaskMeta, error) {
	id, err := d.u32()
	if err != nil {
		return TaskMeta{}, err
	}
	slug, err := d.str()
	if err != nil {
		return TaskMeta{}, err
	}
	return TaskMeta{ID: id, Slug: slug}, nil
}

func (d *decoder) envVars() ([]EnvVar, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	out := make([]EnvVar, 0, n)
	for i := uint32(0); i < n; i++ {
		k, err := d.str()
		if err != nil {
			return nil, err
		}
		v, err := d.str()
		if err != nil {
			return nil, err
		}
		out = append(out, EnvVar{Key: k, Value: v})
	}
	return out, nil
}

func (d *decoder) wireCommand() (WireCommand, error) {
	program, err := d.str()
	if err != nil {
		return WireCommand{}, err
	}
	args, err := d.strSlice()
	if err != nil {
		return WireCommand{}, err
	}
	cwd, err := d.str()
	if err != nil {
		return WireCommand{}, err
	}
	env, err := d.envVars()
	if err != nil {
		return WireCommand{}, err
	}
	return WireCommand{Program: program, Args: args, Cwd: cwd, Env: env}, nil
}

func (d *decoder) sessionOpenMeta() (SessionOpenMeta, error) {
	project, err := d.projectKey()
	if err != nil {
		return SessionOpenMeta{}, err
	}
	task, err := d.taskMeta()
	if err != nil {
		return SessionOpenMeta{}, err
	}
	wd, err := d.str()
	if err != nil {
		return SessionOpenMeta{}, err
	}
	cmd, err := d.wireCommand()
	if err != nil {
		return SessionOpenMeta{}, err
	}
	return SessionOpenMeta{Project: project, Task: task, WorktreeDir: wd, Cmd: cmd}, nil
}

func (d *decoder) stats() (SessionStats, error) {
	bi, err := d.u64()
	if err != nil {
		return SessionStats{}, err
	}
	bo, err := d.u64()
	if err != nil {
		return SessionStats{}, err
	}
	el, err := d.u64()
	if err != nil {
		return SessionStats{}, err
	}
	return SessionStats{BytesIn: bi, BytesOut: bo, ElapsedMs: el}, nil
}

func (d *decoder) sessionInfo() (SessionInfo, error) {
	id, err := d.u64()
	if err != nil {
		return SessionInfo{}, err
	}
	project, err := d.projectKey()
	if err != nil {
		return SessionInfo{}, err
	}
	task, err := d.taskMeta()
	if err != nil {
		return SessionInfo{}, err
	}
	cwd, err := d.str()
	if err != nil {
		return SessionInfo{}, err
	}
	status, err := d.str()
	if err != nil {
		return SessionInfo{}, err
	}
	clients, err := d.u32()
	if err != nil {
		return SessionInfo{}, err
	}
	createdAt, err := d.u64()
	if err != nil {
		return SessionInfo{}, err
	}
	stats, err := d.stats()
	if err != nil {
		return SessionInfo{}, err
	}
	return SessionInfo{
		SessionID: id, Project: project, Task: task, Cwd: cwd, Status: status,
		Clients: clients, CreatedAtMs: createdAt, Stats: stats,
	}, nil
}

func (d *decoder) sessionInfoSlice() ([]SessionInfo, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	out := make([]SessionInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := d.sessionInfo()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (d *decoder) taskMetaSlice() ([]TaskMeta, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	out := make([]TaskMeta, 0, n)
	for i := uint32(0); i < n; i++ {
		t, err := d.taskMeta()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (d *decoder) done() error {
	if d.pos != len(d.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrDecode, len(d.buf)-d.pos)
	}
	return nil
}
