package wire

import "fmt"

const (
	c2dKindControl byte = 0
	c2dKindInput   byte = 1
)

// EncodeC2D encodes one client-to-daemon frame payload.
func EncodeC2D(v C2D) []byte {
	e := &encoder{}
	if v.IsInput {
		e.buf.WriteByte(c2dKindInput)
		e.bytesField(v.Input)
		return e.buf.Bytes()
	}
	e.buf.WriteByte(c2dKindControl)
	encodeC2DControl(e, v.Control)
	return e.buf.Bytes()
}

// DecodeC2D decodes one client-to-daemon frame payload.
func DecodeC2D(payload []byte) (C2D, error) {
	d := &decoder{buf: payload}
	kind, err := d.byteField()
	if err != nil {
		return C2D{}, err
	}
	switch kind {
	case c2dKindInput:
		b, err := d.bytesField()
		if err != nil {
			return C2D{}, err
		}
		if err := d.done(); err != nil {
			return C2D{}, err
		}
		return C2D{IsInput: true, Input: b}, nil
	case c2dKindControl:
		ctrl, err := decodeC2DControl(d)
		if err != nil {
			return C2D{}, err
		}
		if err := d.done(); err != nil {
			return C2D{}, err
		}
		return C2D{Control: ctrl}, nil
	default:
		return C2D{}, fmt.Errorf("%w: unknown C2D kind %d", ErrDecode, kind)
	}
}

func encodeC2DControl(e *encoder, c C2DControl) {
	e.buf.WriteByte(byte(c.Tag))
	switch c.Tag {
	case TagOpenSession:
		var meta SessionOpenMeta
		if c.OpenSessionMeta != nil {
			meta = *c.OpenSessionMeta
		}
		e.sessionOpenMeta(meta)
		e.u16(c.Rows)
		e.u16(c.Cols)
	case TagJoinSession:
		e.u64(c.SessionID)
		e.u16(c.Rows)
		e.u16(c.Cols)
	case TagResize:
		e.u16(c.Rows)
		e.u16(c.Cols)
	case TagDetach:
		// no payload
	case TagRestartSession:
		e.u64(c.SessionID)
	case TagStopSession:
		e.u64(c.SessionID)
	case TagStopTask:
		e.projectKey(c.StopTaskProject)
		e.u32(c.StopTaskID)
		e.str(c.StopTaskSlug)
	case TagListSessions:
		e.boolean(c.ListProject != nil)
		if c.ListProject != nil {
			e.projectKey(*c.ListProject)
		}
	case TagSubscribeEvents:
		e.projectKey(c.SubscribeProj)
	case TagNotifyTasksChanged:
		e.projectKey(c.NotifyProject)
	case TagPing:
		e.u64(c.Nonce)
	case TagShutdown:
		// no payload
	case TagGetVersion:
		// no payload
	}
}

func decodeC2DControl(d *decoder) (C2DControl, error) {
	tagByte, err := d.byteField()
	if err != nil {
		return C2DControl{}, err
	}
	tag := C2DTag(tagByte)
	c := C2DControl{Tag: tag}
	switch tag {
	case TagOpenSession:
		meta, err := d.sessionOpenMeta()
		if err != nil {
			return C2DControl{}, err
		}
		c.OpenSessionMeta = &meta
		if c.Rows, err = d.u16(); err != nil {
			return C2DControl{}, err
		}
		if c.Cols, err = d.u16(); err != nil {
			return C2DControl{}, err
		}
	case TagJoinSession:
		if c.SessionID, err = d.u64(); err != nil {
			return C2DControl{}, err
		}
		if c.Rows, err = d.u16(); err != nil {
			return C2DControl{}, err
		}
		if c.Cols, err = d.u16(); err != nil {
			return C2DControl{}, err
		}
	case TagResize:
		if c.Rows, err = d.u16(); err != nil {
			return C2DControl{}, err
		}
		if c.Cols, err = d.u16(); err != nil {
			return C2DControl{}, err
		}
	case TagDetach:
	case TagRestartSession:
		if c.SessionID, err = d.u64(); err != nil {
			return C2DControl{}, err
		}
	case TagStopSession:
		if c.SessionID, err = d.u64(); err != nil {
			return C2DControl{}, err
		}
	case TagStopTask:
		if c.StopTaskProject, err = d.projectKey(); err != nil {
			return C2DControl{}, err
		}
		if c.StopTaskID, err = d.u32(); err != nil {
			return C2DControl{}, err
		}
		if c.StopTaskSlug, err = d.str(); err != nil {
			return C2DControl{}, err
		}
	case TagListSessions:
		has, err := d.boolean()
		if err != nil {
			return C2DControl{}, err
		}
		if has {
			pk, err := d.projectKey()
			if err != nil {
				return C2DControl{}, err
			}
			c.ListProject = &pk
		}
	case TagSubscribeEvents:
		if c.SubscribeProj, err = d.projectKey(); err != nil {
			return C2DControl{}, err
		}
	case TagNotifyTasksChanged:
		if c.NotifyProject, err = d.projectKey(); err != nil {
			return C2DControl{}, err
		}
	case TagPing:
		if c.Nonce, err = d.u64(); err != nil {
			return C2DControl{}, err
		}
	case TagShutdown:
	case TagGetVersion:
	default:
		return C2DControl{}, fmt.Errorf("%w: unknown C2D control tag %d", ErrDecode, tagByte)
	}
	return c, nil
}
