package wire

import "fmt"

const (
	d2cKindControl byte = 0
	d2cKindOutput  byte = 1
)

// EncodeD2C encodes one daemon-to-client frame payload.
func EncodeD2C(v D2C) []byte {
	e := &encoder{}
	if v.IsOutput {
		e.buf.WriteByte(d2cKindOutput)
		e.bytesField(v.Output)
		return e.buf.Bytes()
	}
	e.buf.WriteByte(d2cKindControl)
	encodeD2CControl(e, v.Control)
	return e.buf.Bytes()
}

// DecodeD2C decodes one daemon-to-client frame payload.
func DecodeD2C(payload []byte) (D2C, error) {
	d := &decoder{buf: payload}
	kind, err := d.byteField()
	if err != nil {
		return D2C{}, err
	}
	switch kind {
	case d2cKindOutput:
		b, err := d.bytesField()
		if err != nil {
			return D2C{}, err
		}
		if err := d.done(); err != nil {
			return D2C{}, err
		}
		return D2C{IsOutput: true, Output: b}, nil
	case d2cKindControl:
		ctrl, err := decodeD2CControl(d)
		if err != nil {
			return D2C{}, err
		}
		if err := d.done(); err != nil {
			return D2C{}, err
		}
		return D2C{Control: ctrl}, nil
	default:
		return D2C{}, fmt.Errorf("%w: unknown D2C kind %d", ErrDecode, kind)
	}
}

func encodeD2CControl(e *encoder, c D2CControl) {
	e.buf.WriteByte(byte(c.Tag))
	switch c.Tag {
	case TagWelcome:
		e.u64(c.WelcomeSessionID)
		e.u16(c.Rows)
		e.u16(c.Cols)
		e.bytesField(c.ANSI)
	case TagSnapshot:
		e.bytesField(c.ANSI)
		e.u16(c.Rows)
		e.u16(c.Cols)
	case TagExited:
		e.boolean(c.HasCode)
		e.i32(c.Code)
		e.boolean(c.HasSignal)
		e.i32(c.Signal)
		e.stats(c.Stats)
	case TagSessions:
		e.sessionInfoSlice(c.Entries)
	case TagSessionsChanged:
		e.sessionInfoSlice(c.Entries)
	case TagTasksChanged:
		e.projectKey(c.Project)
	case TagProjectState:
		e.projectKey(c.Project)
		e.taskMetaSlice(c.Tasks)
		e.sessionInfoSlice(c.Entries)
		e.envVars(c.Metrics)
	case TagAck:
		e.u32(c.Stopped)
	case TagGoodbye:
		// no payload
	case TagError:
		e.str(c.Message)
	case TagPong:
		e.u64(c.PongNonce)
	case TagVersion:
		e.str(c.Version)
	}
}

func decodeD2CControl(d *decoder) (D2CControl, error) {
	tagByte, err := d.byteField()
	if err != nil {
		return D2CControl{}, err
	}
	tag := D2CTag(tagByte)
	c := D2CControl{Tag: tag}
	switch tag {
	case TagWelcome:
		if c.WelcomeSessionID, err = d.u64(); err != nil {
			return D2CControl{}, err
		}
		if c.Rows, err = d.u16(); err != nil {
			return D2CControl{}, err
		}
		if c.Cols, err = d.u16(); err != nil {
			return D2CControl{}, err
		}
		if c.ANSI, err = d.bytesField(); err != nil {
			return D2CControl{}, err
		}
	case TagSnapshot:
		if c.ANSI, err = d.bytesField(); err != nil {
			return D2CControl{}, err
		}
		if c.Rows, err = d.u16(); err != nil {
			return D2CControl{}, err
		}
		if c.Cols, err = d.u16(); err != nil {
			return D2CControl{}, err
		}
	case TagExited:
		if c.HasCode, err = d.boolean(); err != nil {
			return D2CControl{}, err
		}
		if c.Code, err = d.i32(); err != nil {
			return D2CControl{}, err
		}
		if c.HasSignal, err = d.boolean(); err != nil {
			return D2CControl{}, err
		}
		if c.Signal, err = d.i32(); err != nil {
			return D2CControl{}, err
		}
		if c.Stats, err = d.stats(); err != nil {
			return D2CControl{}, err
		}
	case TagSessions:
		if c.Entries, err = d.sessionInfoSlice(); err != nil {
			return D2CControl{}, err
		}
	case TagSessionsChanged:
		if c.Entries, err = d.sessionInfoSlice(); err != nil {
			return D2CControl{}, err
		}
	case TagTasksChanged:
		if c.Project, err = d.projectKey(); err != nil {
			return D2CControl{}, err
		}
	case TagProjectState:
		if c.Project, err = d.projectKey(); err != nil {
			return D2CControl{}, err
		}
		if c.Tasks, err = d.taskMetaSlice(); err != nil {
			return D2CControl{}, err
		}
		if c.Entries, err = d.sessionInfoSlice(); err != nil {
			return D2CControl{}, err
		}
		if c.Metrics, err = d.envVars(); err != nil {
			return D2CControl{}, err
		}
	case TagAck:
		if c.Stopped, err = d.u32(); err != nil {
			return D2CControl{}, err
		}
	case TagGoodbye:
	case TagError:
		if c.Message, err = d.str(); err != nil {
			return D2CControl{}, err
		}
	case TagPong:
		if c.PongNonce, err = d.u64(); err != nil {
			return D2CControl{}, err
		}
	case TagVersion:
		if c.Version, err = d.str(); err != nil {
			return D2CControl{}, err
		}
	default:
		return D2CControl{}, fmt.Errorf("%w: unknown D2C control tag %d", ErrDecode, tagByte)
	}
	return c, nil
}
