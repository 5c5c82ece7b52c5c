package vt100

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotReproducesContent(t *testing.T) {
	s := New(5, 20)
	s.Write([]byte("hello world"))

	ansi := s.Snapshot()
	require.NotEmpty(t, ansi)

	replay := New(5, 20)
	replay.Write(ansi)

	orig := New(5, 20)
	orig.Write([]byte("hello world"))

	assert.Equal(t, orig.term.Content, replay.term.Content)
}

func TestResizeUpdatesSize(t *testing.T) {
	s := New(24, 80)
	s.Resize(40, 120)
	rows, cols := s.Size()
	assert.Equal(t, 40, rows)
	assert.Equal(t, 120, cols)
}

func TestAltScreenEnterLeave(t *testing.T) {
	s := New(24, 80)
	assert.False(t, s.AltScreenActive())
	s.Write([]byte("\x1b[?1049h"))
	assert.True(t, s.AltScreenActive())
	s.Write([]byte("some content"))
	assert.True(t, s.AltScreenActive())
	s.Write([]byte("\x1b[?1049l"))
	assert.False(t, s.AltScreenActive())
}

func TestAltScreenSplitAcrossWrites(t *testing.T) {
	s := New(24, 80)
	seq := []byte("\x1b[?1049h")
	s.Write(seq[:4])
	assert.False(t, s.AltScreenActive())
	s.Write(seq[4:])
	assert.True(t, s.AltScreenActive())
}

func TestAlt47And1047Variants(t *testing.T) {
	for _, code := range []string{"47", "1047", "1049"} {
		s := New(10, 10)
		s.Write([]byte("\x1b[?" + code + "h"))
		assert.True(t, s.AltScreenActive(), "code %s", code)
		s.Write([]byte("\x1b[?" + code + "l"))
		assert.False(t, s.AltScreenActive(), "code %s", code)
	}
}
