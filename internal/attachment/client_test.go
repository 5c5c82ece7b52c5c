package attachment

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/agency/internal/wire"
)

func TestControlBeforeOutputOrdering(t *testing.T) {
	c := New(1, 4)

	require.NoError(t, c.SendControl(wire.D2CControl{Tag: wire.TagAck, Stopped: 7}))
	assert.True(t, c.TrySend([]byte("terminal output")))

	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- c.Writer(&buf) }()

	time.Sleep(20 * time.Millisecond)
	c.Close()
	require.NoError(t, <-done)

	first, err := wire.ReadFrame(&buf)
	require.NoError(t, err)
	msg, err := wire.DecodeD2C(first)
	require.NoError(t, err)
	assert.False(t, msg.IsOutput)
	assert.Equal(t, wire.TagAck, msg.Control.Tag)

	second, err := wire.ReadFrame(&buf)
	require.NoError(t, err)
	msg2, err := wire.DecodeD2C(second)
	require.NoError(t, err)
	assert.True(t, msg2.IsOutput)
	assert.Equal(t, []byte("terminal output"), msg2.Output)
}

func TestOutputQueueDropsOldestWhenFull(t *testing.T) {
	c := New(1, 2)
	assert.True(t, c.TrySend([]byte("a")))
	assert.True(t, c.TrySend([]byte("b")))
	assert.True(t, c.TrySend([]byte("c")))
	assert.Equal(t, uint64(1), c.DroppedOutputFrames())
}

func TestWriterStopsAfterClose(t *testing.T) {
	c := New(1, 4)
	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- c.Writer(&buf) }()

	c.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not stop after close")
	}
}
