package attachment

import (
	"io"
	"sync"

	"github.com/ianremillard/agency/internal/wire"
)

// DefaultOutputQueueCapacity bounds how many output frames a slow client
// may have queued before the oldest is dropped.
const DefaultOutputQueueCapacity = 256

// Client is one attached client's outbound side: a reliable control
// queue and a bounded lossy output queue, fed by the session's reader
// pump (via TrySend) and by protocol handlers (via SendControl), and
// drained by Writer onto the client's connection.
//
// Client implements ptysession.OutputSink.
type Client struct {
	ID uint64

	control *controlQueue
	output  *outputQueue

	notify    chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

// New returns a Client ready to be registered as a session's output sink
// and driven by Writer.
func New(id uint64, outputCapacity int) *Client {
	notify := make(chan struct{}, 1)
	wake := func() {
		select {
		case notify <- struct{}{}:
		default:
		}
	}

	c := &Client{
		ID:      id,
		control: newControlQueue(),
		output:  newOutputQueue(outputCapacity),
		notify:  notify,
		closed:  make(chan struct{}),
	}
	c.control.wake = wake
	c.output.wake = wake
	return c
}

// TrySend encodes data as a D2C output frame and enqueues it on the
// lossy output queue. Never blocks. Satisfies ptysession.OutputSink.
func (c *Client) TrySend(data []byte) bool {
	payload := wire.EncodeD2C(wire.D2C{IsOutput: true, Output: data})
	return c.output.tryPush(payload)
}

// SendControl encodes ctrl as a D2C control frame and enqueues it on the
// reliable control queue. Never drops.
func (c *Client) SendControl(ctrl wire.D2CControl) error {
	payload := wire.EncodeD2C(wire.D2C{IsOutput: false, Control: ctrl})
	c.control.push(payload)
	return nil
}

// SendReplayOutput encodes data as a D2C output frame and enqueues it on
// the reliable control queue rather than the lossy output queue, since
// Writer always drains every queued control frame before any output
// frame: this guarantees a prefill replay sent right after Welcome is
// written to the wire ahead of any live output already queued for this
// client, without risking the drop a full output queue would otherwise
// apply to it. Never drops.
func (c *Client) SendReplayOutput(data []byte) error {
	payload := wire.EncodeD2C(wire.D2C{IsOutput: true, Output: data})
	c.control.push(payload)
	return nil
}

// DroppedOutputFrames reports how many output frames have been dropped
// for this client due to a full queue.
func (c *Client) DroppedOutputFrames() uint64 {
	return c.output.droppedCount()
}

// Writer drains the client's queues onto w until Close is called or a
// write fails. Every ready control frame is written before any output
// frame, so attachment protocol messages (Welcome, Ack, Exited, Goodbye,
// Error) never queue behind a burst of terminal output.
func (c *Client) Writer(w io.Writer) error {
	for {
		for {
			frame, ok := c.control.tryPop()
			if !ok {
				break
			}
			if err := wire.WriteFrame(w, frame); err != nil {
				return err
			}
		}

		if frame, ok := c.output.tryPop(); ok {
			if err := wire.WriteFrame(w, frame); err != nil {
				return err
			}
			continue
		}

		select {
		case <-c.notify:
		case <-c.closed:
			for {
				frame, ok := c.control.tryPop()
				if !ok {
					return nil
				}
				if err := wire.WriteFrame(w, frame); err != nil {
					return err
				}
			}
		}
	}
}

// Close stops Writer once its queues have drained any remaining control
// frames. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.control.close()
		c.output.close()
	})
}
