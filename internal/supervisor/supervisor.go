// Package supervisor implements the daemon's accept loop, first-frame
// dispatch, per-connection reader/writer handshake, exited-session
// polling, and the subscriber broadcast loop (spec §4.4, §4.5).
package supervisor

import (
	"errors"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ianremillard/agency/internal/attachment"
	"github.com/ianremillard/agency/internal/registry"
	"github.com/ianremillard/agency/internal/wire"
)

const (
	acceptIdleSleep  = 20 * time.Millisecond
	exitedPollPeriod = 250 * time.Millisecond
	subscriberPeriod = time.Second
)

// Supervisor owns the listener, the registry, and the set of event
// subscribers.
type Supervisor struct {
	log      *log.Logger
	reg      *registry.Registry
	listener net.Listener
	sockPath string

	shuttingDown atomic.Bool

	subMu       sync.Mutex
	subscribers map[uint64]*subscriber
	lastSnap    map[wire.ProjectKey][]byte

	wg sync.WaitGroup
}

type subscriber struct {
	project wire.ProjectKey
	client  *attachment.Client
}

// New returns a Supervisor listening on l with sockPath remembered so it
// can be unlinked on shutdown.
func New(logger *log.Logger, reg *registry.Registry, l net.Listener, sockPath string) *Supervisor {
	return &Supervisor{
		log:         logger,
		reg:         reg,
		listener:    l,
		sockPath:    sockPath,
		subscribers: make(map[uint64]*subscriber),
		lastSnap:    make(map[wire.ProjectKey][]byte),
	}
}

// Run drives the accept loop, the exited-session poller, and the
// subscriber broadcast loop until Shutdown is called or the listener
// errors. It blocks until all three have stopped.
func (s *Supervisor) Run() {
	s.wg.Add(2)
	go s.pollExited()
	go s.pollSubscribers()

	for {
		if s.shuttingDown.Load() {
			break
		}
		conn, err := s.acceptNonBlocking()
		if err != nil {
			if s.shuttingDown.Load() {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.log.Printf("accept failed: %v", err)
			s.shuttingDown.Store(true)
			break
		}
		if conn == nil {
			time.Sleep(acceptIdleSleep)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}

	s.teardown()
	s.wg.Wait()
}

// teardown stops every session best-effort and removes the socket file.
// Called once the accept loop has exited.
func (s *Supervisor) teardown() {
	for _, info := range s.reg.ListSessions(nil) {
		s.reg.StopSession(info.SessionID)
	}
	os.Remove(s.sockPath)
}

// acceptNonBlocking accepts with a short deadline so the loop can observe
// shutdown between connections without blocking indefinitely. Listeners
// that don't support SetDeadline (rare for unix sockets) fall back to a
// plain blocking Accept.
func (s *Supervisor) acceptNonBlocking() (net.Conn, error) {
	type deadliner interface {
		SetDeadline(time.Time) error
	}
	if dl, ok := s.listener.(deadliner); ok {
		dl.SetDeadline(time.Now().Add(acceptIdleSleep))
	}
	return s.listener.Accept()
}

// Shutdown sets the shutdown flag and closes the listener. Run then leaves
// its accept loop and, in teardown, stops every session and removes the
// socket file.
func (s *Supervisor) Shutdown() {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	s.listener.Close()
}
