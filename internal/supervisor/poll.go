package supervisor

import (
	"bytes"
	"time"

	"github.com/ianremillard/agency/internal/wire"
)

// pollExited wakes periodically, collects sessions whose child has
// exited but not yet been notified, and broadcasts Exited to each
// session's attached clients.
func (s *Supervisor) pollExited() {
	defer s.wg.Done()
	ticker := time.NewTicker(exitedPollPeriod)
	defer ticker.Stop()
	for {
		if s.shuttingDown.Load() {
			return
		}
		<-ticker.C
		for _, ev := range s.reg.CollectExited() {
			s.reg.BroadcastControl(ev.SessionID, wire.D2CControl{
				Tag:       wire.TagExited,
				HasCode:   ev.Info.HasCode,
				Code:      ev.Info.Code,
				HasSignal: ev.Info.HasSignal,
				Signal:    ev.Info.Signal,
				Stats:     ev.Stats,
			})
		}
	}
}

// pollSubscribers wakes roughly once a second, recomputes each
// subscribed project's snapshot, and broadcasts only when it differs
// from the cached prior snapshot.
func (s *Supervisor) pollSubscribers() {
	defer s.wg.Done()
	ticker := time.NewTicker(subscriberPeriod)
	defer ticker.Stop()
	for {
		if s.shuttingDown.Load() {
			return
		}
		<-ticker.C
		s.refreshSubscribers()
	}
}

func (s *Supervisor) refreshSubscribers() {
	s.subMu.Lock()
	projects := make(map[wire.ProjectKey][]*subscriber)
	for _, sub := range s.subscribers {
		projects[sub.project] = append(projects[sub.project], sub)
	}
	s.subMu.Unlock()

	for project, subs := range projects {
		ctrl := s.projectStateFor(project)
		encoded := wire.EncodeD2C(wire.D2C{Control: ctrl})

		s.subMu.Lock()
		prior, seen := s.lastSnap[project]
		changed := !seen || !bytes.Equal(prior, encoded)
		if changed {
			s.lastSnap[project] = encoded
		}
		s.subMu.Unlock()

		if !changed {
			continue
		}
		for _, sub := range subs {
			sub.client.SendControl(ctrl)
		}
	}
}

// projectStateFor computes a ProjectState snapshot from the registry's
// current view of project: the task set is derived from its sessions,
// since task markdown and git state live outside the core.
func (s *Supervisor) projectStateFor(project wire.ProjectKey) wire.D2CControl {
	entries := s.reg.ListSessions(&project)

	seen := make(map[uint32]bool)
	var tasks []wire.TaskMeta
	for _, e := range entries {
		if seen[e.Task.ID] {
			continue
		}
		seen[e.Task.ID] = true
		tasks = append(tasks, e.Task)
	}

	return wire.D2CControl{
		Tag:     wire.TagProjectState,
		Project: project,
		Tasks:   tasks,
		Entries: entries,
	}
}
