package supervisor

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/teamlead/internal/team"
	"github.com/ShayCichocki/teamlead/internal/transcript"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

// Recover restores persisted sessions after a restart. Sessions that were
// starting or running are closed as completed since their invocations died
// with the previous process. Teammates without cached output get one
// transcript read, then teammates that were still live are stopped.
func (s *Supervisor) Recover(ctx context.Context) error {
	closed, err := s.opts.Store.CloseInterrupted(s.now())
	if err != nil {
		return fmt.Errorf("close interrupted sessions: %w", err)
	}
	if len(closed) > 0 {
		s.logger.Info("closed interrupted sessions", "count", len(closed))
	}

	records, err := s.opts.Store.LoadAll()
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	var missing, restored []models.Teammate
	s.mu.Lock()
	for _, rec := range records {
		if _, exists := s.sessions[rec.Session.ID]; exists {
			continue
		}
		s.sessions[rec.Session.ID] = &session{
			data:   rec.Session,
			output: rec.Output,
			tasks:  rec.Tasks,
		}
		s.registry.Restore(rec.Teammates)
		restored = append(restored, rec.Teammates...)
		for _, t := range rec.Teammates {
			if t.Output == "" {
				missing = append(missing, t)
			}
		}
	}
	s.mu.Unlock()

	recovered := 0
	touched := make(map[string]struct{})
	for _, t := range missing {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		path := t.TranscriptPath
		if path == "" {
			path = s.transcriptPath(t)
		}
		if _, ok := transcript.Recover(s.opts.Fs, s.registry, t.AgentID, path); ok {
			s.registry.SetTranscriptPath(t.AgentID, path)
			touched[t.SessionID] = struct{}{}
			recovered++
		}
	}

	// Sub-agents die with the runtime that spawned them; no hook will settle
	// the ones that were still live.
	stopped := 0
	for _, t := range restored {
		if cur, ok := s.registry.Get(t.AgentID); !ok || cur.Status.Settled() {
			continue
		}
		change, err := s.registry.Transition(t.AgentID, models.TeammateStopped, team.SourceRecover)
		if err != nil {
			s.logger.Warn("stop restored teammate", "agent_id", t.AgentID, "error", err)
			continue
		}
		if change.Changed {
			touched[t.SessionID] = struct{}{}
			stopped++
		}
	}

	for id := range touched {
		s.flush.now(id)
	}

	s.logger.Info("sessions restored", "sessions", len(records),
		"recovered_outputs", recovered, "stopped_teammates", stopped)
	return nil
}
