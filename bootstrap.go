package chanstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/DobryySoul/chanstore/internal/protocol"
)

// bootstrap subscribes to the channel, asks peers for their state and arms
// the response timer. The replica becomes ready when a snapshot is adopted
// or the timer fires, whichever the policy settles on first.
func (s *Store) bootstrap() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unsubscribe = s.channel.Subscribe(s.handleFrame)
	s.timer = time.AfterFunc(s.cfg.ResponseTimeout, s.bootstrapTimeout)
	s.post(context.Background(), protocol.Request())
}

// acceptSnapshot is called with s.mu held while bootstrapping.
func (s *Store) acceptSnapshot(entries map[string]string) {
	s.snapshots++
	switch s.cfg.BootstrapPolicy {
	case MergeSnapshots:
		if s.pending == nil {
			s.pending = make(map[string]string, len(entries))
		}
		for key, value := range entries {
			s.pending[key] = value
		}
	default:
		if s.timer != nil {
			s.timer.Stop()
		}
		s.resolve(entries, "snapshot")
	}
}

func (s *Store) bootstrapTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != phaseBootstrapping {
		return
	}
	reason := "timeout"
	if s.snapshots > 0 {
		reason = "merged"
	}
	s.resolve(s.pending, reason)
}

// resolve installs the initial cache in one step and releases waiting
// callers. Called with s.mu held.
func (s *Store) resolve(entries map[string]string, reason string) {
	s.cache.Replace(entries)
	s.pending = nil
	s.phase = phaseRunning
	close(s.ready)
	s.logger.Debug("bootstrap resolved",
		slog.String("reason", reason),
		slog.String("policy", s.cfg.BootstrapPolicy.String()),
		slog.Int("snapshots", s.snapshots),
		slog.Int("entries", len(entries)))
}
