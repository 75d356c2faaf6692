package chanstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DobryySoul/chanstore/internal/protocol"
)

// handleFrame is the channel subscription. The bus calls it sequentially,
// so messages are applied and reported in arrival order.
func (s *Store) handleFrame(frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		s.reportErr(fmt.Errorf("chanstore: %w", err))
		return
	}

	if s.destroyed.Load() {
		return
	}
	if event, ok := s.apply(msg); ok {
		s.observers.notify(event)
	}
}

// apply updates the cache for one incoming message and returns the event
// to report, if the message changed anything visible.
func (s *Store) apply(msg protocol.Message) (ChangeEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case phaseBootstrapping:
		if msg.Kind == protocol.KindValues {
			s.acceptSnapshot(msg.Entries)
		}
		return ChangeEvent{}, false
	case phaseDestroyed:
		return ChangeEvent{}, false
	}

	switch msg.Kind {
	case protocol.KindRequest:
		s.post(context.Background(), protocol.Values(s.cache.Snapshot()))
		return ChangeEvent{}, false

	case protocol.KindSet:
		old, existed, changed := s.cache.Set(msg.Key, msg.Value)
		if !changed {
			return ChangeEvent{}, false
		}
		event := ChangeEvent{
			Key:      msg.Key,
			NewValue: stringPtr(msg.Value),
			URL:      s.cfg.URL,
		}
		if existed {
			event.OldValue = stringPtr(old)
		}
		return event, true

	case protocol.KindRemove:
		old, existed := s.cache.Delete(msg.Key)
		if !existed {
			return ChangeEvent{}, false
		}
		return ChangeEvent{
			Key:      msg.Key,
			OldValue: stringPtr(old),
			URL:      s.cfg.URL,
		}, true

	case protocol.KindClear:
		if n := s.cache.Clear(); n > 0 {
			s.logger.Debug("peer cleared store", slog.Int("dropped", n))
		}
		return ChangeEvent{URL: s.cfg.URL}, true

	case protocol.KindValues:
		// Snapshots only matter while bootstrapping.
		return ChangeEvent{}, false

	default:
		s.logger.Warn("unhandled message", slog.String("type", msg.Kind))
		return ChangeEvent{}, false
	}
}
