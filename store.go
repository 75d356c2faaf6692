package chanstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/DobryySoul/chanstore/internal/cache"
	"github.com/DobryySoul/chanstore/internal/protocol"
)

type phase int

const (
	phaseBootstrapping phase = iota
	phaseRunning
	phaseDestroyed
)

// Store is one replica of a replicated string key-value store.
// It is safe for concurrent use by multiple goroutines.
//
// Every operation waits until the replica has finished bootstrapping.
// Set, Remove and Clear apply locally first and then broadcast the change
// without waiting for peers. Changes made by peers are reported to
// listeners; changes made through this Store are not.
type Store struct {
	cfg     Config
	logger  *slog.Logger
	channel Channel
	cache   *cache.Cache

	ready chan struct{}
	done  chan struct{}

	// mu serializes cache mutation together with the broadcast it causes,
	// so peers see changes in the order they were applied here.
	mu          sync.Mutex
	phase       phase
	timer       *time.Timer
	pending     map[string]string
	snapshots   int
	unsubscribe func()

	destroyed atomic.Bool
	observers *observers
}

// New creates a replica on the channel selected by the options, joins the
// bus and starts bootstrapping. It returns without waiting for bootstrap
// to finish.
func New(ctx context.Context, b Bus, opts ...Option) (*Store, error) {
	if b == nil {
		return nil, fmt.Errorf("chanstore: bus cannot be nil")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	channel, err := b.Open(ctx, cfg.ChannelName)
	if err != nil {
		return nil, fmt.Errorf("chanstore: open channel %q: %w", cfg.ChannelName, err)
	}

	logger := cfg.logger.With(
		slog.String("replica", cfg.ReplicaID),
		slog.String("channel", cfg.ChannelName))
	s := &Store{
		cfg:       cfg,
		logger:    logger,
		channel:   channel,
		cache:     cache.New(),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		observers: newObservers(logger),
	}
	s.bootstrap()
	return s, nil
}

// ReplicaID returns the identifier used in this replica's logs.
func (s *Store) ReplicaID() string { return s.cfg.ReplicaID }

// ChannelName returns the name of the channel the replica joined.
func (s *Store) ChannelName() string { return s.cfg.ChannelName }

// Ready blocks until bootstrap has finished.
func (s *Store) Ready(ctx context.Context) error {
	return s.await(ctx)
}

// Get returns the value stored under key and whether it is present.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	if err := s.await(ctx); err != nil {
		return "", false, err
	}
	value, ok := s.cache.Get(key)
	return value, ok, nil
}

// Set stores value under key and broadcasts the change. Setting the value
// a key already holds does nothing.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}
	if err := s.await(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == phaseDestroyed {
		return ErrDestroyed
	}
	if _, _, changed := s.cache.Set(key, value); !changed {
		return nil
	}
	s.post(ctx, protocol.Set(key, value))
	return nil
}

// Remove deletes key and broadcasts the change. Removing an absent key
// does nothing.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.await(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == phaseDestroyed {
		return ErrDestroyed
	}
	if _, existed := s.cache.Delete(key); !existed {
		return nil
	}
	s.post(ctx, protocol.Remove(key))
	return nil
}

// Clear drops every entry and broadcasts the clear, even when the store
// was already empty.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.await(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == phaseDestroyed {
		return ErrDestroyed
	}
	s.cache.Clear()
	s.post(ctx, protocol.Clear())
	return nil
}

// Len returns the number of stored entries.
func (s *Store) Len(ctx context.Context) (int, error) {
	if err := s.await(ctx); err != nil {
		return 0, err
	}
	return s.cache.Len(), nil
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := s.await(ctx); err != nil {
		return nil, err
	}
	keys := make([]string, 0, s.cache.Len())
	s.cache.Range(func(key, _ string) bool {
		keys = append(keys, key)
		return true
	})
	slices.Sort(keys)
	return keys, nil
}

// Snapshot returns a copy of every entry.
func (s *Store) Snapshot(ctx context.Context) (map[string]string, error) {
	if err := s.await(ctx); err != nil {
		return nil, err
	}
	return s.cache.Snapshot(), nil
}

// AddListener registers l for changes made by peers. Adding the same
// listener twice registers it once.
func (s *Store) AddListener(l Listener) error {
	if s.destroyed.Load() {
		return ErrDestroyed
	}
	return s.observers.add(l)
}

// RemoveListener unregisters l. Unknown listeners are ignored.
func (s *Store) RemoveListener(l Listener) {
	s.observers.remove(l)
}

// OnChange registers fn as a listener and returns a function that
// unregisters it.
func (s *Store) OnChange(fn func(ChangeEvent)) (func(), error) {
	if fn == nil {
		return nil, fmt.Errorf("chanstore: listener cannot be nil")
	}
	l := &funcListener{fn: fn}
	if err := s.AddListener(l); err != nil {
		return nil, err
	}
	return func() { s.RemoveListener(l) }, nil
}

// Destroy leaves the channel, detaches every listener and discards the
// cache. It is idempotent. Once it returns no listener call starts and
// other methods return ErrDestroyed. A listener that is already running,
// including one that calls Destroy itself, runs to completion.
func (s *Store) Destroy() error {
	if !s.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	s.observers.close()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.phase = phaseDestroyed
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	close(s.done)

	if unsubscribe != nil {
		unsubscribe()
	}
	s.cache.Clear()
	if err := s.channel.Close(); err != nil {
		return fmt.Errorf("chanstore: close channel: %w", err)
	}
	s.logger.Debug("replica destroyed")
	return nil
}

func (s *Store) await(ctx context.Context) error {
	if s.destroyed.Load() {
		return ErrDestroyed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-s.ready:
		if s.destroyed.Load() {
			return ErrDestroyed
		}
		return nil
	case <-s.done:
		return ErrDestroyed
	case <-ctx.Done():
		return mapContextErr(ctx.Err())
	}
}

// post encodes and broadcasts msg. Failures are reported, not returned:
// the local change has already been applied and delivery is best-effort.
func (s *Store) post(ctx context.Context, msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		s.reportErr(fmt.Errorf("chanstore: encode %s: %w", msg.Kind, err))
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.channel.Post(context.WithoutCancel(ctx), frame); err != nil {
		s.reportErr(fmt.Errorf("chanstore: post %s: %w", msg.Kind, err))
	}
}

func (s *Store) reportErr(err error) {
	s.logger.Warn("replication error", slog.String("error", err.Error()))
	s.cfg.errorHandler(err)
}

// Keys and values travel as JSON strings, which cannot carry invalid UTF-8
// without rewriting it.
func validateKey(key string) error {
	if key == "" || !utf8.ValidString(key) {
		return ErrInvalidKey
	}
	return nil
}

func validateValue(value string) error {
	if !utf8.ValidString(value) {
		return ErrInvalidValue
	}
	return nil
}
