// Package store persists conversation trackers between turns. Trackers are
// stored as their append-only event log; retrieval re-folds the log.
package store

import (
	"context"
	"sync"

	"converse/internal/tracker"
)

// TrackerStore saves and retrieves conversation trackers by sender id.
type TrackerStore interface {
	// Get returns the tracker for sender, or (nil, nil) when the sender is
	// unknown.
	Get(ctx context.Context, senderID string) (*tracker.Tracker, error)

	// Save persists the tracker's full event log, replacing any previous
	// state for the same sender.
	Save(ctx context.Context, t *tracker.Tracker) error

	// SenderIDs lists every known sender.
	SenderIDs(ctx context.Context) ([]string, error)

	Close() error
}

// InMemoryTrackerStore keeps trackers in a map. It is the default store and
// the one the tests use.
type InMemoryTrackerStore struct {
	mu       sync.RWMutex
	trackers map[string]*tracker.Tracker
}

// NewInMemoryTrackerStore returns an empty in-memory store.
func NewInMemoryTrackerStore() *InMemoryTrackerStore {
	return &InMemoryTrackerStore{trackers: map[string]*tracker.Tracker{}}
}

func (s *InMemoryTrackerStore) Get(_ context.Context, senderID string) (*tracker.Tracker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trackers[senderID]
	if !ok {
		return nil, nil
	}
	return t.Copy(), nil
}

func (s *InMemoryTrackerStore) Save(_ context.Context, t *tracker.Tracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackers[t.SenderID()] = t.Copy()
	return nil
}

func (s *InMemoryTrackerStore) SenderIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.trackers))
	for id := range s.trackers {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *InMemoryTrackerStore) Close() error { return nil }
