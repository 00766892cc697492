package store

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"converse/internal/tracker"

	"github.com/google/go-cmp/cmp"
)

func sampleTracker(senderID string) *tracker.Tracker {
	t := tracker.NewWithSlots(senderID, map[string]any{"cuisine": nil})
	t.Update(tracker.NewActionExecuted("action_listen", "", 1.0))
	t.Update(tracker.NewUserUttered("I want chinese food",
		tracker.Intent{Name: "request_restaurant", Confidence: 0.95}, nil))
	t.Update(tracker.SlotSet{Key: "cuisine", Value: "chinese"})
	t.Update(tracker.NewActionExecuted("utter_ask_people", "policy_0_MemoizationPolicy", 1.0))
	return t
}

func testRoundTrip(t *testing.T, s TrackerStore) {
	ctx := context.Background()

	if got, err := s.Get(ctx, "nobody"); err != nil || got != nil {
		t.Fatalf("Get(unknown) = %v, %v; want nil, nil", got, err)
	}

	saved := sampleTracker("alice")
	if err := s.Save(ctx, saved); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := s.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if loaded == nil {
		t.Fatal("Get() returned nil for a saved sender")
	}
	if len(loaded.Events()) != len(saved.Events()) {
		t.Fatalf("loaded %d events, want %d", len(loaded.Events()), len(saved.Events()))
	}
	if got := loaded.SlotValue("cuisine"); got != "chinese" {
		t.Errorf("loaded cuisine slot = %v, want chinese", got)
	}
	if got := loaded.LatestActionName(); got != "utter_ask_people" {
		t.Errorf("loaded latest action = %q", got)
	}
	if loaded.LatestMessage() == nil || loaded.LatestMessage().Intent.Name != "request_restaurant" {
		t.Errorf("loaded latest message = %+v", loaded.LatestMessage())
	}
}

func testSaveReplaces(t *testing.T, s TrackerStore) {
	ctx := context.Background()

	first := sampleTracker("bob")
	if err := s.Save(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := tracker.New("bob")
	second.Update(tracker.NewActionExecuted("action_listen", "", 1.0))
	if err := s.Save(ctx, second); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.Get(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Events()) != 1 {
		t.Errorf("Save did not replace prior state, got %d events", len(loaded.Events()))
	}
}

func testSenderIDs(t *testing.T, s TrackerStore) {
	ctx := context.Background()
	for _, id := range []string{"carol", "dave"} {
		if err := s.Save(ctx, sampleTracker(id)); err != nil {
			t.Fatal(err)
		}
	}
	ids, err := s.SenderIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(ids)
	if diff := cmp.Diff([]string{"carol", "dave"}, ids); diff != "" {
		t.Errorf("SenderIDs() mismatch (-want +got):\n%s", diff)
	}
}

func TestInMemoryTrackerStore(t *testing.T) {
	t.Run("round trip", func(t *testing.T) { testRoundTrip(t, NewInMemoryTrackerStore()) })
	t.Run("save replaces", func(t *testing.T) { testSaveReplaces(t, NewInMemoryTrackerStore()) })
	t.Run("sender ids", func(t *testing.T) { testSenderIDs(t, NewInMemoryTrackerStore()) })
}

func TestInMemoryStoreIsolatesCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryTrackerStore()

	saved := sampleTracker("eve")
	if err := s.Save(ctx, saved); err != nil {
		t.Fatal(err)
	}
	// Mutating the caller's tracker after Save must not leak into the store.
	saved.Update(tracker.SlotSet{Key: "cuisine", Value: "mutated"})

	loaded, err := s.Get(ctx, "eve")
	if err != nil {
		t.Fatal(err)
	}
	if got := loaded.SlotValue("cuisine"); got != "chinese" {
		t.Errorf("store shares state with caller, cuisine = %v", got)
	}
}

func newSQLiteStore(t *testing.T) *SQLiteTrackerStore {
	t.Helper()
	s, err := NewSQLiteTrackerStore(filepath.Join(t.TempDir(), "trackers.db"))
	if err != nil {
		t.Fatalf("NewSQLiteTrackerStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteTrackerStore(t *testing.T) {
	t.Run("round trip", func(t *testing.T) { testRoundTrip(t, newSQLiteStore(t)) })
	t.Run("save replaces", func(t *testing.T) { testSaveReplaces(t, newSQLiteStore(t)) })
	t.Run("sender ids", func(t *testing.T) { testSenderIDs(t, newSQLiteStore(t)) })
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trackers.db")

	s, err := NewSQLiteTrackerStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, sampleTracker("frank")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLiteTrackerStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	loaded, err := reopened.Get(ctx, "frank")
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil || loaded.SlotValue("cuisine") != "chinese" {
		t.Errorf("state lost across reopen: %+v", loaded)
	}
}
