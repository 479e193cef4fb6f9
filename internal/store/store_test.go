package store

import (
	"context"
	"testing"
	"time"

	"github.com/statewheel/engine/internal/db"
	"github.com/statewheel/engine/internal/flow"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	pool, err := db.NewPool(db.PoolConfig{
		DSN:          "file::memory:?cache=shared",
		DriverName:   "sqlite3",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	s := New(pool)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestStore_SaveAndLoadContext(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sc := &flow.StateContext{
		ID:             "inst-1",
		CurrentStateID: "start",
		CreatedAt:      time.Now().Truncate(time.Second),
		LastUpdatedAt:  time.Now().Truncate(time.Second),
		LocalState:     map[string]interface{}{"amount": 100.0},
		GlobalState:    map[string]interface{}{},
		Metadata:       map[string]interface{}{},
	}
	if err := s.SaveContext(ctx, sc); err != nil {
		t.Fatalf("SaveContext: %v", err)
	}

	loaded, err := s.LoadContext(ctx, "inst-1")
	if err != nil {
		t.Fatalf("LoadContext: %v", err)
	}
	if loaded.CurrentStateID != "start" || loaded.LocalState["amount"] != 100.0 {
		t.Fatalf("unexpected loaded context: %+v", loaded)
	}
}

func TestStore_LoadContext_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.LoadContext(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing instance")
	}
}

func TestStore_SaveContextUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sc := &flow.StateContext{ID: "inst-2", CurrentStateID: "a", CreatedAt: time.Now(), LastUpdatedAt: time.Now(),
		LocalState: map[string]interface{}{}, GlobalState: map[string]interface{}{}, Metadata: map[string]interface{}{}}
	if err := s.SaveContext(ctx, sc); err != nil {
		t.Fatalf("SaveContext first: %v", err)
	}
	sc.CurrentStateID = "b"
	if err := s.SaveContext(ctx, sc); err != nil {
		t.Fatalf("SaveContext update: %v", err)
	}
	loaded, err := s.LoadContext(ctx, "inst-2")
	if err != nil {
		t.Fatalf("LoadContext: %v", err)
	}
	if loaded.CurrentStateID != "b" {
		t.Fatalf("expected upsert to state b, got %s", loaded.CurrentStateID)
	}
}

func TestStore_FindPausedInstances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	paused := &flow.StateContext{ID: "inst-paused", CurrentStateID: "waiting", CreatedAt: time.Now(), LastUpdatedAt: time.Now(),
		LocalState: map[string]interface{}{}, GlobalState: map[string]interface{}{},
		Metadata: map[string]interface{}{flow.MetaPausedAt: float64(123456), flow.MetaPausedState: "waiting"}}
	running := &flow.StateContext{ID: "inst-running", CurrentStateID: "active", CreatedAt: time.Now(), LastUpdatedAt: time.Now(),
		LocalState: map[string]interface{}{}, GlobalState: map[string]interface{}{}, Metadata: map[string]interface{}{}}

	if err := s.SaveContext(ctx, paused); err != nil {
		t.Fatalf("SaveContext paused: %v", err)
	}
	if err := s.SaveContext(ctx, running); err != nil {
		t.Fatalf("SaveContext running: %v", err)
	}

	ids, err := s.FindPausedInstances(ctx)
	if err != nil {
		t.Fatalf("FindPausedInstances: %v", err)
	}
	if len(ids) != 1 || ids[0] != "inst-paused" {
		t.Fatalf("expected only inst-paused, got %v", ids)
	}
}

func TestStore_StateHistoryAppendAndRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sc := &flow.StateContext{ID: "inst-3", CurrentStateID: "a", CreatedAt: time.Now(), LastUpdatedAt: time.Now(),
		LocalState: map[string]interface{}{}, GlobalState: map[string]interface{}{}, Metadata: map[string]interface{}{}}
	if err := s.SaveContext(ctx, sc); err != nil {
		t.Fatalf("SaveContext: %v", err)
	}

	entries := []flow.StateHistoryEntry{
		{ContextID: "inst-3", FromState: "", ToState: "a", Timestamp: time.Now()},
		{ContextID: "inst-3", FromState: "a", ToState: "b", EventID: "evt-1", Timestamp: time.Now()},
	}
	for _, e := range entries {
		if err := s.SaveStateHistory(ctx, e); err != nil {
			t.Fatalf("SaveStateHistory: %v", err)
		}
	}

	history, err := s.GetStateHistory(ctx, "inst-3")
	if err != nil {
		t.Fatalf("GetStateHistory: %v", err)
	}
	if len(history) != 2 || history[1].ToState != "b" || history[1].EventID != "evt-1" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestStore_SaveStepPersistsEventHistoryAndContextTogether(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sc := &flow.StateContext{ID: "inst-5", CurrentStateID: "start", CreatedAt: time.Now(), LastUpdatedAt: time.Now(),
		LocalState: map[string]interface{}{}, GlobalState: map[string]interface{}{}, Metadata: map[string]interface{}{}}
	evt := flow.Event{ID: "evt-5", Type: flow.EventTypeID{Namespace: "ns", Name: "go"}, Name: "go", Timestamp: time.Now()}
	entry := flow.StateHistoryEntry{ContextID: "inst-5", FromState: "start", ToState: "next", EventID: "evt-5", Timestamp: time.Now()}

	sc.CurrentStateID = "next"
	if err := s.SaveStep(ctx, "inst-5", &evt, &entry, sc); err != nil {
		t.Fatalf("SaveStep: %v", err)
	}

	loaded, err := s.LoadContext(ctx, "inst-5")
	if err != nil {
		t.Fatalf("LoadContext: %v", err)
	}
	if loaded.CurrentStateID != "next" {
		t.Fatalf("expected context advanced to next, got %s", loaded.CurrentStateID)
	}

	history, err := s.GetStateHistory(ctx, "inst-5")
	if err != nil {
		t.Fatalf("GetStateHistory: %v", err)
	}
	if len(history) != 1 || history[0].ToState != "next" {
		t.Fatalf("expected one history entry to next, got %+v", history)
	}
}

func TestStore_DeleteContextCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sc := &flow.StateContext{ID: "inst-4", CurrentStateID: "a", CreatedAt: time.Now(), LastUpdatedAt: time.Now(),
		LocalState: map[string]interface{}{}, GlobalState: map[string]interface{}{}, Metadata: map[string]interface{}{}}
	if err := s.SaveContext(ctx, sc); err != nil {
		t.Fatalf("SaveContext: %v", err)
	}
	if err := s.SaveStateHistory(ctx, flow.StateHistoryEntry{ContextID: "inst-4", ToState: "a", Timestamp: time.Now()}); err != nil {
		t.Fatalf("SaveStateHistory: %v", err)
	}

	if err := s.DeleteContext(ctx, "inst-4"); err != nil {
		t.Fatalf("DeleteContext: %v", err)
	}
	if _, err := s.LoadContext(ctx, "inst-4"); err == nil {
		t.Fatal("expected context gone after delete")
	}
	hist, err := s.GetStateHistory(ctx, "inst-4")
	if err != nil {
		t.Fatalf("GetStateHistory: %v", err)
	}
	if len(hist) != 0 {
		t.Fatalf("expected history cascaded away, got %v", hist)
	}
}
