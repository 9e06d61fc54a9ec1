package autosave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePersister struct {
	mu    sync.Mutex
	saves []Snapshot
	err   error
	delay time.Duration
}

func (f *fakePersister) SaveDraft(ctx context.Context, snap Snapshot) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saves = append(f.saves, snap)
	return nil
}

func (f *fakePersister) saved() []Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Snapshot(nil), f.saves...)
}

func snapshot(content string) Snapshot {
	return Snapshot{DraftID: "draft_1", StatementID: "st_1", Version: 1, Content: content, EditedAt: time.Now()}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestEditsCoalesceIntoOneSave(t *testing.T) {
	persister := &fakePersister{}
	controller := NewController(persister, 50*time.Millisecond)
	defer controller.Close()

	for i, content := range []string{"v1", "v2", "v3", "final"} {
		controller.Edit(snapshot(content))
		if i < 3 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if state, _ := controller.State(); state != StatePendingSave {
		t.Fatalf("state during window = %s", state)
	}

	waitFor(t, time.Second, func() bool {
		state, _ := controller.State()
		return state == StateClean
	})

	saves := persister.saved()
	if len(saves) != 1 {
		t.Fatalf("got %d saves, want 1", len(saves))
	}
	if saves[0].Content != "final" {
		t.Fatalf("saved content = %q, want final", saves[0].Content)
	}
	if controller.Dirty() {
		t.Fatal("controller dirty after clean save")
	}
}

func TestFlushSavesImmediately(t *testing.T) {
	persister := &fakePersister{}
	controller := NewController(persister, time.Hour)
	defer controller.Close()

	controller.Edit(snapshot("buffered"))
	if err := controller.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	saves := persister.saved()
	if len(saves) != 1 || saves[0].Content != "buffered" {
		t.Fatalf("saves = %+v", saves)
	}
	if state, _ := controller.State(); state != StateClean {
		t.Fatalf("state = %s, want clean", state)
	}
}

func TestFlushWithNothingPendingIsNoop(t *testing.T) {
	persister := &fakePersister{}
	controller := NewController(persister, time.Hour)
	defer controller.Close()

	if err := controller.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(persister.saved()) != 0 {
		t.Fatalf("unexpected saves: %+v", persister.saved())
	}
}

func TestSaveFailureEntersErrorStateAndRetains(t *testing.T) {
	persister := &fakePersister{err: errors.New("connection refused")}
	controller := NewController(persister, 10*time.Millisecond)
	defer controller.Close()

	controller.Edit(snapshot("important"))
	waitFor(t, time.Second, func() bool {
		state, _ := controller.State()
		return state == StateError
	})

	if _, err := controller.State(); err == nil {
		t.Fatal("error state without error")
	}
	if !controller.Dirty() {
		t.Fatal("failed save must retain the snapshot")
	}

	// Clearing the fault and flushing saves the retained snapshot.
	persister.mu.Lock()
	persister.err = nil
	persister.mu.Unlock()

	if err := controller.Flush(context.Background()); err != nil {
		t.Fatalf("Flush after recovery: %v", err)
	}
	saves := persister.saved()
	if len(saves) != 1 || saves[0].Content != "important" {
		t.Fatalf("saves = %+v", saves)
	}
}

func TestEditDuringInflightSaveQueuesFollowup(t *testing.T) {
	persister := &fakePersister{delay: 40 * time.Millisecond}
	controller := NewController(persister, 10*time.Millisecond)
	defer controller.Close()

	controller.Edit(snapshot("first"))
	waitFor(t, time.Second, func() bool {
		state, _ := controller.State()
		return state == StateSaving
	})
	controller.Edit(snapshot("second"))

	waitFor(t, 2*time.Second, func() bool {
		state, _ := controller.State()
		return state == StateClean && len(persister.saved()) == 2
	})

	saves := persister.saved()
	if saves[0].Content != "first" || saves[1].Content != "second" {
		t.Fatalf("save order = %q, %q", saves[0].Content, saves[1].Content)
	}
}

func TestCloseDropsBufferedEdits(t *testing.T) {
	persister := &fakePersister{}
	controller := NewController(persister, time.Hour)

	controller.Edit(snapshot("doomed"))
	controller.Close()

	if len(persister.saved()) != 0 {
		t.Fatalf("saves after close = %+v", persister.saved())
	}
	controller.Edit(snapshot("ignored"))
	if controller.Dirty() {
		t.Fatal("closed controller accepted an edit")
	}
}

func TestNotifyObservesTransitions(t *testing.T) {
	persister := &fakePersister{}
	var mu sync.Mutex
	var states []State
	controller := NewController(persister, 10*time.Millisecond, WithNotify(func(state State, err error) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
	}))
	defer controller.Close()

	controller.Edit(snapshot("watched"))
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, state := range states {
			if state == StateClean {
				return true
			}
		}
		return false
	})

	mu.Lock()
	defer mu.Unlock()
	seen := map[State]bool{}
	for _, state := range states {
		seen[state] = true
	}
	if !seen[StatePendingSave] || !seen[StateSaving] {
		t.Fatalf("transitions = %v", states)
	}
}
