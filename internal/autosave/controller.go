// Package autosave debounces draft edits into persisted saves. Each open
// draft gets one Controller; rapid edits inside the debounce window coalesce
// into a single save of the latest snapshot, and at most one save per draft
// is ever in flight.
package autosave

import (
	"context"
	"sync"
	"time"
)

// State is the save lifecycle of one draft.
type State string

const (
	// StateClean means the persisted copy matches the last edit.
	StateClean State = "clean"
	// StatePendingSave means edits are buffered inside the debounce window.
	StatePendingSave State = "pending_save"
	// StateSaving means a save is in flight.
	StateSaving State = "saving"
	// StateError means the most recent save failed; the snapshot is retained
	// and the next edit or flush retries it.
	StateError State = "error"
)

// Snapshot is the full draft payload captured at edit time. Saves always
// write the newest snapshot; intermediate ones are discarded.
type Snapshot struct {
	DraftID     string
	StatementID string
	Version     int
	Title       string
	Subtitle    string
	HeaderImg   string
	Content     string
	EditedAt    time.Time
}

// Persister writes a snapshot to durable storage.
type Persister interface {
	SaveDraft(ctx context.Context, snap Snapshot) error
}

// Controller owns the debounce timer and save serialization for one draft.
type Controller struct {
	persister Persister
	window    time.Duration
	notify    func(State, error)

	mu       sync.Mutex
	state    State
	pending  *Snapshot
	timer    *time.Timer
	inflight bool
	queued   bool
	lastErr  error
	closed   bool
	idle     sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithNotify registers a callback invoked, outside the controller lock, on
// every state transition.
func WithNotify(fn func(State, error)) Option {
	return func(c *Controller) { c.notify = fn }
}

// NewController creates a controller that saves through persister after
// window of edit inactivity.
func NewController(persister Persister, window time.Duration, opts ...Option) *Controller {
	c := &Controller{
		persister: persister,
		window:    window,
		state:     StateClean,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Edit records a new snapshot and (re)starts the debounce window. Later
// edits replace the buffered snapshot, so only the newest content is saved.
func (c *Controller) Edit(snap Snapshot) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = &snap
	c.lastErr = nil
	c.setStateLocked(StatePendingSave, nil)

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.window, c.fire)
	c.mu.Unlock()
}

// Flush saves any buffered snapshot immediately, waiting for an in-flight
// save first so writes stay ordered. Used before destructive transitions
// such as save-as-new-version or closing the editor.
func (c *Controller) Flush(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		if c.inflight {
			c.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Millisecond):
			}
			continue
		}
		snap := c.pending
		if snap == nil {
			err := c.lastErr
			c.mu.Unlock()
			return err
		}
		c.pending = nil
		c.inflight = true
		c.setStateLocked(StateSaving, nil)
		c.mu.Unlock()

		err := c.persister.SaveDraft(ctx, *snap)

		c.mu.Lock()
		c.inflight = false
		c.finishLocked(snap, err)
		c.mu.Unlock()
		if err != nil {
			return err
		}
	}
}

// State returns the current lifecycle state and, in StateError, the failure.
func (c *Controller) State() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.lastErr
}

// Dirty reports whether unsaved edits exist (buffered or in flight).
func (c *Controller) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil || c.inflight
}

// Close stops the debounce timer and waits for any in-flight save. Buffered
// edits are NOT saved; call Flush first to keep them.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil
	c.mu.Unlock()
	c.idle.Wait()
}

// fire runs when the debounce window elapses.
func (c *Controller) fire() {
	c.mu.Lock()
	if c.closed || c.pending == nil {
		c.mu.Unlock()
		return
	}
	if c.inflight {
		// A save is already running; remember to go again with whatever is
		// buffered once it finishes.
		c.queued = true
		c.mu.Unlock()
		return
	}
	snap := c.pending
	c.pending = nil
	c.inflight = true
	c.idle.Add(1)
	c.setStateLocked(StateSaving, nil)
	c.mu.Unlock()

	go c.save(snap)
}

func (c *Controller) save(snap *Snapshot) {
	defer c.idle.Done()
	err := c.persister.SaveDraft(context.Background(), *snap)

	c.mu.Lock()
	c.inflight = false
	c.finishLocked(snap, err)
	rerun := c.queued && c.pending != nil && !c.closed
	c.queued = false
	c.mu.Unlock()

	if rerun {
		c.fire()
	}
}

// finishLocked settles state after a save attempt. On failure the snapshot
// is restored (unless a newer edit arrived meanwhile) so a retry saves it.
func (c *Controller) finishLocked(snap *Snapshot, err error) {
	if err != nil {
		c.lastErr = err
		if c.pending == nil {
			c.pending = snap
		}
		c.setStateLocked(StateError, err)
		return
	}
	c.lastErr = nil
	if c.pending != nil {
		c.setStateLocked(StatePendingSave, nil)
		return
	}
	c.setStateLocked(StateClean, nil)
}

func (c *Controller) setStateLocked(state State, err error) {
	if c.state == state && err == nil {
		return
	}
	c.state = state
	if c.notify != nil {
		notify := c.notify
		go notify(state, err)
	}
}
