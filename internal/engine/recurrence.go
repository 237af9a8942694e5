package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/notexe/live-reminder/internal/reminder"
)

type repeatEntry struct {
	timer *clock.Timer
	gen   uint64
}

// Recurrence re-notifies pinned reminders until they are acknowledged.
// It keeps at most one timer per reminder.
type Recurrence struct {
	store    Store
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger
	deliver  func(ctx context.Context, r reminder.Reminder)

	mu      sync.Mutex
	ctx     context.Context
	entries map[int64]*repeatEntry
	gen     uint64
	closed  bool
}

func newRecurrence(store Store, clk clock.Clock, interval time.Duration, logger *zap.Logger) *Recurrence {
	return &Recurrence{
		store:    store,
		clock:    clk,
		interval: interval,
		logger:   logger,
		ctx:      context.Background(),
		entries:  make(map[int64]*repeatEntry),
	}
}

func (rc *Recurrence) setContext(ctx context.Context) {
	rc.mu.Lock()
	rc.ctx = ctx
	rc.mu.Unlock()
}

// Arm starts the repeat timer for r, replacing any existing one.
func (rc *Recurrence) Arm(r reminder.Reminder) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.armLocked(r.ID)
}

// ensure arms r unless a timer already exists for it.
func (rc *Recurrence) ensure(r reminder.Reminder) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, ok := rc.entries[r.ID]; ok {
		return
	}
	rc.armLocked(r.ID)
}

func (rc *Recurrence) armLocked(id int64) {
	if rc.closed {
		return
	}
	if e, ok := rc.entries[id]; ok {
		e.timer.Stop()
	}

	rc.gen++
	gen := rc.gen
	rc.entries[id] = &repeatEntry{
		gen: gen,
		timer: rc.clock.AfterFunc(rc.interval, func() {
			rc.fire(id, gen)
		}),
	}
	rc.logger.Debug("repeat armed", zap.Int64("reminder_id", id), zap.Duration("interval", rc.interval))
}

func (rc *Recurrence) current(id int64, gen uint64) bool {
	e, ok := rc.entries[id]
	return ok && e.gen == gen && !rc.closed
}

func (rc *Recurrence) fire(id int64, gen uint64) {
	rc.mu.Lock()
	if !rc.current(id, gen) {
		rc.mu.Unlock()
		return
	}
	ctx := rc.ctx
	rc.mu.Unlock()

	r, err := rc.store.FindByID(ctx, id)
	if err != nil && !errors.Is(err, reminder.ErrNotFound) {
		// Keep the loop alive across a transient store failure.
		rc.logger.Warn("failed to re-read pinned reminder",
			zap.Int64("reminder_id", id),
			zap.Error(fmt.Errorf("%w: %w", ErrStoreUnavailable, err)))
		rc.mu.Lock()
		if rc.current(id, gen) {
			rc.armLocked(id)
		}
		rc.mu.Unlock()
		return
	}

	rc.mu.Lock()
	if !rc.current(id, gen) {
		// Stopped or re-armed while reading.
		rc.mu.Unlock()
		return
	}
	if err != nil || !r.Recurring() {
		delete(rc.entries, id)
		rc.mu.Unlock()
		rc.logger.Debug("dropping repeat",
			zap.Int64("reminder_id", id),
			zap.Error(ErrStaleRead))
		return
	}
	rc.mu.Unlock()

	rc.deliver(ctx, *r)
}

// Stop cancels the repeat timer for id, if any.
func (rc *Recurrence) Stop(id int64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if e, ok := rc.entries[id]; ok {
		e.timer.Stop()
		delete(rc.entries, id)
		rc.logger.Debug("repeat stopped", zap.Int64("reminder_id", id))
	}
}

// StopAll cancels every repeat timer. Later calls to Arm do nothing.
func (rc *Recurrence) StopAll() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	for id, e := range rc.entries {
		e.timer.Stop()
		delete(rc.entries, id)
	}
	rc.closed = true
}

// Active returns the ids with an armed repeat timer, sorted.
func (rc *Recurrence) Active() []int64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	ids := make([]int64, 0, len(rc.entries))
	for id := range rc.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Reconcile drops timers whose reminders no longer recur.
func (rc *Recurrence) Reconcile(ctx context.Context) error {
	for _, id := range rc.Active() {
		r, err := rc.store.FindByID(ctx, id)
		switch {
		case errors.Is(err, reminder.ErrNotFound):
			rc.Stop(id)
		case err != nil:
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		case !r.Recurring():
			rc.Stop(id)
		}
	}
	return nil
}
