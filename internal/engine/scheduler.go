package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/notexe/live-reminder/internal/reminder"
)

// State is the scheduler's timer state.
type State int

const (
	// Idle means no timer is armed.
	Idle State = iota
	// Armed means one timer waits for the next due reminder.
	Armed
	// Retrying means a store query failed while idle and a retry is pending.
	Retrying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Retrying:
		return "retrying"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is a snapshot of the scheduler.
type Status struct {
	State    State     `json:"state"`
	TargetID int64     `json:"target_id,omitempty"`
	DueAt    time.Time `json:"due_at,omitempty"`
}

// Scheduler keeps at most one timer armed for the next eligible reminder.
type Scheduler struct {
	store      Store
	clock      clock.Clock
	logger     *zap.Logger
	retryDelay time.Duration
	deliver    func(ctx context.Context, r reminder.Reminder)

	mu       sync.Mutex
	ctx      context.Context
	timer    *clock.Timer
	gen      uint64
	seq      uint64
	state    State
	target   int64
	dueAt    time.Time
	inflight map[int64]struct{}
	retryAt  map[int64]time.Time
	stopped  bool
}

func newScheduler(store Store, clk clock.Clock, logger *zap.Logger, retryDelay time.Duration) *Scheduler {
	return &Scheduler{
		store:      store,
		clock:      clk,
		logger:     logger,
		retryDelay: retryDelay,
		ctx:        context.Background(),
		inflight:   make(map[int64]struct{}),
		retryAt:    make(map[int64]time.Time),
	}
}

// setContext sets the context used by timer-driven work.
func (s *Scheduler) setContext(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
}

// RescheduleNext queries the store for the next eligible reminder and
// replaces the armed timer with one for it. A reminder that is already
// due is delivered before RescheduleNext returns. When the query fails
// the previous timer is kept.
//
// Reminders held back after a failed delivery are left out of the query,
// so they do not delay others. The timer targets whichever comes first:
// the next eligible reminder or the earliest held-back retry.
func (s *Scheduler) RescheduleNext(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.seq++
	seq := s.seq
	held, retryID, retryDue := s.heldLocked()
	s.mu.Unlock()

	next, err := s.store.FindNextEligible(ctx, held...)

	s.mu.Lock()
	if s.stopped || seq != s.seq {
		// Stopped, or a later call owns the outcome.
		s.mu.Unlock()
		return
	}

	if err != nil {
		s.logger.Warn("failed to query next reminder",
			zap.Error(fmt.Errorf("%w: %w", ErrStoreUnavailable, err)))
		if s.timer == nil {
			s.armLocked(Retrying, 0, s.clock.Now().Add(s.retryDelay))
			s.logger.Info("reschedule retry armed", zap.Duration("delay", s.retryDelay))
		}
		s.mu.Unlock()
		return
	}

	s.cancelLocked()

	if retryID != 0 && (next == nil || retryDue.Before(*next.ReminderTime)) {
		s.armLocked(Armed, retryID, retryDue)
		s.mu.Unlock()
		s.logger.Debug("held-back reminder armed for retry",
			zap.Int64("reminder_id", retryID),
			zap.Time("due_at", retryDue))
		return
	}
	if next == nil {
		s.mu.Unlock()
		s.logger.Debug("no eligible reminder, scheduler idle")
		return
	}
	if _, busy := s.inflight[next.ID]; busy {
		// The running delivery reschedules when it finishes.
		s.mu.Unlock()
		return
	}

	due := *next.ReminderTime
	if !due.After(s.clock.Now()) {
		s.inflight[next.ID] = struct{}{}
		base := s.ctx
		s.mu.Unlock()

		s.logger.Debug("reminder already due, delivering now", zap.Int64("reminder_id", next.ID))
		s.deliver(base, *next)
		return
	}

	s.armLocked(Armed, next.ID, due)
	s.mu.Unlock()

	s.logger.Debug("timer armed",
		zap.Int64("reminder_id", next.ID),
		zap.Time("due_at", due))
}

// heldLocked drops expired holds and returns the ids still held back,
// with the one whose retry comes first. Callers hold s.mu.
func (s *Scheduler) heldLocked() (ids []int64, first int64, firstAt time.Time) {
	now := s.clock.Now()
	for id, until := range s.retryAt {
		if !until.After(now) {
			delete(s.retryAt, id)
			continue
		}
		ids = append(ids, id)
		if first == 0 || until.Before(firstAt) || (until.Equal(firstAt) && id < first) {
			first, firstAt = id, until
		}
	}
	return ids, first, firstAt
}

// armLocked replaces the timer. Callers hold s.mu.
func (s *Scheduler) armLocked(state State, id int64, due time.Time) {
	s.cancelLocked()

	s.gen++
	gen := s.gen
	s.state = state
	s.target = id
	s.dueAt = due
	s.timer = s.clock.AfterFunc(due.Sub(s.clock.Now()), func() {
		s.onFire(gen, id)
	})
}

// cancelLocked stops the timer and invalidates its callback. Callers hold s.mu.
func (s *Scheduler) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.state = Idle
	s.target = 0
	s.dueAt = time.Time{}
}

func (s *Scheduler) onFire(gen uint64, id int64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.state = Idle
	s.target = 0
	s.dueAt = time.Time{}
	ctx := s.ctx

	if id == 0 {
		s.mu.Unlock()
		s.RescheduleNext(ctx)
		return
	}
	if _, busy := s.inflight[id]; busy {
		s.mu.Unlock()
		return
	}
	s.inflight[id] = struct{}{}
	s.mu.Unlock()

	r, err := s.store.FindByID(ctx, id)
	switch {
	case errors.Is(err, reminder.ErrNotFound):
		s.logger.Debug("armed reminder is gone", zap.Int64("reminder_id", id))
	case err != nil:
		s.logger.Warn("failed to re-read armed reminder",
			zap.Int64("reminder_id", id),
			zap.Error(fmt.Errorf("%w: %w", ErrStoreUnavailable, err)))
	case !r.Eligible() || r.ReminderTime.After(s.clock.Now()):
		s.logger.Debug("armed reminder changed", zap.Int64("reminder_id", id))
	default:
		s.deliver(ctx, *r)
		return
	}

	s.release(id)
	s.RescheduleNext(ctx)
}

// settle ends an in-flight delivery. When the shown flag could not be
// persisted the reminder is held back for the retry delay.
func (s *Scheduler) settle(id int64, persisted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inflight, id)
	if persisted {
		delete(s.retryAt, id)
		return
	}
	s.retryAt[id] = s.clock.Now().Add(s.retryDelay)
}

// forget drops the hold on id. An edited or restored reminder is due at
// its own time again.
func (s *Scheduler) forget(id int64) {
	s.mu.Lock()
	delete(s.retryAt, id)
	s.mu.Unlock()
}

func (s *Scheduler) release(id int64) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// State reports the current timer state.
func (s *Scheduler) State() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{State: s.state, TargetID: s.target, DueAt: s.dueAt}
}

// Stop cancels the timer. Later calls to RescheduleNext do nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.stopped = true
}
