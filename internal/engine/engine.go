// Package engine schedules reminders, delivers notifications and runs the
// re-notify loop for pinned reminders.
//
// Every user mutation goes through Engine: timers that the mutation
// invalidates are cancelled first, then the store is changed, then the
// scheduler recomputes the single next-due timer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/notexe/live-reminder/internal/notify"
	"github.com/notexe/live-reminder/internal/reminder"
)

var (
	// ErrStoreUnavailable wraps failed store queries and mutations.
	ErrStoreUnavailable = errors.New("reminder store unavailable")

	// ErrStaleRead means a re-read record no longer matches what was armed.
	ErrStaleRead = errors.New("reminder changed since it was armed")
)

const (
	// DefaultRepeatInterval is how often pinned reminders re-notify.
	DefaultRepeatInterval = 15 * time.Minute
	// DefaultRetryDelay is the back-off after a failed store call.
	DefaultRetryDelay = 30 * time.Second
)

// Store is what the scheduling core needs from storage.
type Store interface {
	FindNextEligible(ctx context.Context, exclude ...int64) (*reminder.Reminder, error)
	MarkShown(ctx context.Context, id, revision int64, at time.Time) error
	FindByID(ctx context.Context, id int64) (*reminder.Reminder, error)
	CountUnacknowledged(ctx context.Context) (int, error)
}

// Repository is the full store used for user operations.
type Repository interface {
	Store
	Add(ctx context.Context, d reminder.Draft, now time.Time) (*reminder.Reminder, error)
	Update(ctx context.Context, id int64, d reminder.Draft) (*reminder.Reminder, error)
	Archive(ctx context.Context, id int64) error
	Restore(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	ArchivedIDs(ctx context.Context) ([]int64, error)
	ClearArchive(ctx context.Context) (int64, error)
	TogglePin(ctx context.Context, id int64) (bool, error)
	MarkViewed(ctx context.Context, id int64) error
	ListActive(ctx context.Context) ([]reminder.Reminder, error)
	ListArchived(ctx context.Context) ([]reminder.Reminder, error)
}

// Shell is an outer surface that reacts to engine events.
// Methods are called from timer goroutines and must not block.
type Shell interface {
	ReminderDue(d Delivery)
	UnacknowledgedChanged(count int)
	Activate(r reminder.Reminder)
	Refresh(m reminder.Mutation)
}

type shellSet struct {
	mu   sync.RWMutex
	list []Shell
}

func (s *shellSet) add(sh Shell) {
	s.mu.Lock()
	s.list = append(s.list, sh)
	s.mu.Unlock()
}

func (s *shellSet) each(fn func(Shell)) {
	s.mu.RLock()
	list := s.list
	s.mu.RUnlock()
	for _, sh := range list {
		fn(sh)
	}
}

func (s *shellSet) due(d Delivery) { s.each(func(sh Shell) { sh.ReminderDue(d) }) }
func (s *shellSet) unacknowledged(n int) { s.each(func(sh Shell) { sh.UnacknowledgedChanged(n) }) }
func (s *shellSet) activate(r reminder.Reminder) { s.each(func(sh Shell) { sh.Activate(r) }) }
func (s *shellSet) refresh(m reminder.Mutation) { s.each(func(sh Shell) { sh.Refresh(m) }) }

// Option configures an Engine.
type Option func(*options)

type options struct {
	clock          clock.Clock
	logger         *zap.Logger
	repeatInterval time.Duration
	retryDelay     time.Duration
}

// WithClock sets the time source. Tests pass clock.NewMock().
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRepeatInterval sets how often pinned reminders re-notify.
func WithRepeatInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.repeatInterval = d
		}
	}
}

// WithRetryDelay sets the back-off after a failed store call.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryDelay = d
		}
	}
}

// Engine owns the scheduler, the notifier and the recurrence manager.
type Engine struct {
	repo     Repository
	clock    clock.Clock
	logger   *zap.Logger
	sched    *Scheduler
	rec      *Recurrence
	notifier *Notifier
	shells   *shellSet

	// edits orders repeat-timer changes against the store writes that
	// invalidate them. A delivery re-reads and re-arms under it.
	edits *sync.Mutex
}

// New wires an engine over repo. Nothing is armed until Start.
func New(repo Repository, presenter notify.Presenter, opts ...Option) *Engine {
	o := options{
		clock:          clock.New(),
		logger:         zap.NewNop(),
		repeatInterval: DefaultRepeatInterval,
		retryDelay:     DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}

	shells := &shellSet{}
	edits := &sync.Mutex{}
	sched := newScheduler(repo, o.clock, o.logger.Named("scheduler"), o.retryDelay)
	rec := newRecurrence(repo, o.clock, o.repeatInterval, o.logger.Named("recurrence"))
	n := &Notifier{
		store:     repo,
		presenter: presenter,
		clock:     o.clock,
		logger:    o.logger.Named("notifier"),
		sched:     sched,
		rec:       rec,
		shells:    shells,
		edits:     edits,
	}
	deliver := func(ctx context.Context, r reminder.Reminder) { n.Deliver(ctx, r) }
	sched.deliver = deliver
	rec.deliver = deliver

	return &Engine{
		repo:     repo,
		clock:    o.clock,
		logger:   o.logger,
		sched:    sched,
		rec:      rec,
		notifier: n,
		shells:   shells,
		edits:    edits,
	}
}

// AddShell registers a shell for engine events.
func (e *Engine) AddShell(s Shell) {
	e.shells.add(s)
}

// Scheduler exposes the scheduler for inspection.
func (e *Engine) Scheduler() *Scheduler { return e.sched }

// Recurrence exposes the recurrence manager for inspection.
func (e *Engine) Recurrence() *Recurrence { return e.rec }

// Start re-arms pinned reminders still waiting for acknowledgement,
// arms the next due reminder and publishes the unacknowledged count.
// ctx is used by timer-driven work until Close.
func (e *Engine) Start(ctx context.Context) {
	e.sched.setContext(ctx)
	e.rec.setContext(ctx)

	if err := e.armPending(ctx); err != nil {
		e.logger.Warn("failed to restore repeat timers", zap.Error(err))
	}
	e.sched.RescheduleNext(ctx)
	e.publishUnacknowledged(ctx)

	e.logger.Info("engine started", zap.Stringer("state", e.sched.State().State))
}

// External handles changes made by another process.
func (e *Engine) External(ctx context.Context) {
	if err := e.rec.Reconcile(ctx); err != nil {
		e.logger.Warn("failed to reconcile repeat timers", zap.Error(err))
	}
	if err := e.armPending(ctx); err != nil {
		e.logger.Warn("failed to restore repeat timers", zap.Error(err))
	}
	e.mutated(ctx, reminder.Mutation{Kind: reminder.External})
}

// Close cancels the primary timer and every repeat timer.
func (e *Engine) Close() {
	e.sched.Stop()
	e.rec.StopAll()
	e.logger.Info("engine stopped")
}

func (e *Engine) armPending(ctx context.Context) error {
	e.edits.Lock()
	defer e.edits.Unlock()

	list, err := e.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	for _, r := range list {
		if r.Recurring() {
			e.rec.ensure(r)
		}
	}
	return nil
}

// mutated is the single handler for every state change.
func (e *Engine) mutated(ctx context.Context, m reminder.Mutation) {
	e.logger.Debug("reminders changed", zap.String("kind", string(m.Kind)), zap.Int64("reminder_id", m.ID))
	switch m.Kind {
	case reminder.Updated, reminder.Restored, reminder.Archived, reminder.Deleted:
		e.sched.forget(m.ID)
	}
	e.sched.RescheduleNext(ctx)
	e.publishUnacknowledged(ctx)
	e.shells.refresh(m)
}

func (e *Engine) publishUnacknowledged(ctx context.Context) {
	n, err := e.repo.CountUnacknowledged(ctx)
	if err != nil {
		e.logger.Warn("failed to count unacknowledged reminders", zap.Error(err))
		return
	}
	e.shells.unacknowledged(n)
}

func (e *Engine) validate(d reminder.Draft) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if !d.ReminderTime.After(e.clock.Now()) {
		return fmt.Errorf("%w: reminder time must be in the future", reminder.ErrInvalid)
	}
	return nil
}

// stopping cancels the repeat timer for id and runs write before any
// delivery can arm it again.
func (e *Engine) stopping(id int64, write func() error) error {
	e.edits.Lock()
	defer e.edits.Unlock()
	e.rec.Stop(id)
	return write()
}

// storeErr keeps domain sentinels visible and marks everything else
// as a store failure.
func storeErr(op string, err error) error {
	if errors.Is(err, reminder.ErrNotFound) || errors.Is(err, reminder.ErrNotShown) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// Create validates d and stores a new reminder.
func (e *Engine) Create(ctx context.Context, d reminder.Draft) (*reminder.Reminder, error) {
	d = d.Normalize()
	if err := e.validate(d); err != nil {
		return nil, err
	}
	r, err := e.repo.Add(ctx, d, e.clock.Now())
	if err != nil {
		return nil, storeErr("create reminder", err)
	}
	e.mutated(ctx, reminder.Mutation{Kind: reminder.Created, ID: r.ID})
	return r, nil
}

// Update replaces a reminder's content and time; it will notify again.
func (e *Engine) Update(ctx context.Context, id int64, d reminder.Draft) (*reminder.Reminder, error) {
	d = d.Normalize()
	if err := e.validate(d); err != nil {
		return nil, err
	}
	var r *reminder.Reminder
	err := e.stopping(id, func() (err error) {
		r, err = e.repo.Update(ctx, id, d)
		return err
	})
	if err != nil {
		return nil, storeErr("update reminder", err)
	}
	e.mutated(ctx, reminder.Mutation{Kind: reminder.Updated, ID: id})
	return r, nil
}

// Archive hides a reminder from the active list and ends its repeat loop.
func (e *Engine) Archive(ctx context.Context, id int64) error {
	err := e.stopping(id, func() error { return e.repo.Archive(ctx, id) })
	if err != nil {
		return storeErr("archive reminder", err)
	}
	e.mutated(ctx, reminder.Mutation{Kind: reminder.Archived, ID: id})
	return nil
}

// Restore brings an archived reminder back as unshown, so it notifies again.
func (e *Engine) Restore(ctx context.Context, id int64) error {
	err := e.stopping(id, func() error { return e.repo.Restore(ctx, id) })
	if err != nil {
		return storeErr("restore reminder", err)
	}
	e.mutated(ctx, reminder.Mutation{Kind: reminder.Restored, ID: id})
	return nil
}

// Delete removes a reminder permanently and ends its repeat loop.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	err := e.stopping(id, func() error { return e.repo.Delete(ctx, id) })
	if err != nil {
		return storeErr("delete reminder", err)
	}
	e.mutated(ctx, reminder.Mutation{Kind: reminder.Deleted, ID: id})
	return nil
}

// ClearArchive deletes every archived reminder and returns the count.
func (e *Engine) ClearArchive(ctx context.Context) (int64, error) {
	e.edits.Lock()
	ids, err := e.repo.ArchivedIDs(ctx)
	if err != nil {
		e.edits.Unlock()
		return 0, storeErr("clear archive", err)
	}
	for _, id := range ids {
		e.rec.Stop(id)
	}
	n, err := e.repo.ClearArchive(ctx)
	e.edits.Unlock()
	if err != nil {
		return 0, storeErr("clear archive", err)
	}
	e.mutated(ctx, reminder.Mutation{Kind: reminder.ArchiveCleared})
	return n, nil
}

// TogglePin flips the pin and returns the new state. Pinning a reminder
// that already fired and waits for acknowledgement starts the repeat loop.
func (e *Engine) TogglePin(ctx context.Context, id int64) (bool, error) {
	pinned, err := e.togglePin(ctx, id)
	if err != nil {
		return false, storeErr("toggle pin", err)
	}
	e.mutated(ctx, reminder.Mutation{Kind: reminder.PinToggled, ID: id})
	return pinned, nil
}

func (e *Engine) togglePin(ctx context.Context, id int64) (bool, error) {
	e.edits.Lock()
	defer e.edits.Unlock()

	current, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if current.IsPinned {
		e.rec.Stop(id)
	}
	pinned, err := e.repo.TogglePin(ctx, id)
	if err != nil {
		return false, err
	}
	if pinned {
		if r, err := e.repo.FindByID(ctx, id); err == nil && r.Recurring() {
			e.rec.Arm(*r)
		}
	}
	return pinned, nil
}

// MarkViewed acknowledges a shown reminder and ends its repeat loop.
func (e *Engine) MarkViewed(ctx context.Context, id int64) error {
	err := e.stopping(id, func() error { return e.repo.MarkViewed(ctx, id) })
	if err != nil {
		return storeErr("mark viewed", err)
	}
	e.mutated(ctx, reminder.Mutation{Kind: reminder.Viewed, ID: id})
	return nil
}

func (e *Engine) Get(ctx context.Context, id int64) (*reminder.Reminder, error) {
	r, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeErr("get reminder", err)
	}
	return r, nil
}

// List returns active reminders: pinned first, then newest first.
func (e *Engine) List(ctx context.Context) ([]reminder.Reminder, error) {
	list, err := e.repo.ListActive(ctx)
	if err != nil {
		return nil, storeErr("list reminders", err)
	}
	return list, nil
}

func (e *Engine) ListArchived(ctx context.Context) ([]reminder.Reminder, error) {
	list, err := e.repo.ListArchived(ctx)
	if err != nil {
		return nil, storeErr("list archived reminders", err)
	}
	return list, nil
}

// Search filters the active or archived list by title and text.
func (e *Engine) Search(ctx context.Context, query string, archived bool) ([]reminder.Reminder, error) {
	var (
		list []reminder.Reminder
		err  error
	)
	if archived {
		list, err = e.ListArchived(ctx)
	} else {
		list, err = e.List(ctx)
	}
	if err != nil {
		return nil, err
	}
	return reminder.Filter(list, query), nil
}

// Next returns the reminder the scheduler would pick now, or nil.
func (e *Engine) Next(ctx context.Context) (*reminder.Reminder, error) {
	r, err := e.repo.FindNextEligible(ctx)
	if err != nil {
		return nil, storeErr("next reminder", err)
	}
	return r, nil
}

func (e *Engine) Unacknowledged(ctx context.Context) (int, error) {
	n, err := e.repo.CountUnacknowledged(ctx)
	if err != nil {
		return 0, storeErr("count unacknowledged", err)
	}
	return n, nil
}

// Status reports the scheduler state.
func (e *Engine) Status() Status {
	return e.sched.State()
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}
