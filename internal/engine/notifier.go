package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notexe/live-reminder/internal/notify"
	"github.com/notexe/live-reminder/internal/reminder"
)

// Delivery describes one presented notification.
type Delivery struct {
	ID       string            `json:"delivery_id"`
	Reminder reminder.Reminder `json:"reminder"`
	At       time.Time         `json:"at"`
	Repeat   bool              `json:"repeat"`
	// Persisted is false when the shown flag could not be stored.
	Persisted bool `json:"persisted"`
}

// Notifier presents due reminders and records that they were shown.
type Notifier struct {
	store     Store
	presenter notify.Presenter
	clock     clock.Clock
	logger    *zap.Logger
	sched     *Scheduler
	rec       *Recurrence
	shells    *shellSet
	edits     *sync.Mutex

	// delivered, when set, runs after a delivery has fully settled.
	delivered func(Delivery)
}

// Deliver presents r, marks it shown, tells the shells, arms the repeat
// loop for pinned reminders and reschedules. Failures are logged only.
//
// The shown flag is written only if r is still the revision that was
// presented. A reminder edited, archived, restored or deleted meanwhile
// keeps its new state and is scheduled from it.
func (n *Notifier) Deliver(ctx context.Context, r reminder.Reminder) Delivery {
	now := n.clock.Now()
	d := Delivery{
		ID:     uuid.NewString(),
		At:     now,
		Repeat: r.IsShown,
	}
	log := n.logger.With(zap.Int64("reminder_id", r.ID), zap.String("delivery_id", d.ID))

	err := n.presenter.Present(ctx, notify.Notification{
		ID:     d.ID,
		Title:  r.Title,
		Body:   r.Text,
		Repeat: d.Repeat,
		OnActivate: func() {
			n.shells.activate(r)
		},
	})
	if err != nil {
		log.Error("failed to present notification", zap.Error(err))
	}

	stale := false
	err = n.store.MarkShown(ctx, r.ID, r.Revision, now)
	switch {
	case err == nil:
		d.Persisted = true
		r.IsShown = true
		r.LastRemindedAt = &now
	case errors.Is(err, reminder.ErrChanged), errors.Is(err, reminder.ErrNotFound):
		stale = true
		log.Debug("reminder changed during delivery", zap.Error(fmt.Errorf("%w: %w", ErrStaleRead, err)))
	default:
		log.Error("failed to mark reminder shown", zap.Error(err))
	}
	d.Reminder = r
	n.sched.settle(r.ID, d.Persisted || stale)

	log.Info("reminder delivered", zap.Bool("repeat", d.Repeat))

	n.shells.due(d)
	if count, err := n.store.CountUnacknowledged(ctx); err != nil {
		log.Warn("failed to count unacknowledged reminders", zap.Error(err))
	} else {
		n.shells.unacknowledged(count)
	}

	n.rearm(ctx, r, stale)

	n.sched.RescheduleNext(ctx)
	if n.delivered != nil {
		n.delivered(d)
	}
	return d
}

// rearm starts or keeps the repeat loop if the stored reminder still
// recurs, and drops it otherwise. When the re-read fails the delivered
// copy decides, unless it is known to be stale.
func (n *Notifier) rearm(ctx context.Context, r reminder.Reminder, stale bool) {
	n.edits.Lock()
	defer n.edits.Unlock()

	fresh, err := n.store.FindByID(ctx, r.ID)
	switch {
	case err == nil && fresh.Recurring():
		n.rec.Arm(*fresh)
	case err != nil && !errors.Is(err, reminder.ErrNotFound):
		n.logger.Warn("failed to re-read delivered reminder",
			zap.Int64("reminder_id", r.ID),
			zap.Error(fmt.Errorf("%w: %w", ErrStoreUnavailable, err)))
		if !stale && r.Recurring() {
			n.rec.Arm(r)
		}
	default:
		n.rec.Stop(r.ID)
	}
}
