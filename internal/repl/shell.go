package repl

import (
	"fmt"

	"github.com/notexe/live-reminder/internal/engine"
	"github.com/notexe/live-reminder/internal/reminder"
)

// The REPL receives engine events from timer goroutines. Output goes
// through readline's Stdout so the line being edited is redrawn.

func (r *REPL) ReminderDue(d engine.Delivery) {
	if !r.banner {
		return
	}
	label := "Reminder"
	if d.Repeat {
		label = "Reminder (again)"
	}
	r.displaySystem(fmt.Sprintf("⏰ %s #%d: %s", label, d.Reminder.ID, d.Reminder.Title))
}

func (r *REPL) UnacknowledgedChanged(count int) {
	r.mu.Lock()
	r.unacknowledged = count
	r.mu.Unlock()
	r.refreshPrompt()
}

func (r *REPL) Activate(rem reminder.Reminder) {
	r.display(r.formatter.FormatReminder(rem))
}

func (r *REPL) Refresh(m reminder.Mutation) {
	if m.Kind == reminder.External {
		r.displayInfo("Reminders changed in another process.")
	}
}

// Prompt returns the current prompt with the unacknowledged badge.
func (r *REPL) Prompt() string {
	r.mu.Lock()
	n := r.unacknowledged
	r.mu.Unlock()
	return r.formatter.FormatPrompt(n)
}

func (r *REPL) refreshPrompt() {
	if r.rl == nil {
		return
	}
	r.rl.SetPrompt(r.Prompt())
	r.rl.Refresh()
}
