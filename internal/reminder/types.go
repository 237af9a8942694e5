package reminder

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrNotFound is returned when no reminder has the requested ID.
	ErrNotFound = errors.New("reminder not found")

	// ErrInvalid is returned when a draft fails validation.
	ErrInvalid = errors.New("invalid reminder")

	// ErrNotShown is returned when acknowledging a reminder that has not fired yet.
	ErrNotShown = errors.New("reminder has not been shown yet")

	// ErrChanged is returned when a conditional write finds the reminder
	// edited, archived or restored since it was read.
	ErrChanged = errors.New("reminder changed since it was read")
)

// Reminder represents a timed note.
type Reminder struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	Text           string     `json:"text,omitempty"`
	ReminderTime   *time.Time `json:"reminder_time,omitempty"`
	IsShown        bool       `json:"is_shown"`
	IsArchived     bool       `json:"is_archived"`
	IsViewed       bool       `json:"is_viewed"`
	IsPinned       bool       `json:"is_pinned"`
	PinOrder       int        `json:"pin_order"`
	LastRemindedAt *time.Time `json:"last_reminded_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	// Revision counts edits, archives and restores.
	Revision int64 `json:"revision"`
}

// Eligible reports whether the reminder may be picked by the scheduler.
// Past-due reminders are eligible; they fire as soon as they are picked.
func (r Reminder) Eligible() bool {
	return r.ReminderTime != nil && !r.IsShown && !r.IsArchived
}

// Unacknowledged reports whether the reminder fired and still waits for the user.
func (r Reminder) Unacknowledged() bool {
	return r.IsShown && !r.IsViewed && !r.IsArchived
}

// Recurring reports whether the reminder belongs in the re-notify loop.
func (r Reminder) Recurring() bool {
	return r.IsPinned && r.Unacknowledged()
}

// Draft holds the user-editable fields of a reminder.
type Draft struct {
	Title        string     `validate:"required,max=200"`
	Text         string     `validate:"max=4096"`
	ReminderTime *time.Time `validate:"required"`
}

var validate = validator.New()

// Normalize trims surrounding whitespace and converts the time to UTC.
func (d Draft) Normalize() Draft {
	d.Title = strings.TrimSpace(d.Title)
	d.Text = strings.TrimSpace(d.Text)
	if d.ReminderTime != nil {
		t := d.ReminderTime.UTC()
		d.ReminderTime = &t
	}
	return d
}

// Validate checks the draft's fields. Errors wrap ErrInvalid.
func (d Draft) Validate() error {
	err := validate.Struct(d)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, strings.ToLower(fe.Field())+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s is longer than %s characters", strings.ToLower(fe.Field()), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, ", "))
}

// Filter returns the reminders whose title or text contains query,
// ignoring case. An empty query returns the input unchanged.
func Filter(reminders []Reminder, query string) []Reminder {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return reminders
	}

	var out []Reminder
	for _, r := range reminders {
		if strings.Contains(strings.ToLower(r.Title), query) ||
			strings.Contains(strings.ToLower(r.Text), query) {
			out = append(out, r)
		}
	}
	return out
}

// MutationKind names a state-changing store operation.
type MutationKind string

const (
	Created        MutationKind = "created"
	Updated        MutationKind = "updated"
	Archived       MutationKind = "archived"
	Restored       MutationKind = "restored"
	Deleted        MutationKind = "deleted"
	ArchiveCleared MutationKind = "archive_cleared"
	PinToggled     MutationKind = "pin_toggled"
	Viewed         MutationKind = "viewed"
	External       MutationKind = "external"
)

// Mutation describes a change that may affect scheduling.
// ID is zero for mutations that touch many reminders.
type Mutation struct {
	Kind MutationKind `json:"kind"`
	ID   int64        `json:"id,omitempty"`
}
