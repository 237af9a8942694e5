package reminder

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDraftValidate(t *testing.T) {
	when := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		draft   Draft
		wantErr string
	}{
		{
			name:  "valid",
			draft: Draft{Title: "Dentist", Text: "bring card", ReminderTime: &when},
		},
		{
			name:    "missing title",
			draft:   Draft{Title: "   ", ReminderTime: &when},
			wantErr: "title is required",
		},
		{
			name:    "missing time",
			draft:   Draft{Title: "Dentist"},
			wantErr: "remindertime is required",
		},
		{
			name:    "title too long",
			draft:   Draft{Title: strings.Repeat("x", 201), ReminderTime: &when},
			wantErr: "title is longer than 200 characters",
		},
		{
			name:    "text too long",
			draft:   Draft{Title: "ok", Text: strings.Repeat("y", 4097), ReminderTime: &when},
			wantErr: "text is longer than 4096 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.draft.Normalize().Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestDraftNormalize(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	local := time.Date(2026, 5, 1, 12, 0, 0, 0, loc)

	d := Draft{Title: "  a  ", Text: "\tb\n", ReminderTime: &local}.Normalize()
	if d.Title != "a" || d.Text != "b" {
		t.Errorf("fields not trimmed: %+v", d)
	}
	if d.ReminderTime.Location() != time.UTC {
		t.Errorf("time not converted to UTC: %v", d.ReminderTime)
	}
	if !d.ReminderTime.Equal(local) {
		t.Errorf("instant changed: %v != %v", d.ReminderTime, local)
	}
}

func TestReminderFlags(t *testing.T) {
	when := time.Now()

	tests := []struct {
		name      string
		r         Reminder
		eligible  bool
		unack     bool
		recurring bool
	}{
		{"pending", Reminder{ReminderTime: &when}, true, false, false},
		{"no time", Reminder{}, false, false, false},
		{"shown", Reminder{ReminderTime: &when, IsShown: true}, false, true, false},
		{"shown pinned", Reminder{ReminderTime: &when, IsShown: true, IsPinned: true}, false, true, true},
		{"viewed pinned", Reminder{ReminderTime: &when, IsShown: true, IsViewed: true, IsPinned: true}, false, false, false},
		{"archived", Reminder{ReminderTime: &when, IsShown: true, IsArchived: true, IsPinned: true}, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Eligible(); got != tt.eligible {
				t.Errorf("Eligible() = %v, want %v", got, tt.eligible)
			}
			if got := tt.r.Unacknowledged(); got != tt.unack {
				t.Errorf("Unacknowledged() = %v, want %v", got, tt.unack)
			}
			if got := tt.r.Recurring(); got != tt.recurring {
				t.Errorf("Recurring() = %v, want %v", got, tt.recurring)
			}
		})
	}
}

func TestFilter(t *testing.T) {
	list := []Reminder{
		{ID: 1, Title: "Buy milk"},
		{ID: 2, Title: "Call", Text: "ask about MILK prices"},
		{ID: 3, Title: "Gym"},
	}

	got := Filter(list, "  milk ")
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Errorf("unexpected filter result: %+v", got)
	}
	if got := Filter(list, ""); len(got) != 3 {
		t.Errorf("empty query should return everything, got %d", len(got))
	}
	if got := Filter(list, "dentist"); len(got) != 0 {
		t.Errorf("expected no match, got %+v", got)
	}
}
