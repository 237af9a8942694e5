package server

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap/zaptest"

	"github.com/notexe/live-reminder/internal/engine"
	"github.com/notexe/live-reminder/internal/notify"
	"github.com/notexe/live-reminder/internal/reminder"
)

var now = time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

type nopPresenter struct{}

func (nopPresenter) Name() string                                      { return "nop" }
func (nopPresenter) Present(context.Context, notify.Notification) error { return nil }

type sent struct {
	method string
	params map[string]any
}

type fixture struct {
	srv    *Server
	eng    *engine.Engine
	client *client.Client

	mu   sync.Mutex
	sent []sent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := reminder.NewStore(filepath.Join(t.TempDir(), "reminders.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mock := clock.NewMock()
	mock.Set(now)
	eng := engine.New(st, nopPresenter{}, engine.WithClock(mock))
	t.Cleanup(eng.Close)

	f := &fixture{eng: eng}
	f.srv = New(eng, zaptest.NewLogger(t))
	f.srv.send = func(method string, params map[string]any) {
		f.mu.Lock()
		f.sent = append(f.sent, sent{method, params})
		f.mu.Unlock()
	}

	c, err := client.NewInProcessClient(f.srv.MCPServer())
	if err != nil {
		t.Fatalf("NewInProcessClient failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "test", Version: "1.0.0"},
		},
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	f.client = c
	return f
}

// call invokes a tool and returns its text and error flag.
func (f *fixture) call(t *testing.T, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := f.client.CallTool(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("CallTool(%s) failed: %v", name, err)
	}
	if len(res.Content) == 0 {
		t.Fatalf("CallTool(%s) returned no content", name)
	}
	text, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("CallTool(%s) returned non-text content", name)
	}
	return text.Text, res.IsError
}

func (f *fixture) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.method
	}
	return out
}

func rfc(d time.Duration) string {
	return now.Add(d).Format(time.RFC3339)
}

func TestAddAndGetReminder(t *testing.T) {
	f := newFixture(t)

	text, isErr := f.call(t, "add_reminder", map[string]any{
		"title":         "Stand-up",
		"text":          "room 4",
		"reminder_time": rfc(time.Hour),
	})
	if isErr {
		t.Fatalf("add_reminder returned error: %s", text)
	}

	var added reminder.Reminder
	if err := json.Unmarshal([]byte(text), &added); err != nil {
		t.Fatalf("result is not a reminder: %v\n%s", err, text)
	}
	if added.ID == 0 || added.Title != "Stand-up" || added.Text != "room 4" {
		t.Errorf("unexpected reminder: %+v", added)
	}

	text, isErr = f.call(t, "get_reminder", map[string]any{"id": added.ID})
	if isErr || !strings.Contains(text, `"title": "Stand-up"`) {
		t.Errorf("get_reminder = %q (error %v)", text, isErr)
	}

	next := f.eng.Status()
	if next.TargetID != added.ID {
		t.Errorf("scheduler target = %d, want %d", next.TargetID, added.ID)
	}
}

func TestToolErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"missing time", "add_reminder", map[string]any{"title": "x"}, "reminder_time is required"},
		{"bad time", "add_reminder", map[string]any{"title": "x", "reminder_time": "tomorrow"}, "invalid reminder_time"},
		{"past time", "add_reminder", map[string]any{"title": "x", "reminder_time": rfc(-time.Minute)}, "must be in the future"},
		{"empty title", "add_reminder", map[string]any{"title": " ", "reminder_time": rfc(time.Hour)}, "title is required"},
		{"missing id", "archive_reminder", map[string]any{}, "id is required"},
		{"unknown id", "delete_reminder", map[string]any{"id": 99}, "reminder not found"},
		{"view unshown", "mark_viewed", map[string]any{"id": 1}, "not found"},
		{"missing query", "search_reminders", map[string]any{}, "query is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := f.call(t, tt.tool, tt.args)
			if !isErr {
				t.Fatalf("%s succeeded: %s", tt.tool, text)
			}
			if !strings.Contains(text, tt.want) {
				t.Errorf("error = %q, want it to contain %q", text, tt.want)
			}
		})
	}
}

func TestUpdateKeepsOmittedFields(t *testing.T) {
	f := newFixture(t)

	when := now.Add(time.Hour)
	r, err := f.eng.Create(context.Background(), reminder.Draft{Title: "Call", Text: "dentist", ReminderTime: &when})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	text, isErr := f.call(t, "update_reminder", map[string]any{"id": r.ID, "title": "Call back"})
	if isErr {
		t.Fatalf("update_reminder returned error: %s", text)
	}

	got, err := f.eng.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != "Call back" || got.Text != "dentist" || !got.ReminderTime.Equal(when) {
		t.Errorf("updated reminder = %+v", got)
	}
}

func TestListPinArchiveFlow(t *testing.T) {
	f := newFixture(t)

	if text, _ := f.call(t, "list_reminders", nil); text != "No reminders found." {
		t.Errorf("empty list = %q", text)
	}

	for _, title := range []string{"first", "second"} {
		if text, isErr := f.call(t, "add_reminder", map[string]any{"title": title, "reminder_time": rfc(time.Hour)}); isErr {
			t.Fatalf("add %s: %s", title, text)
		}
	}

	if text, _ := f.call(t, "toggle_pin", map[string]any{"id": 2}); text != "Reminder 2 pinned." {
		t.Errorf("toggle_pin = %q", text)
	}

	text, _ := f.call(t, "list_reminders", nil)
	var list []reminder.Reminder
	if err := json.Unmarshal([]byte(text), &list); err != nil {
		t.Fatalf("list is not JSON: %v", err)
	}
	if len(list) != 2 || list[0].Title != "second" {
		t.Errorf("pinned reminder should be listed first: %+v", list)
	}

	if text, _ := f.call(t, "archive_reminder", map[string]any{"id": 1}); text != "Reminder 1 archived." {
		t.Errorf("archive_reminder = %q", text)
	}

	text, _ = f.call(t, "search_reminders", map[string]any{"query": "FIRST", "archived": true})
	if !strings.Contains(text, `"title": "first"`) {
		t.Errorf("archived search = %q", text)
	}
	if text, _ := f.call(t, "search_reminders", map[string]any{"query": "first"}); text != "No matching reminders." {
		t.Errorf("active search = %q", text)
	}

	if text, _ := f.call(t, "clear_archive", nil); text != "Deleted 1 archived reminder(s)." {
		t.Errorf("clear_archive = %q", text)
	}
	if text, _ := f.call(t, "list_archived", nil); text != "Archive is empty." {
		t.Errorf("list_archived = %q", text)
	}
	if text, _ := f.call(t, "unacknowledged_count", nil); text != "0" {
		t.Errorf("unacknowledged_count = %q", text)
	}
	if text, _ := f.call(t, "next_reminder", nil); !strings.Contains(text, `"title": "second"`) {
		t.Errorf("next_reminder = %q", text)
	}
}

func TestMutationsNotifyClients(t *testing.T) {
	f := newFixture(t)

	f.call(t, "add_reminder", map[string]any{"title": "x", "reminder_time": rfc(time.Hour)})
	f.call(t, "archive_reminder", map[string]any{"id": 1})

	got := f.methods()
	want := []string{MethodUnacknowledged, MethodChanged, MethodUnacknowledged, MethodChanged}
	if len(got) != len(want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d = %s, want %s", i, got[i], want[i])
		}
	}

	f.mu.Lock()
	last := f.sent[len(f.sent)-1].params
	f.mu.Unlock()
	if last["kind"] != string(reminder.Archived) || last["id"] != int64(1) {
		t.Errorf("changed params = %v", last)
	}
}

func TestShellEvents(t *testing.T) {
	f := newFixture(t)

	when := now
	r := reminder.Reminder{ID: 7, Title: "due", ReminderTime: &when}
	f.srv.ReminderDue(engine.Delivery{ID: "d-1", Reminder: r, Repeat: true})
	f.srv.Activate(r)

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) != 2 {
		t.Fatalf("sent %d notifications, want 2", len(f.sent))
	}
	due := f.sent[0]
	if due.method != MethodDue || due.params["delivery_id"] != "d-1" || due.params["repeat"] != true {
		t.Errorf("due notification = %+v", due)
	}
	if f.sent[1].method != MethodActivated {
		t.Errorf("second notification = %s, want %s", f.sent[1].method, MethodActivated)
	}
}
