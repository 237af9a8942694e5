package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/notexe/live-reminder/internal/reminder"
)

var (
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")). // Coral red
			Bold(true)

	InfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")) // Warm yellow

	SystemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("183")). // Soft purple
			Italic(true)

	TitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81")). // Bright cyan
			Bold(true)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")). // Soft blue border
			Padding(0, 1)

	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	PinStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("215")). // Orange
			Bold(true)

	BadgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("203")).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")). // Yellow
			Bold(true)
)

// TimeLayout is how reminder times are shown in the terminal.
const TimeLayout = "Mon 02 Jan 15:04"

// ColorEnabled reports whether styled output should be written to f.
func ColorEnabled(want bool, f *os.File) bool {
	return want && term.IsTerminal(int(f.Fd()))
}

type Formatter struct {
	colored  bool
	renderer *glamour.TermRenderer
	loc      *time.Location
}

// NewFormatter creates a formatter. With markdown set, reminder text
// is rendered through glamour.
func NewFormatter(colored, markdown bool) *Formatter {
	f := &Formatter{colored: colored, loc: time.Local}
	if markdown {
		style := glamour.WithStandardStyle(styles.NoTTYStyle)
		if colored {
			style = glamour.WithAutoStyle()
		}
		if r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(80)); err == nil {
			f.renderer = r
		}
	}
	return f
}

// SetLocation changes the zone used to display times.
func (f *Formatter) SetLocation(loc *time.Location) {
	f.loc = loc
}

func (f *Formatter) style(s lipgloss.Style, text string) string {
	if f.colored {
		return s.Render(text)
	}
	return text
}

func (f *Formatter) FormatError(err error) string {
	return f.style(ErrorStyle, "Error: ") + err.Error()
}

func (f *Formatter) FormatInfo(info string) string {
	return f.style(InfoStyle, info)
}

func (f *Formatter) FormatSystem(msg string) string {
	return f.style(SystemStyle, msg)
}

func (f *Formatter) FormatWarning(msg string) string {
	return f.style(WarningStyle, msg)
}

// FormatTime renders t in the display zone.
func (f *Formatter) FormatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.In(f.loc).Format(TimeLayout)
}

// FormatMarkdown renders reminder text, falling back to the raw text.
func (f *Formatter) FormatMarkdown(text string) string {
	if f.renderer == nil || text == "" {
		return text
	}
	rendered, err := f.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(rendered)
}

// FormatPrompt returns the input prompt with the unacknowledged badge.
func (f *Formatter) FormatPrompt(unacknowledged int) string {
	prompt := "reminders > "
	if f.colored {
		prompt = lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Render("reminders") +
			lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Bold(true).Render(" > ")
	}
	if unacknowledged > 0 {
		badge := fmt.Sprintf("[%d]", unacknowledged)
		if f.colored {
			badge = BadgeStyle.Render(fmt.Sprintf(" %d ", unacknowledged))
		}
		prompt = badge + " " + prompt
	}
	return prompt
}

// reminderFlags renders the status markers of one row.
func reminderFlags(r reminder.Reminder) string {
	var flags []string
	if r.IsPinned {
		flags = append(flags, "pinned")
	}
	switch {
	case r.IsArchived:
		flags = append(flags, "archived")
	case r.Unacknowledged():
		flags = append(flags, "new")
	case r.IsShown:
		flags = append(flags, "seen")
	}
	return strings.Join(flags, ",")
}

// FormatList renders one line per reminder.
func (f *Formatter) FormatList(list []reminder.Reminder) string {
	if len(list) == 0 {
		return f.style(DimStyle, "No reminders.")
	}

	var b strings.Builder
	for _, r := range list {
		id := fmt.Sprintf("%4d", r.ID)
		when := fmt.Sprintf("%-16s", f.FormatTime(r.ReminderTime))
		title := r.Title
		if r.IsPinned {
			title = f.style(PinStyle, "* ") + title
		}
		line := f.style(DimStyle, id) + "  " + when + "  " + title
		if flags := reminderFlags(r); flags != "" {
			line += "  " + f.style(DimStyle, "("+flags+")")
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// FormatReminder renders a single reminder in a box.
func (f *Formatter) FormatReminder(r reminder.Reminder) string {
	lines := []string{
		f.style(TitleStyle, r.Title),
		f.style(DimStyle, fmt.Sprintf("#%d  %s", r.ID, f.FormatTime(r.ReminderTime))),
	}
	if flags := reminderFlags(r); flags != "" {
		lines = append(lines, f.style(DimStyle, flags))
	}
	if r.Text != "" {
		lines = append(lines, "", f.FormatMarkdown(r.Text))
	}
	return f.FormatBox(strings.Join(lines, "\n"))
}

// FormatBox wraps content in a rounded box.
func (f *Formatter) FormatBox(content string) string {
	if f.colored {
		return BoxStyle.Render(content)
	}
	return content
}

func (f *Formatter) FormatWelcome(dbPath string) string {
	title := "Live Reminder"
	help := "Type /help for commands"
	store := "Store: " + dbPath
	if f.colored {
		return "\n" + BoxStyle.Render(strings.Join([]string{
			TitleStyle.Render(title),
			DimStyle.Render(store),
			"",
			lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render(help),
		}, "\n")) + "\n"
	}
	return strings.Join([]string{"", title, store, help, ""}, "\n")
}

var helpCommands = []struct{ cmd, desc string }{
	{"/add <when> | <title> [| <text>]", "Add a reminder"},
	{"/edit <id> <when> | <title> [| <text>]", "Edit a reminder"},
	{"/list", "List active reminders"},
	{"/archived", "List archived reminders"},
	{"/search <query>", "Search titles and text"},
	{"/show <id>", "Show one reminder"},
	{"/next", "Show the next reminder"},
	{"/pin <id>", "Pin or unpin (pinned repeat until viewed)"},
	{"/view <id>", "Acknowledge a reminder"},
	{"/archive <id>", "Archive a reminder"},
	{"/restore <id>", "Restore from the archive"},
	{"/delete <id>", "Delete a reminder"},
	{"/clear-archive", "Delete every archived reminder"},
	{"/quit", "Exit"},
}

func (f *Formatter) FormatHelp() string {
	lines := []string{"", f.style(TitleStyle, "Commands"), ""}
	for _, c := range helpCommands {
		cmd := fmt.Sprintf("  %-40s", c.cmd)
		if f.colored {
			cmd = "  " + lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Width(40).Render(c.cmd)
		}
		lines = append(lines, cmd+" "+c.desc)
	}
	lines = append(lines,
		"",
		f.style(TitleStyle, "Times"),
		f.style(DimStyle, "  +15m, in 2h, 15:04, 2006-01-02 15:04 or RFC3339"),
		"",
	)
	return strings.Join(lines, "\n")
}
