package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	balloonStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("11")).
			Padding(0, 1)
	balloonTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
)

// Terminal draws a bordered balloon on a writer. It is the presenter of
// last resort when no platform facility exists.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTerminal writes balloons to out, or to stderr when out is nil.
func NewTerminal(out io.Writer) *Terminal {
	if out == nil {
		out = os.Stderr
	}
	return &Terminal{out: out}
}

func (t *Terminal) Name() string { return "terminal" }

func (t *Terminal) Present(_ context.Context, n Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := fmt.Fprintln(t.out, Balloon(n))
	return err
}

// Balloon renders a notification as a bordered box.
func Balloon(n Notification) string {
	title := "⏰ " + n.Title
	if n.Repeat {
		title += " (again)"
	}
	lines := []string{balloonTitle.Render(title)}
	if body := strings.TrimSpace(n.Body); body != "" {
		lines = append(lines, body)
	}
	return balloonStyle.Render(strings.Join(lines, "\n"))
}
