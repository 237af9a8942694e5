package repl

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/notexe/live-reminder/internal/config"
	"github.com/notexe/live-reminder/internal/engine"
	"github.com/notexe/live-reminder/internal/reminder"
	"github.com/notexe/live-reminder/internal/ui"
)

type REPL struct {
	engine    *engine.Engine
	config    *config.Config
	rl        *readline.Instance
	out       io.Writer
	formatter *ui.Formatter

	// banner is set when no terminal presenter prints due reminders.
	banner bool

	// confirm asks a yes/no question before destructive commands.
	confirm func(question string) bool

	mu             sync.Mutex
	unacknowledged int
}

// NewREPL creates a REPL over eng reading from rl, and registers it as a shell.
func NewREPL(eng *engine.Engine, cfg *config.Config, rl *readline.Instance) *REPL {
	r := newREPL(eng, cfg, ui.NewFormatter(ui.ColorEnabled(cfg.UI.ColoredOutput, os.Stdout), cfg.UI.Markdown), rl.Stdout())
	r.rl = rl
	r.rl.SetPrompt(r.formatter.FormatPrompt(0))
	r.confirm = r.readConfirm
	eng.AddShell(r)
	return r
}

func newREPL(eng *engine.Engine, cfg *config.Config, formatter *ui.Formatter, out io.Writer) *REPL {
	banner := true
	for _, ch := range cfg.Notify.ChannelList() {
		if ch == config.ChannelTerminal {
			banner = false
		}
	}
	return &REPL{
		engine:    eng,
		config:    cfg,
		out:       out,
		formatter: formatter,
		banner:    banner,
		confirm:   func(string) bool { return true },
	}
}

func (r *REPL) Start(ctx context.Context) error {
	defer r.rl.Close()

	r.displayWelcome()

	for {
		input, err := r.readInput()
		if err != nil {
			if isEOF(err) {
				fmt.Fprintln(r.out, "\nGoodbye!")
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		if input == "" {
			continue
		}

		isCommand, command, args := r.parseCommand(input)
		if !isCommand {
			r.displayInfo("Commands start with /. Type /help for the list.")
			continue
		}

		if command == "/quit" || command == "/exit" || command == "/q" {
			fmt.Fprintln(r.out, "\nGoodbye!")
			return nil
		}

		if err := r.handleCommand(ctx, command, args); err != nil {
			r.displayError(err)
		}
	}
}

func (r *REPL) Stop() {
	r.rl.Close()
}

func (r *REPL) handleCommand(ctx context.Context, command, args string) error {
	switch command {
	case "/help", "/h":
		r.displayHelp()
		return nil

	case "/add", "/a":
		return r.handleAdd(ctx, args)

	case "/edit", "/e":
		return r.handleEdit(ctx, args)

	case "/list", "/ls", "/l":
		list, err := r.engine.List(ctx)
		if err != nil {
			return err
		}
		r.display(r.formatter.FormatList(list))
		return nil

	case "/archived":
		list, err := r.engine.ListArchived(ctx)
		if err != nil {
			return err
		}
		r.display(r.formatter.FormatList(list))
		return nil

	case "/search", "/s":
		if args == "" {
			return fmt.Errorf("usage: /search <query>")
		}
		list, err := r.engine.Search(ctx, args, false)
		if err != nil {
			return err
		}
		r.display(r.formatter.FormatList(list))
		return nil

	case "/show":
		id, err := parseID(args)
		if err != nil {
			return err
		}
		rem, err := r.engine.Get(ctx, id)
		if err != nil {
			return err
		}
		r.display(r.formatter.FormatReminder(*rem))
		return nil

	case "/next", "/n":
		rem, err := r.engine.Next(ctx)
		if err != nil {
			return err
		}
		if rem == nil {
			r.displayInfo("No upcoming reminders.")
			return nil
		}
		r.display(r.formatter.FormatReminder(*rem))
		return nil

	case "/pin", "/p":
		id, err := parseID(args)
		if err != nil {
			return err
		}
		pinned, err := r.engine.TogglePin(ctx, id)
		if err != nil {
			return err
		}
		if pinned {
			r.displaySystem(fmt.Sprintf("Reminder %d pinned.", id))
		} else {
			r.displaySystem(fmt.Sprintf("Reminder %d unpinned.", id))
		}
		return nil

	case "/view", "/v":
		return r.idCommand(ctx, args, r.engine.MarkViewed, "Reminder %d marked as viewed.")

	case "/archive":
		return r.idCommand(ctx, args, r.engine.Archive, "Reminder %d archived.")

	case "/restore":
		return r.idCommand(ctx, args, r.engine.Restore, "Reminder %d restored.")

	case "/delete", "/rm":
		return r.idCommand(ctx, args, r.engine.Delete, "Reminder %d deleted.")

	case "/clear-archive":
		return r.handleClearArchive(ctx)

	default:
		return fmt.Errorf("unknown command: %s (type /help for available commands)", command)
	}
}

func (r *REPL) handleAdd(ctx context.Context, args string) error {
	parts := splitFields(args)
	if len(parts) < 2 {
		return fmt.Errorf("usage: /add <when> | <title> [| <text>]")
	}

	when, err := ParseWhen(parts[0], r.engine.Now())
	if err != nil {
		return err
	}

	d := reminder.Draft{Title: parts[1], ReminderTime: &when}
	if len(parts) > 2 {
		d.Text = parts[2]
	}

	added, err := r.engine.Create(ctx, d)
	if err != nil {
		return err
	}
	r.displaySystem(fmt.Sprintf("Reminder %d set for %s.", added.ID, r.formatter.FormatTime(added.ReminderTime)))
	return nil
}

func (r *REPL) handleEdit(ctx context.Context, args string) error {
	usage := fmt.Errorf("usage: /edit <id> <when> | <title> [| <text>]")

	idStr, rest, ok := strings.Cut(strings.TrimSpace(args), " ")
	if !ok {
		return usage
	}
	id, err := parseID(idStr)
	if err != nil {
		return err
	}
	parts := splitFields(rest)
	if len(parts) < 2 {
		return usage
	}

	current, err := r.engine.Get(ctx, id)
	if err != nil {
		return err
	}

	when, err := ParseWhen(parts[0], r.engine.Now())
	if err != nil {
		return err
	}
	d := reminder.Draft{Title: parts[1], Text: current.Text, ReminderTime: &when}
	if len(parts) > 2 {
		d.Text = parts[2]
	}

	updated, err := r.engine.Update(ctx, id, d)
	if err != nil {
		return err
	}
	r.displaySystem(fmt.Sprintf("Reminder %d moved to %s.", updated.ID, r.formatter.FormatTime(updated.ReminderTime)))
	return nil
}

func (r *REPL) handleClearArchive(ctx context.Context) error {
	archived, err := r.engine.ListArchived(ctx)
	if err != nil {
		return err
	}
	if len(archived) == 0 {
		r.displayInfo("Archive is empty.")
		return nil
	}
	if !r.confirm(fmt.Sprintf("Delete %d archived reminder(s)? [y/N] ", len(archived))) {
		r.displayInfo("Cancelled.")
		return nil
	}

	n, err := r.engine.ClearArchive(ctx)
	if err != nil {
		return err
	}
	r.displaySystem(fmt.Sprintf("Deleted %d archived reminder(s).", n))
	return nil
}

func (r *REPL) idCommand(ctx context.Context, args string, op func(context.Context, int64) error, done string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	if err := op(ctx, id); err != nil {
		return err
	}
	r.displaySystem(fmt.Sprintf(done, id))
	return nil
}

func parseID(s string) (int64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if s == "" {
		return 0, fmt.Errorf("reminder id is required")
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid reminder id %q", s)
	}
	return id, nil
}

// splitFields splits "a | b | c" into at most three trimmed parts.
func splitFields(s string) []string {
	parts := strings.SplitN(s, "|", 3)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) == 1 && parts[0] == "" {
		return nil
	}
	return parts
}
