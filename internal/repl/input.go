package repl

import (
	"io"
	"strings"

	"github.com/chzyer/readline"
)

func (r *REPL) readInput() (string, error) {
	line, err := r.rl.Readline()
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(line), nil
}

func (r *REPL) parseCommand(input string) (bool, string, string) {
	if !strings.HasPrefix(input, "/") {
		return false, "", ""
	}

	parts := strings.SplitN(input, " ", 2)
	command := strings.ToLower(parts[0])

	args := ""
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}

	return true, command, args
}

// readConfirm asks question on the readline prompt and restores it after.
func (r *REPL) readConfirm(question string) bool {
	r.rl.SetPrompt(question)
	defer r.refreshPrompt()

	line, err := r.rl.Readline()
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// NewReadline creates the line editor. Its Stdout is safe for output
// written while a line is being edited.
func NewReadline(historyFile string) (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:              "reminders > ",
		HistoryFile:         historyFile,
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		HistorySearchFold:   true,
		AutoComplete:        completer,
		FuncFilterInputRune: filterInput,
	})
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("/add"),
	readline.PcItem("/edit"),
	readline.PcItem("/list"),
	readline.PcItem("/archived"),
	readline.PcItem("/search"),
	readline.PcItem("/show"),
	readline.PcItem("/next"),
	readline.PcItem("/pin"),
	readline.PcItem("/view"),
	readline.PcItem("/archive"),
	readline.PcItem("/restore"),
	readline.PcItem("/delete"),
	readline.PcItem("/clear-archive"),
	readline.PcItem("/help"),
	readline.PcItem("/quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func isEOF(err error) bool {
	return err == io.EOF || err == readline.ErrInterrupt
}
