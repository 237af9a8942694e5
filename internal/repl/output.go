package repl

import (
	"errors"
	"fmt"

	"github.com/notexe/live-reminder/internal/engine"
)

func (r *REPL) display(s string) {
	fmt.Fprintln(r.out, s)
	fmt.Fprintln(r.out)
}

func (r *REPL) displayError(err error) {
	if errors.Is(err, engine.ErrStoreUnavailable) {
		fmt.Fprintln(r.out, r.formatter.FormatWarning("The reminder store is unavailable; nothing was changed."))
	}
	fmt.Fprintln(r.out, r.formatter.FormatError(err))
	fmt.Fprintln(r.out)
}

func (r *REPL) displayWelcome() {
	fmt.Fprint(r.out, r.formatter.FormatWelcome(r.config.Store.Path))
}

func (r *REPL) displayHelp() {
	fmt.Fprint(r.out, r.formatter.FormatHelp())
}

func (r *REPL) displayInfo(msg string) {
	fmt.Fprintln(r.out, r.formatter.FormatInfo(msg))
	fmt.Fprintln(r.out)
}

func (r *REPL) displaySystem(msg string) {
	fmt.Fprintln(r.out, r.formatter.FormatSystem(msg))
	fmt.Fprintln(r.out)
}
