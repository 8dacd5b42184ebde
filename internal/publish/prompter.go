package publish

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrAborted signals an explicit user abort at a prompt. It unwinds the run
// without touching any state and maps to exit code 0.
var ErrAborted = errors.New("aborted by user")

// Prompter answers the named decision points of a publish run. Injecting it
// keeps the orchestrator free of blocking input calls and testable headless.
type Prompter interface {
	Confirm(question string, defaultYes bool) (bool, error)
}

var exitTokens = map[string]bool{
	"salir": true,
	"q":     true,
	"quit":  true,
	"exit":  true,
}

// TerminalPrompter asks y/n questions on the terminal. The abort tokens
// (salir, q, quit, exit) are accepted at every prompt.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer

	scanner *bufio.Scanner
}

func (p *TerminalPrompter) Confirm(question string, defaultYes bool) (bool, error) {
	if p.scanner == nil {
		p.scanner = bufio.NewScanner(p.In)
	}
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	for {
		fmt.Fprintf(p.Out, "%s %s: ", question, suffix)
		if !p.scanner.Scan() {
			if err := p.scanner.Err(); err != nil {
				return false, err
			}
			return false, ErrAborted // EOF
		}
		ans := strings.ToLower(strings.TrimSpace(p.scanner.Text()))
		if exitTokens[ans] {
			return false, ErrAborted
		}
		switch ans {
		case "":
			return defaultYes, nil
		case "y", "yes", "s", "si", "sí":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(p.Out, "Responde y/n, o escribe 'salir'.")
	}
}

// AutoPrompter answers yes to every prompt. Used by --auto.
type AutoPrompter struct{}

func (AutoPrompter) Confirm(string, bool) (bool, error) {
	return true, nil
}
