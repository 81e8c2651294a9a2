package console

import (
	"fmt"

	"golang.org/x/term"
)

// WithRawTerminal runs fn with the terminal on fd in raw mode (no line
// buffering, no local echo) and restores the previous mode on every exit
// path, including panics inside fn.
func WithRawTerminal(fd int, fn func() error) error {
	old, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("set raw terminal mode: %w", err)
	}
	defer term.Restore(fd, old)
	return fn()
}

// IsTerminal reports whether fd is attached to a terminal.
func IsTerminal(fd int) bool {
	return term.IsTerminal(fd)
}
