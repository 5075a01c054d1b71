package collab

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/breakfix/internal/errors"
)

var questionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

// Prompter implements flow.Input on a line-oriented reader. Questions are
// styled only when the input is a terminal.
type Prompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

// NewPrompter reads answers from in and writes questions to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &Prompter{in: bufio.NewReader(in), out: out, interactive: interactive}
}

// Interactive reports whether answers come from a terminal.
func (p *Prompter) Interactive() bool { return p.interactive }

// Ask writes prompt and returns the next line, trimmed. Reaching the end of
// the input before any answer is an error.
func (p *Prompter) Ask(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.interactive {
		fmt.Fprintf(p.out, "\n%s\n> ", questionStyle.Render(prompt))
	} else {
		fmt.Fprintf(p.out, "%s\n", prompt)
	}

	line, err := p.in.ReadString('\n')
	answer := strings.TrimSpace(line)
	if err == io.EOF && answer == "" {
		return "", fmt.Errorf("%w: input closed before an answer to %q", errors.ErrInvalidInput, prompt)
	}
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return answer, nil
}
