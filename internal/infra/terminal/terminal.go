// Package terminal is the interactive surface of the CLI: confirmation
// prompts, status messages and masked key entry.
package terminal

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"voice-code/internal/domain"
)

var ErrInputClosed = errors.New("terminal input closed")

var (
	codeStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("241")).
			Padding(0, 1)
	questionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true)
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

type Terminal struct {
	out   io.Writer
	outMu sync.Mutex

	fd  int
	tty bool

	lines     chan string
	startOnce sync.Once
	in        io.Reader
}

// New reads answers from in and writes to out. When in is a terminal,
// PromptSecret switches it to raw mode so keys are not echoed.
func New(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{
		in:    in,
		out:   out,
		lines: make(chan string),
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		t.fd = int(f.Fd())
		t.tty = true
	}
	return t
}

// readLines is the only reader of t.in. A line nobody is waiting for stays
// pending until the next prompt takes it.
func (t *Terminal) readLines() {
	scanner := bufio.NewScanner(t.in)
	scanner.Split(splitLines())
	for scanner.Scan() {
		t.lines <- scanner.Text()
	}
	close(t.lines)
}

func (t *Terminal) readLine(ctx context.Context) (string, error) {
	t.startOnce.Do(func() { go t.readLines() })

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-t.lines:
		if !ok {
			return "", ErrInputClosed
		}
		return line, nil
	}
}

// splitLines ends a line at '\n' or '\r', treating "\r\n" as one
// terminator. Raw mode delivers Enter as '\r'.
func splitLines() bufio.SplitFunc {
	afterCR := false
	return func(data []byte, atEOF bool) (int, []byte, error) {
		skip := 0
		if afterCR && len(data) > 0 && data[0] == '\n' {
			skip = 1
		}
		if len(data) > 0 {
			afterCR = false
		}

		if i := bytes.IndexAny(data[skip:], "\r\n"); i >= 0 {
			end := skip + i
			advance := end + 1
			if data[end] == '\r' {
				if advance < len(data) {
					if data[advance] == '\n' {
						advance++
					}
				} else {
					afterCR = true
				}
			}
			return advance, data[skip:end], nil
		}
		if atEOF && len(data) > skip {
			return len(data), data[skip:], nil
		}
		return skip, nil, nil
	}
}

func (t *Terminal) print(s string) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	fmt.Fprint(t.out, s)
}

// Confirm shows the generated code and waits for a yes or no answer.
func (t *Terminal) Confirm(ctx context.Context, code string) (bool, error) {
	t.print(codeStyle.Render(code) + "\n" + questionStyle.Render("Insert this code? [y/N] "))

	answer, err := t.readLine(ctx)
	if err != nil {
		t.print("\n")
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (t *Terminal) ShowMessage(text string, severity domain.Severity) {
	style := infoStyle
	switch severity {
	case domain.SeverityWarning:
		style = warningStyle
	case domain.SeverityError:
		style = errorStyle
	}
	t.print(style.Render(text) + "\n")
}

// PromptSecret asks for a provider key. The answer is never echoed when
// input is a terminal.
func (t *Terminal) PromptSecret(ctx context.Context, name string) (string, error) {
	prompt := questionStyle.Render(fmt.Sprintf("Enter your %s API key: ", name))

	if !t.tty {
		t.print(prompt)
		return t.readLine(ctx)
	}

	state, err := term.MakeRaw(t.fd)
	if err != nil {
		return "", fmt.Errorf("disabling echo: %w", err)
	}
	defer term.Restore(t.fd, state)

	t.print(prompt)
	line, err := t.readLine(ctx)
	t.print("\r\n")
	if err != nil {
		return "", err
	}

	// Ctrl-C arrives as a byte in raw mode.
	if strings.ContainsRune(line, 0x03) {
		return "", context.Canceled
	}
	return eraseBackspaces(line), nil
}

func eraseBackspaces(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == 0x7f || r == '\b' {
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
