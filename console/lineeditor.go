// =============================================================================
// lineeditor.go - Line Editor with Dual-Mode Operation
// =============================================================================
//
// The line editor produces one line of operator input per submission. It
// detects whether the terminal is interactive (TTY) or not (piped input,
// Emacs comint) and picks an input method:
//
//   - Interactive mode: ergochat/readline with Emacs keybindings, persistent
//     history, history search and completion of the reserved commands.
//   - Non-interactive mode: bufio.Reader reading stdin line by line, with
//     no limit on line length.
//
// The editor is also the writer for device output. In interactive mode
// output goes through readline so the prompt and the half-typed line are
// redrawn below the new text instead of being overwritten. Diagnostics take
// the same route (see diagnosticOutput).
//
// History is stored at ~/.rtt_console_history with a 500-entry limit.
//
// =============================================================================

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

const (
	// historyFileName is the name of the history file in the user's home
	// directory.
	historyFileName = ".rtt_console_history"

	// historySize is the maximum number of history entries to retain.
	historySize = 500

	// defaultPrompt is shown before each input line.
	defaultPrompt = "> "
)

// LineEditor wraps line input with dual-mode operation.
//
// GO CONCEPT: One Value, Two Goroutines
// -------------------------------------
// GetLine blocks the input reader goroutine while Write is called from the
// main loop goroutine. That is safe here because readline.Instance is
// built for exactly this: Write may be called while Readline is waiting.
// In non-interactive mode the two methods touch different files (stdin
// and stdout) and share no state.
type LineEditor struct {
	// interactive is true when stdin is a TTY and false when it is piped.
	interactive bool

	// rl is the readline instance used in interactive mode; nil otherwise.
	rl *readline.Instance

	// reader reads lines in non-interactive mode; nil otherwise.
	reader *bufio.Reader

	// out receives prompts and device output in non-interactive mode.
	out io.Writer
}

// NewLineEditor creates a LineEditor with automatic mode detection. The
// completions are offered on Tab in interactive mode.
//
// Under Emacs (INSIDE_EMACS set) the editor is always non-interactive
// because Emacs provides its own line editing.
func NewLineEditor(completions []string) *LineEditor {
	isInteractive := term.IsTerminal(int(os.Stdin.Fd())) &&
		os.Getenv("INSIDE_EMACS") == ""

	if !isInteractive {
		return newPipedLineEditor(os.Stdin, os.Stdout)
	}

	items := make([]*readline.PrefixCompleter, 0, len(completions))
	for _, word := range completions {
		items = append(items, readline.PcItem(word))
	}

	rl, err := readline.NewFromConfig(&readline.Config{
		HistoryFile:  filepath.Join(homeDir(), historyFileName),
		HistoryLimit: historySize,

		// Lines are saved to history manually so empty lines are skipped.
		DisableAutoSaveHistory: true,

		AutoComplete: readline.NewPrefixCompleter(items...),
		Prompt:       defaultPrompt,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: readline init failed (%v), using basic input\n", err)
		return newPipedLineEditor(os.Stdin, os.Stdout)
	}

	return &LineEditor{
		interactive: true,
		rl:          rl,
		out:         os.Stdout,
	}
}

// newPipedLineEditor creates a non-interactive editor reading lines from
// in and writing prompts and output to out.
func newPipedLineEditor(in io.Reader, out io.Writer) *LineEditor {
	return &LineEditor{
		interactive: false,
		reader:      bufio.NewReader(in),
		out:         out,
	}
}

// GetLine reads a line of input with the given prompt.
//
// Returns the line without its trailing newline. Returns ("", io.EOF) when
// the operator presses Ctrl-D or piped input is exhausted, and
// ("", errInterrupt) when the operator presses Ctrl-C.
func (le *LineEditor) GetLine(prompt string) (string, error) {
	if le.interactive {
		return le.getInteractiveLine(prompt)
	}
	return le.getNonInteractiveLine(prompt)
}

// getInteractiveLine reads a line using readline.
func (le *LineEditor) getInteractiveLine(prompt string) (string, error) {
	le.rl.SetPrompt(prompt)

	line, err := le.rl.Readline()
	if err != nil {
		if err == readline.ErrInterrupt {
			return "", errInterrupt
		}
		return "", err
	}

	if strings.TrimSpace(line) != "" {
		le.rl.SaveToHistory(line)
	}
	return line, nil
}

// getNonInteractiveLine reads a line from the reader. The prompt is
// printed so comint-style frontends can find where input begins. A final
// line without a newline is still returned; io.EOF follows on the next call.
func (le *LineEditor) getNonInteractiveLine(prompt string) (string, error) {
	fmt.Fprint(le.out, prompt)

	line, err := le.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// Write prints device output. In interactive mode the prompt is redrawn
// after the text.
func (le *LineEditor) Write(p []byte) (int, error) {
	if le.rl != nil {
		return le.rl.Write(p)
	}
	return le.out.Write(p)
}

// diagnosticOutput returns where log output should go. In interactive mode
// that is the editor itself, so log lines are printed above the prompt
// instead of over it; otherwise fallback.
func (le *LineEditor) diagnosticOutput(fallback io.Writer) io.Writer {
	if le.interactive {
		return le
	}
	return fallback
}

// Close saves history and releases the terminal. It is safe to call more
// than once.
func (le *LineEditor) Close() {
	if le.rl != nil {
		le.rl.Close()
		le.rl = nil
	}
}

// IsInteractive reports whether the editor uses readline.
func (le *LineEditor) IsInteractive() bool {
	return le.interactive
}

// homeDir returns the current user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}
