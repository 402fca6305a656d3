// Package runner executes tool invocations in an external Python
// interpreter and streams their output line by line.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/script"
)

var (
	// ErrRuntimeMissing means the interpreter could not be started.
	ErrRuntimeMissing = errors.New("python runtime not found")
	// ErrDependencyMissing means the interpreter ran but a required
	// module could not be imported.
	ErrDependencyMissing = errors.New("python dependency missing")
)

const maxLineBytes = 1 << 20

var (
	errorMarker      = regexp.MustCompile(`\b[A-Za-z_]*(Error|Exception)\b|^Traceback \(most recent call last\)`)
	dependencyMarker = regexp.MustCompile(`\b(ModuleNotFoundError|ImportError)\b`)
	wroteLine        = regexp.MustCompile(`(?i)^\s*wrote\s+(.+?)\s*$`)
)

// Stream identifies where a line was read from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Line is one line of process output.
type Line struct {
	Text   string
	Stream Stream
	Error  bool // carries an error-class marker
}

// Result is the captured output of a finished process.
type Result struct {
	Lines    []Line // every line in arrival order
	ExitCode int
}

// Stdout returns the text of the stdout lines in order.
func (r *Result) Stdout() []string {
	var out []string
	for _, l := range r.Lines {
		if l.Stream == Stdout {
			out = append(out, l.Text)
		}
	}
	return out
}

// Text returns the text of all lines in order.
func (r *Result) Text() []string {
	out := make([]string, len(r.Lines))
	for i, l := range r.Lines {
		out[i] = l.Text
	}
	return out
}

// ExitError reports a non-zero exit together with the captured output.
type ExitError struct {
	Invocation string
	Code       int
	Lines      []string
	dependency bool
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Invocation, e.Code)
	if n := len(e.Lines); n > 0 {
		msg += ": " + e.Lines[n-1]
	}
	return msg
}

// Is lets errors.Is match ErrDependencyMissing on import failures.
func (e *ExitError) Is(target error) bool {
	return target == ErrDependencyMissing && e.dependency
}

// Config describes how to start the interpreter and locate the tool.
type Config struct {
	Interpreter     string
	InterpreterArgs []string // placed before the script; default -u -c
	ToolDir         string
	ToolName        string
	Env             []string // extra environment, KEY=VALUE
}

// Runner starts one interpreter process per invocation.
type Runner struct {
	mu  sync.RWMutex
	cfg Config
}

// New returns a runner for cfg. A relative ToolDir is made absolute.
func New(cfg Config) *Runner {
	if cfg.ToolDir != "" {
		if abs, err := filepath.Abs(cfg.ToolDir); err == nil {
			cfg.ToolDir = abs
		}
	}
	if cfg.Interpreter == "" {
		cfg.Interpreter = "python3"
	}
	if cfg.InterpreterArgs == nil {
		cfg.InterpreterArgs = []string{"-u", "-c"}
	}
	if cfg.ToolName == "" {
		cfg.ToolName = "audfprint"
	}
	return &Runner{cfg: cfg}
}

func (r *Runner) Interpreter() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Interpreter
}

func (r *Runner) SetInterpreter(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Interpreter = path
}

// Run executes inv as a script. onLine, when non-nil, sees every line as
// soon as it is read. A started process always runs to completion; ctx is
// only checked before it starts.
func (r *Runner) Run(ctx context.Context, inv script.Invocation, onLine func(Line)) (*Result, error) {
	r.mu.RLock()
	cfg := r.cfg
	r.mu.RUnlock()

	src, err := inv.Script(cfg.ToolDir, cfg.ToolName)
	if err != nil {
		return nil, err
	}
	args := append(append([]string{}, cfg.InterpreterArgs...), src)
	return r.exec(ctx, cfg, inv.String(), args, onLine)
}

// Exec runs the interpreter with raw arguments, e.g. -m pip install.
func (r *Runner) Exec(ctx context.Context, args []string, onLine func(Line)) (*Result, error) {
	r.mu.RLock()
	cfg := r.cfg
	r.mu.RUnlock()
	return r.exec(ctx, cfg, strings.Join(args, " "), args, onLine)
}

func (r *Runner) exec(ctx context.Context, cfg Config, label string, args []string, onLine func(Line)) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(context.WithoutCancel(ctx), cfg.Interpreter, args...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), cfg.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if isNotRunnable(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrRuntimeMissing, cfg.Interpreter, err)
		}
		return nil, fmt.Errorf("start %s: %w", cfg.Interpreter, err)
	}

	res := &Result{}
	var mu sync.Mutex
	emit := func(l Line) {
		mu.Lock()
		defer mu.Unlock()
		res.Lines = append(res.Lines, l)
		if onLine != nil {
			onLine(l)
		}
	}

	var g errgroup.Group
	g.Go(func() error { return scanLines(stdout, Stdout, emit) })
	g.Go(func() error { return scanLines(stderr, Stderr, emit) })
	readErr := g.Wait()
	waitErr := cmd.Wait()

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("wait %s: %w", label, waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{
			Invocation: label,
			Code:       res.ExitCode,
			Lines:      res.Text(),
			dependency: hasDependencyMarker(res.Lines),
		}
	}
	if readErr != nil {
		return res, fmt.Errorf("read output of %s: %w", label, readErr)
	}
	return res, nil
}

func scanLines(rd io.Reader, stream Stream, emit func(Line)) error {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		text := strings.TrimRight(sc.Text(), "\r")
		emit(Line{Text: text, Stream: stream, Error: IsErrorLine(text)})
	}
	if err := sc.Err(); err != nil {
		// Drain so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, rd)
		return err
	}
	return nil
}

func isNotRunnable(err error) bool {
	return errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission)
}

func hasDependencyMarker(lines []Line) bool {
	for _, l := range lines {
		if dependencyMarker.MatchString(l.Text) {
			return true
		}
	}
	return false
}

// IsErrorLine reports whether text carries an error-class marker such as
// "ValueError:" or a traceback header.
func IsErrorLine(text string) bool {
	return errorMarker.MatchString(text)
}

// WrotePath returns the path from the last "wrote <path>" line.
func WrotePath(lines []string) (string, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		if m := wroteLine.FindStringSubmatch(lines[i]); m != nil {
			return m[1], true
		}
	}
	return "", false
}
