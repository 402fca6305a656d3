package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/script"
)

// DefaultInstallURL is where users are sent when no interpreter works.
const DefaultInstallURL = "https://www.python.org/downloads/"

// DefaultPackages are installed when the tool fails to import them.
var DefaultPackages = []string{"numpy", "scipy", "docopt", "joblib", "psutil"}

// Installation states reported through Status.
const (
	StateUnknown        = "unknown"
	StateChecking       = "checking"
	StateInstalling     = "installing"
	StateReady          = "ready"
	StateRuntimeMissing = "runtime-missing"
	StateFailed         = "failed"
)

// Status is the installation state of the interpreter and the tool.
type Status struct {
	State       string `json:"state"`
	Interpreter string `json:"interpreter"`
	Version     string `json:"version,omitempty"`
	Message     string `json:"message,omitempty"`
	InstallURL  string `json:"installUrl,omitempty"`
}

// Executor is what Environment needs from a Runner.
type Executor interface {
	Run(ctx context.Context, inv script.Invocation, onLine func(Line)) (*Result, error)
	Exec(ctx context.Context, args []string, onLine func(Line)) (*Result, error)
	Interpreter() string
	SetInterpreter(path string)
}

// EnvironmentConfig tunes discovery and remediation.
type EnvironmentConfig struct {
	InstallURL string
	Packages   []string
	// Candidates are tried, in order, when the configured interpreter
	// cannot be started. Glob patterns are expanded.
	Candidates []string
	OnStatus   func(Status)
	OnLine     func(Line)
}

// Environment holds the resolved interpreter and tool version. It is
// created explicitly and filled in by Check.
type Environment struct {
	exec Executor
	cfg  EnvironmentConfig

	// lookPath is swapped in tests.
	lookPath func(string) (string, error)

	mu     sync.RWMutex
	status Status
}

func NewEnvironment(exec Executor, cfg EnvironmentConfig) *Environment {
	if cfg.InstallURL == "" {
		cfg.InstallURL = DefaultInstallURL
	}
	if cfg.Packages == nil {
		cfg.Packages = DefaultPackages
	}
	if cfg.Candidates == nil {
		cfg.Candidates = defaultCandidates()
	}
	return &Environment{
		exec:     exec,
		cfg:      cfg,
		lookPath: lookPath,
		status:   Status{State: StateUnknown, Interpreter: exec.Interpreter()},
	}
}

// Status returns the last known state.
func (e *Environment) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Ready reports whether Check has succeeded.
func (e *Environment) Ready() bool {
	return e.Status().State == StateReady
}

// Check queries the tool version. A missing interpreter is retried once
// with a discovered alternative; a missing dependency triggers one
// package installation followed by one more check.
func (e *Environment) Check(ctx context.Context) (Status, error) {
	e.set(Status{State: StateChecking})

	version, err := e.version(ctx)
	if errors.Is(err, ErrRuntimeMissing) {
		if alt, ok := e.discover(); ok {
			e.exec.SetInterpreter(alt)
		}
		e.set(Status{State: StateChecking, Message: "retrying with " + e.exec.Interpreter()})
		version, err = e.version(ctx)
	}
	if errors.Is(err, ErrRuntimeMissing) {
		st := e.set(Status{
			State:      StateRuntimeMissing,
			Message:    err.Error(),
			InstallURL: e.cfg.InstallURL,
		})
		return st, fmt.Errorf("%w (install from %s)", err, e.cfg.InstallURL)
	}

	if errors.Is(err, ErrDependencyMissing) {
		e.set(Status{State: StateInstalling, Message: strings.Join(e.cfg.Packages, " ")})
		if ierr := e.install(ctx); ierr != nil {
			st := e.set(Status{State: StateFailed, Message: ierr.Error()})
			return st, fmt.Errorf("installing dependencies: %w", ierr)
		}
		version, err = e.version(ctx)
	}
	if err != nil {
		st := e.set(Status{State: StateFailed, Message: err.Error()})
		return st, err
	}

	return e.set(Status{State: StateReady, Version: version}), nil
}

func (e *Environment) version(ctx context.Context) (string, error) {
	res, err := e.exec.Run(ctx, script.Version(), e.cfg.OnLine)
	if err != nil {
		return "", err
	}
	out := res.Stdout()
	for i := len(out) - 1; i >= 0; i-- {
		if v := strings.TrimSpace(out[i]); v != "" {
			return v, nil
		}
	}
	return "", nil
}

func (e *Environment) install(ctx context.Context) error {
	args := append([]string{"-m", "pip", "install", "--user"}, e.cfg.Packages...)
	_, err := e.exec.Exec(ctx, args, e.cfg.OnLine)
	return err
}

// discover returns the first runnable candidate other than the current
// interpreter.
func (e *Environment) discover() (string, bool) {
	current := e.exec.Interpreter()
	for _, c := range e.cfg.Candidates {
		matches := []string{c}
		if strings.ContainsAny(c, "*?[") {
			matches, _ = filepath.Glob(os.ExpandEnv(c))
		}
		for _, m := range matches {
			path, err := e.lookPath(os.ExpandEnv(m))
			if err != nil || path == current {
				continue
			}
			return path, true
		}
	}
	return "", false
}

func (e *Environment) set(st Status) Status {
	e.mu.Lock()
	st.Interpreter = e.exec.Interpreter()
	if st.Version == "" && st.State == StateReady {
		st.Version = e.status.Version
	}
	e.status = st
	e.mu.Unlock()

	if e.cfg.OnStatus != nil {
		e.cfg.OnStatus(st)
	}
	return st
}

func lookPath(name string) (string, error) {
	if filepath.IsAbs(name) {
		info, err := os.Stat(name)
		if err != nil {
			return "", err
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s is a directory", name)
		}
		return name, nil
	}
	return exec.LookPath(name)
}

func defaultCandidates() []string {
	if runtime.GOOS == "windows" {
		return []string{
			"python",
			"py",
			`${LOCALAPPDATA}\Programs\Python\Python3*\python.exe`,
			`C:\Python3*\python.exe`,
		}
	}
	return []string{
		"python3",
		"python",
		"/opt/homebrew/bin/python3",
		"/usr/local/bin/python3",
		"/usr/bin/python3",
		"/Library/Frameworks/Python.framework/Versions/3.*/bin/python3",
	}
}
