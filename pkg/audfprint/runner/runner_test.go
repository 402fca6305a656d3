package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/script"
)

// shellRunner returns a runner that treats the interpreter as /bin/sh so
// Exec can be tested without Python.
func shellRunner(t *testing.T) *Runner {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("sh not available: %v", err)
	}
	return New(Config{Interpreter: sh})
}

// pythonRunner writes a fake tool module that echoes its argv and returns
// a runner configured to import it.
func pythonRunner(t *testing.T, body string) *Runner {
	t.Helper()
	py, err := exec.LookPath("python3")
	if err != nil {
		t.Skipf("python3 not available: %v", err)
	}
	dir := t.TempDir()
	src := "import sys\n\ndef main(argv):\n" + body
	if err := os.WriteFile(filepath.Join(dir, "faketool.py"), []byte(src), 0o644); err != nil {
		t.Fatalf("write fake tool: %v", err)
	}
	return New(Config{Interpreter: py, ToolDir: dir, ToolName: "faketool"})
}

func TestExecStreamsLinesInOrder(t *testing.T) {
	r := shellRunner(t)

	var seen []string
	res, err := r.Exec(context.Background(), []string{"-c", "echo one; echo two; echo three"}, func(l Line) {
		seen = append(seen, l.Text)
	})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}

	want := []string{"one", "two", "three"}
	if strings.Join(seen, ",") != strings.Join(want, ",") {
		t.Errorf("Streamed lines = %v, want %v", seen, want)
	}
	if strings.Join(res.Stdout(), ",") != strings.Join(want, ",") {
		t.Errorf("Captured stdout = %v, want %v", res.Stdout(), want)
	}
}

func TestExecNonZeroExit(t *testing.T) {
	r := shellRunner(t)

	res, err := r.Exec(context.Background(), []string{"-c", "echo partial; echo 'ValueError: bad' >&2; exit 3"}, nil)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Expected *ExitError, got %v", err)
	}
	if exitErr.Code != 3 || res.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d / %d", exitErr.Code, res.ExitCode)
	}
	if errors.Is(err, ErrDependencyMissing) {
		t.Error("Plain failure must not be reported as missing dependency")
	}

	var tagged bool
	for _, l := range res.Lines {
		if l.Stream == Stderr && l.Error {
			tagged = true
		}
	}
	if !tagged {
		t.Errorf("Expected the ValueError line to be tagged, got %+v", res.Lines)
	}
}

func TestExecDependencyMissing(t *testing.T) {
	r := shellRunner(t)

	_, err := r.Exec(context.Background(), []string{"-c", "echo \"ModuleNotFoundError: No module named 'numpy'\" >&2; exit 1"}, nil)
	if !errors.Is(err, ErrDependencyMissing) {
		t.Errorf("Expected ErrDependencyMissing, got %v", err)
	}
}

func TestExecOutlivesCancellation(t *testing.T) {
	r := shellRunner(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(100*time.Millisecond, cancel)

	res, err := r.Exec(ctx, []string{"-c", "echo started; sleep 1; echo wrote /tmp/out.afpt"}, nil)
	if err != nil {
		t.Fatalf("Started process should run to completion, got %v", err)
	}
	if got, ok := WrotePath(res.Text()); !ok || got != "/tmp/out.afpt" {
		t.Errorf("Expected the final wrote line, got %v", res.Text())
	}

	if _, err := r.Exec(ctx, []string{"-c", "echo never"}, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled before start, got %v", err)
	}
}

func TestRunRuntimeMissing(t *testing.T) {
	r := New(Config{Interpreter: filepath.Join(t.TempDir(), "no-such-python")})

	_, err := r.Run(context.Background(), script.Version(), nil)
	if !errors.Is(err, ErrRuntimeMissing) {
		t.Errorf("Expected ErrRuntimeMissing, got %v", err)
	}
}

func TestRunPassesArgvThroughScript(t *testing.T) {
	r := pythonRunner(t, "    for a in argv:\n        print(a)\n")

	inv := script.New(script.SubPrecompute, "-i", 2, "it's a \"song\".mp3")
	res, err := r.Run(context.Background(), inv, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"faketool", "precompute", "-i", "2", "it's a \"song\".mp3"}
	got := res.Stdout()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("argv = %q, want %q", got, want)
	}
}

func TestRunChdir(t *testing.T) {
	r := pythonRunner(t, "    import os\n    print(os.getcwd())\n")
	dir := t.TempDir()

	res, err := r.Run(context.Background(), script.List("db.pklz").In(dir), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	real, _ := filepath.EvalSymlinks(dir)
	if out := res.Stdout(); len(out) != 1 || (out[0] != dir && out[0] != real) {
		t.Errorf("Expected cwd %s, got %v", dir, out)
	}
}

func TestRunChdirWithRelativeToolDir(t *testing.T) {
	py, err := exec.LookPath("python3")
	if err != nil {
		t.Skipf("python3 not available: %v", err)
	}
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "tool"), 0o755); err != nil {
		t.Fatal(err)
	}
	src := "def main(argv):\n    print(argv[1])\n"
	if err := os.WriteFile(filepath.Join(root, "tool", "faketool.py"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	music := filepath.Join(root, "music")
	if err := os.Mkdir(music, 0o755); err != nil {
		t.Fatal(err)
	}

	t.Chdir(root)
	r := New(Config{Interpreter: py, ToolDir: "tool", ToolName: "faketool"})
	t.Chdir(music)

	res, err := r.Run(context.Background(), script.NewDatabase("db.pklz", 1, true, "a.mp3").In(music), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out := res.Stdout(); len(out) != 1 || out[0] != "new" {
		t.Errorf("Unexpected output %v", out)
	}
}

func TestIsErrorLine(t *testing.T) {
	cases := map[string]bool{
		"Traceback (most recent call last):":          true,
		"ValueError: could not convert":               true,
		"Exception in thread":                         true,
		"Analyzed song.mp3 of 12.3 s to 400 hashes":   false,
		"UserWarning: something noisy but harmless":   false,
		"Matched 9.1 s starting at 0.0 s in a.afpt..": false,
	}
	for in, want := range cases {
		if got := IsErrorLine(in); got != want {
			t.Errorf("IsErrorLine(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWrotePath(t *testing.T) {
	lines := []string{
		"precomputing song.mp3",
		"wrote /tmp/out/first.afpt",
		"noise",
		"Wrote /tmp/out/song name.afpt  ",
	}
	got, ok := WrotePath(lines)
	if !ok || got != "/tmp/out/song name.afpt" {
		t.Errorf("WrotePath = %q, %v", got, ok)
	}
	if _, ok := WrotePath([]string{"nothing here"}); ok {
		t.Error("Expected no path")
	}
}
