// Package script builds the Python source that drives the audfprint entry
// point for one sub-command.
package script

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Sub-commands understood by the tool.
const (
	SubNew        = "new"
	SubMatch      = "match"
	SubList       = "list"
	SubMerge      = "merge"
	SubPrecompute = "precompute"
	SubVersion    = "--version"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Invocation is one call of the tool's main function.
type Invocation struct {
	Subcommand string
	Args       []string
	// Dir, when set, is entered with os.chdir before main runs.
	Dir string
}

// New returns an invocation of sub with args. Strings are taken as is;
// integers and floats are formatted in decimal.
func New(sub string, args ...any) Invocation {
	inv := Invocation{Subcommand: sub, Args: make([]string, 0, len(args))}
	for _, a := range args {
		inv.Args = append(inv.Args, argString(a))
	}
	return inv
}

// In returns a copy of inv that runs from dir.
func (inv Invocation) In(dir string) Invocation {
	inv.Dir = dir
	return inv
}

// Argv is the argument vector main receives.
func (inv Invocation) Argv(toolName string) []string {
	return append([]string{toolName, inv.Subcommand}, inv.Args...)
}

func (inv Invocation) String() string {
	return strings.TrimSpace(inv.Subcommand + " " + strings.Join(inv.Args, " "))
}

// Script renders Python source importing main from toolName (found under
// toolDir) and calling it with the invocation's argv. Every value is
// emitted as a quoted string literal.
func (inv Invocation) Script(toolDir, toolName string) (string, error) {
	if !identifier.MatchString(toolName) {
		return "", fmt.Errorf("tool name %q is not a python module name", toolName)
	}
	if inv.Subcommand == "" {
		return "", fmt.Errorf("empty sub-command")
	}

	var b strings.Builder
	b.WriteString("import sys\n")
	if toolDir != "" {
		fmt.Fprintf(&b, "sys.path.append(%s)\n", quote(toolDir))
	}
	if inv.Dir != "" {
		fmt.Fprintf(&b, "import os\nos.chdir(%s)\n", quote(inv.Dir))
	}
	fmt.Fprintf(&b, "from %s import main\n", toolName)

	argv := inv.Argv(toolName)
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = quote(a)
	}
	fmt.Fprintf(&b, "main([%s])\n", strings.Join(quoted, ", "))
	return b.String(), nil
}

// quote renders s as a double-quoted Python literal in pure ASCII, so the
// script does not depend on the interpreter's source encoding. Bytes that
// are not valid UTF-8 become the lone surrogates os.fsdecode produces for
// them, which the interpreter maps back to the original bytes on open.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			fmt.Fprintf(&b, `\udc%02x`, s[i])
			i++
			continue
		}
		i += size
		switch {
		case r == '"' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		case r < 0x80:
			b.WriteRune(r)
		case r > 0xFFFF:
			fmt.Fprintf(&b, `\U%08x`, r)
		default:
			fmt.Fprintf(&b, `\u%04x`, r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func argString(a any) string {
	switch v := a.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// NewDatabase builds `new -d db -H cores files...`, adding -C when the
// file paths are relative to the invocation directory.
func NewDatabase(db string, cores int, relative bool, files ...string) Invocation {
	args := []any{"-d", db, "-H", cores}
	if relative {
		args = append(args, "-C")
	}
	for _, f := range files {
		args = append(args, f)
	}
	return New(SubNew, args...)
}

// Match builds `match -d db files... -R`, with -N max when max > 0.
func Match(db string, max int, files ...string) Invocation {
	args := []any{"-d", db}
	for _, f := range files {
		args = append(args, f)
	}
	args = append(args, "-R")
	if max > 0 {
		args = append(args, "-N", max)
	}
	return New(SubMatch, args...)
}

// List builds `list -d db`.
func List(db string) Invocation {
	return New(SubList, "-d", db)
}

// Merge builds `merge -d db incoming...`.
func Merge(db string, incoming ...string) Invocation {
	args := []any{"-d", db}
	for _, f := range incoming {
		args = append(args, f)
	}
	return New(SubMerge, args...)
}

// Precompute builds `precompute -i cores [-p outDir] file`.
func Precompute(cores int, outDir, file string) Invocation {
	args := []any{"-i", cores}
	if outDir != "" {
		args = append(args, "-p", outDir)
	}
	args = append(args, file)
	return New(SubPrecompute, args...)
}

// Version builds the `--version` query.
func Version() Invocation {
	return Invocation{Subcommand: SubVersion}
}
