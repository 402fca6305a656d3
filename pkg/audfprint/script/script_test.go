package script

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestScriptBasic(t *testing.T) {
	src, err := List("/data/databases/rock.pklz").Script("/opt/audfprint", "audfprint")
	if err != nil {
		t.Fatalf("Script failed: %v", err)
	}

	want := "import sys\n" +
		"sys.path.append(\"/opt/audfprint\")\n" +
		"from audfprint import main\n" +
		"main([\"audfprint\", \"list\", \"-d\", \"/data/databases/rock.pklz\"])\n"
	if diff := cmp.Diff(want, src); diff != "" {
		t.Errorf("Script mismatch (-want +got):\n%s", diff)
	}
}

func TestScriptChdir(t *testing.T) {
	src, err := NewDatabase("db.pklz", 2, true, "a.mp3").In("/music").Script("", "audfprint")
	if err != nil {
		t.Fatalf("Script failed: %v", err)
	}
	if !strings.Contains(src, "import os\nos.chdir(\"/music\")\n") {
		t.Errorf("Expected chdir before main, got:\n%s", src)
	}
	if strings.Contains(src, "sys.path.append") {
		t.Errorf("Empty tool dir should not be appended:\n%s", src)
	}

	src, err = List("db.pklz").In("/music").Script("tool", "audfprint")
	if err != nil {
		t.Fatalf("Script failed: %v", err)
	}
	path, chdir := strings.Index(src, "sys.path.append"), strings.Index(src, "os.chdir")
	if path < 0 || chdir < 0 || path > chdir {
		t.Errorf("Tool path must be added before changing directory:\n%s", src)
	}
	if !strings.Contains(src, `"-H", "2", "-C", "a.mp3"`) {
		t.Errorf("Unexpected argv in:\n%s", src)
	}
}

func TestScriptEscapesHostileArguments(t *testing.T) {
	hostile := []string{
		`it's "quoted"`,
		`back\slash`,
		"new\nline",
		`"]); import os; os.system("rm -rf /"); x=(["`,
		"Beyoncé – naïve.mp3",
		"emoji 🎵.wav",
	}
	src, err := New(SubPrecompute, toAny(hostile)...).Script("", "audfprint")
	if err != nil {
		t.Fatalf("Script failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(src), "\n")
	last := lines[len(lines)-1]
	if len(lines) != 3 {
		t.Fatalf("Arguments must not introduce new statements, got %d lines:\n%s", len(lines), src)
	}
	if strings.Count(last, "main(") != 1 {
		t.Errorf("Injection leaked into the call: %s", last)
	}
	for _, r := range src {
		if r > 0x7f {
			t.Fatalf("Script should be pure ASCII, found %q", r)
		}
	}
	if !strings.Contains(last, `\u00e9`) || !strings.Contains(last, `\U0001f3b5`) {
		t.Errorf("Expected unicode escapes in %s", last)
	}
}

func TestQuote(t *testing.T) {
	cases := map[string]string{
		"plain.mp3":    `"plain.mp3"`,
		`say "hi"\now`: `"say \"hi\"\\now"`,
		"tab\there\n":  `"tab\there\n"`,
		"bell\x07":     `"bell\x07"`,
		"café":         `"caf\u00e9"`,
		"caf\xe9.mp3":  `"caf\udce9.mp3"`,
		"ok\xff\xfe":   `"ok\udcff\udcfe"`,
		"\U0001f3b5":   `"\U0001f3b5"`,
	}
	for in, want := range cases {
		if got := quote(in); got != want {
			t.Errorf("quote(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestScriptRejectsBadToolName(t *testing.T) {
	if _, err := Version().Script("", "audfprint; import os"); err == nil {
		t.Error("Expected error for non-identifier tool name")
	}
}

func TestHelpersArgv(t *testing.T) {
	cases := []struct {
		name string
		inv  Invocation
		want []string
	}{
		{"match", Match("rock.pklz", 0, "a.afpt", "b.afpt"), []string{"audfprint", "match", "-d", "rock.pklz", "a.afpt", "b.afpt", "-R"}},
		{"match capped", Match("rock.pklz", 5, "a.afpt"), []string{"audfprint", "match", "-d", "rock.pklz", "a.afpt", "-R", "-N", "5"}},
		{"merge", Merge("rock.pklz", "jazz.pklz"), []string{"audfprint", "merge", "-d", "rock.pklz", "jazz.pklz"}},
		{"precompute", Precompute(4, "/tmp/out", "song.mp3"), []string{"audfprint", "precompute", "-i", "4", "-p", "/tmp/out", "song.mp3"}},
		{"version", Version(), []string{"audfprint", "--version"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, tc.inv.Argv("audfprint")); diff != "" {
				t.Errorf("Argv mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
