package matchline

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseMatchLine(t *testing.T) {
	line := "Matched   12.3 s starting at    0.5 s in precompute/my song.afpt to time   40.2 s in /music/Rock Band - Hit.mp3 with    57 of   410 common hashes at rank  0"

	got, ok := Parse(line)
	if !ok {
		t.Fatal("Expected line to parse")
	}
	want := Record{
		MatchDuration:           "12.3",
		MatchStartInQuery:       "0.5",
		Query:                   "precompute/my song.afpt",
		MatchStartInFingerprint: "40.2",
		MatchFilename:           "/music/Rock Band - Hit.mp3",
		CommonHashNumerator:     "57",
		CommonHashDenominator:   "410",
		Rank:                    "0",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTrimsSurroundingWhitespace(t *testing.T) {
	got, ok := Parse("  Matched 1 s starting at 2 s in q.afpt to time 3 s in f.wav with 4 of 5 common hashes at rank 6 \r\n")
	if !ok {
		t.Fatal("Expected line to parse")
	}
	fields := []string{got.MatchDuration, got.MatchStartInQuery, got.MatchStartInFingerprint,
		got.MatchFilename, got.CommonHashNumerator, got.CommonHashDenominator, got.Rank}
	want := []string{"1", "2", "3", "f.wav", "4", "5", "6"}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Errorf("Field mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejectsNonMatches(t *testing.T) {
	lines := []string{
		"",
		"NOMATCH precompute/a.afpt 120.0 sec 4455 raw hashes",
		"Matched",
		"Matched 1 s starting at 2 s in q.afpt",
		"Processed 1 files (12.4 s total dur) in 3.1 s sec = 0.250 x RT",
		"warning: Matched 1 s starting at 2 s in q to time 3 s in f with 4 of 5 common hashes at rank 6",
		"Traceback (most recent call last):",
	}
	for _, l := range lines {
		if _, ok := Parse(l); ok {
			t.Errorf("Line should not parse: %q", l)
		}
	}
}

func TestRoute(t *testing.T) {
	candidates := []string{"a.afpt", "aa.afpt", "b.afpt"}

	got, ok := Route("Matched 1 s starting at 0 s in aa.afpt to time ...", candidates)
	if !ok || got != "aa.afpt" {
		t.Errorf("Route = %q, %v; want aa.afpt", got, ok)
	}

	got, ok = Route("NOMATCH b.afpt 10.0 sec", candidates)
	if !ok || got != "b.afpt" {
		t.Errorf("Route = %q, %v; want b.afpt", got, ok)
	}

	if _, ok := Route("Processed 3 files", candidates); ok {
		t.Error("Expected no route for a summary line")
	}
}
