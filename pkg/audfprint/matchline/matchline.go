// Package matchline parses the matcher's human-readable result lines.
//
// The format is the tool's console output and carries no version marker;
// a change in its wording stops lines from parsing rather than failing
// loudly.
package matchline

import (
	"regexp"
	"strings"
)

var pattern = regexp.MustCompile(`^Matched\s+(.+?)\s+s\s+starting\s+at\s+(.+?)\s+s\s+in\s+(.+?)\s+to\s+time\s+(.+?)\s+s\s+in\s+(.+?)\s+with\s+(.+?)\s+of\s+(.+?)\s+common\s+hashes\s+at\s+rank\s+(.+?)$`)

// Record is one parsed match. Values stay strings; numeric parsing is up
// to the presentation layer.
type Record struct {
	MatchDuration           string `json:"matchDuration"`
	MatchStartInQuery       string `json:"matchStartInQuery"`
	MatchStartInFingerprint string `json:"matchStartInFingerprint"`
	MatchFilename           string `json:"matchFilename"`
	CommonHashNumerator     string `json:"commonHashNumerator"`
	CommonHashDenominator   string `json:"commonHashDenominator"`
	Rank                    string `json:"rank"`

	// Query is the analysis path the line names. It is used for routing
	// and not persisted.
	Query string `json:"-"`
}

// Parse extracts a Record from line. ok is false for any line that is
// not a match line.
func Parse(line string) (rec Record, ok bool) {
	m := pattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Record{}, false
	}
	for i := range m {
		m[i] = strings.TrimSpace(m[i])
	}
	return Record{
		MatchDuration:           m[1],
		MatchStartInQuery:       m[2],
		Query:                   m[3],
		MatchStartInFingerprint: m[4],
		MatchFilename:           m[5],
		CommonHashNumerator:     m[6],
		CommonHashDenominator:   m[7],
		Rank:                    m[8],
	}, true
}

// Route returns the candidate path that line refers to. When several
// candidates occur in the line the longest one wins, so "aa.afpt" is not
// claimed by "a.afpt".
func Route(line string, candidates []string) (string, bool) {
	best := ""
	for _, c := range candidates {
		if c != "" && strings.Contains(line, c) && len(c) > len(best) {
			best = c
		}
	}
	return best, best != ""
}
