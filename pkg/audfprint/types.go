package audfprint

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/scanner"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/sidecar"
	"github.com/himanishpuri/audfprint-gui/pkg/utils"
)

var (
	// ErrUnknownKind is returned for an artifact kind other than
	// precompute or databases.
	ErrUnknownKind = errors.New("unknown artifact kind")
	// ErrNoOutput means the tool finished without naming a written file.
	ErrNoOutput = errors.New("tool reported no output file")
)

// File extensions of the managed artifacts.
const (
	AnalysisExt = ".afpt"
	DatabaseExt = ".pklz"
	ListingExt  = ".txt"
)

type Kind string

const (
	KindPrecompute Kind = "precompute"
	KindDatabase   Kind = "databases"
)

// ParseKind accepts the kind names used by front ends.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "precompute", "analysis", "analyses":
		return KindPrecompute, nil
	case "databases", "database", "db":
		return KindDatabase, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Layout is the directory structure under the data root.
type Layout struct {
	Root       string `json:"root"`
	Precompute string `json:"precompute"`
	Databases  string `json:"databases"`
	ASCII      string `json:"ascii"`
	Downloads  string `json:"downloads"`
}

func NewLayout(root string) Layout {
	return Layout{
		Root:       root,
		Precompute: filepath.Join(root, "precompute"),
		Databases:  filepath.Join(root, "databases"),
		ASCII:      filepath.Join(root, "ascii"),
		Downloads:  filepath.Join(root, "downloads"),
	}
}

// Ensure creates the managed directories.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Precompute, l.Databases, l.ASCII, l.Downloads} {
		if err := utils.MakeDir(dir); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// Dir returns the managed directory of kind.
func (l Layout) Dir(kind Kind) string {
	if kind == KindDatabase {
		return l.Databases
	}
	return l.Precompute
}

// Ext returns the artifact extension of kind.
func (k Kind) Ext() string {
	if k == KindDatabase {
		return DatabaseExt
	}
	return AnalysisExt
}

// SidePath returns the companion file of an artifact: the JSON side-car for
// analyses, the listing dump for databases.
func (k Kind) SidePath(artifact string) string {
	if k == KindDatabase {
		return ListingPath(artifact)
	}
	return sidecar.PathFor(artifact)
}

// ListingPath is the plain-text dump next to a database.
func ListingPath(db string) string {
	return strings.TrimSuffix(db, filepath.Ext(db)) + ListingExt
}

// DatabaseKey identifies a database in side-car maps: its path relative
// to root, without extension, in slash form. Paths outside root fall back
// to the base name.
func DatabaseKey(root, db string) string {
	rel := filepath.Base(db)
	if root != "" {
		if r, err := filepath.Rel(root, db); err == nil && r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			rel = r
		}
	}
	rel = filepath.ToSlash(rel)
	return strings.TrimSuffix(rel, filepath.Ext(rel))
}

type AnalyzeRequest struct {
	// Files are sources to analyze: local paths or http(s) URLs.
	Files []string `json:"files"`
	// Dir, when Files is empty, is scanned for sources of Types.
	Dir   string `json:"dir"`
	Types string `json:"types"`
	Cores int    `json:"cores"`
}

// ItemError records a batch item that failed without aborting the batch.
type ItemError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type AnalyzeResult struct {
	Analyses []string    `json:"analyses"`
	Skipped  []string    `json:"skipped"`
	Failed   []ItemError `json:"failed"`
}

type StoreDatabaseRequest struct {
	Name  string   `json:"name"`
	Root  string   `json:"root"`
	Files []string `json:"files"`
	Types string   `json:"types"`
	Cores int      `json:"cores"`
	// Relative stores paths relative to a working directory (-C) instead
	// of absolute ones. Levels is the number of leading path components
	// that directory takes; zero means Root.
	Relative bool `json:"relative"`
	Levels   int  `json:"levels"`
}

// Confirmer is asked once per export whether the exported files should be
// removed from the managed directory.
type Confirmer func(exported []string) bool

type ExportRequest struct {
	Kind    Kind      `json:"kind"`
	Files   []string  `json:"files"`
	Dest    string    `json:"dest"`
	Confirm Confirmer `json:"-"`
}

type ExportResult struct {
	Exported []string    `json:"exported"`
	Removed  bool        `json:"removed"`
	Failed   []ItemError `json:"failed"`
}

type ImportRequest struct {
	Kind  Kind     `json:"kind"`
	Files []string `json:"files"`
}

type ImportResult struct {
	Imported []string    `json:"imported"`
	Failed   []ItemError `json:"failed"`
}

// Listings is what Refresh publishes.
type Listings struct {
	Precompute []scanner.Entry `json:"precompute"`
	Databases  []scanner.Entry `json:"databases"`
}
