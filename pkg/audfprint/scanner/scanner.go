// Package scanner lists managed artifacts and candidate audio sources on disk.
package scanner

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// DefaultSourceTypes are the source extensions offered when none are given.
const DefaultSourceTypes = ".mp3,.wav,.flac"

// Entry is one scanned file.
type Entry struct {
	Name string `json:"basename"` // base name with the suffix removed
	Path string `json:"fullname"` // full path
}

// Scan returns the regular files under root whose path below root contains
// suffix, following symbolic links. A missing or unreadable root yields an empty
// result. Entries are sorted by path.
func Scan(root, suffix string) []Entry {
	var out []Entry
	walk(root, func(path string) {
		if !strings.Contains(relPath(root, path), suffix) {
			return
		}
		base := filepath.Base(path)
		out = append(out, Entry{
			Name: strings.TrimSuffix(base, suffix),
			Path: path,
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	if out == nil {
		out = []Entry{}
	}
	return out
}

// Listing is the result of ListSources.
type Listing struct {
	Root      string   `json:"root"`
	Files     []string `json:"files"`     // full paths of the kept sources
	Filenames []string `json:"filenames"` // Files with the leading Levels components dropped
	Levels    int      `json:"levels"`
	MaxLevels int      `json:"maxLevels"`
	MaxCores  int      `json:"maxCores"`
}

// ListSources lists files under root whose path below root contains any
// of the comma separated types. Levels drops that many leading path components
// from every displayed filename; it is clamped to the depth of root.
func ListSources(root, types string, levels int) Listing {
	if strings.TrimSpace(types) == "" {
		types = DefaultSourceTypes
	}
	wanted := SplitTypes(types)

	maxLevels := len(splitComponents(filepath.ToSlash(root)))
	if levels < 0 {
		levels = 0
	}
	if levels > maxLevels {
		levels = maxLevels
	}

	listing := Listing{
		Root:      root,
		Files:     []string{},
		Filenames: []string{},
		Levels:    levels,
		MaxLevels: maxLevels,
		MaxCores:  runtime.NumCPU(),
	}

	var files []string
	walk(root, func(path string) {
		rel := relPath(root, path)
		for _, t := range wanted {
			if strings.Contains(rel, t) {
				files = append(files, path)
				return
			}
		}
	})
	sort.Strings(files)

	for _, f := range files {
		_, rel := TrimLevels(f, levels)
		listing.Files = append(listing.Files, f)
		listing.Filenames = append(listing.Filenames, rel)
	}
	return listing
}

// SplitTypes splits a comma separated extension list and trims each entry.
func SplitTypes(types string) []string {
	var out []string
	for _, t := range strings.Split(types, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// TrimLevels splits path after its first levels components. dir is the
// dropped prefix (usable as a working directory) and rel the remainder in
// slash form. When path has no more than levels components it is returned
// whole as rel.
func TrimLevels(path string, levels int) (dir, rel string) {
	slashed := filepath.ToSlash(path)
	parts := strings.Split(slashed, "/")
	if levels <= 0 || len(parts) <= levels {
		return "", slashed
	}
	dir = strings.Join(parts[:levels], "/")
	if dir == "" {
		dir = "/"
	}
	return filepath.FromSlash(dir), strings.Join(parts[levels:], "/")
}

// relPath is path relative to root, so directories above root never
// match a suffix.
func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.Base(path)
	}
	return rel
}

func splitComponents(p string) []string {
	return strings.Split(strings.TrimRight(p, "/"), "/")
}

// walk calls fn for every regular file reachable from root. Directories are
// identified by their resolved path so symlink cycles are visited once.
func walk(root string, fn func(path string)) {
	seen := make(map[string]bool)
	var visit func(dir string)
	visit = func(dir string) {
		real, err := filepath.EvalSymlinks(dir)
		if err != nil || seen[real] {
			return
		}
		seen[real] = true

		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			// Stat follows links; a dangling link is skipped.
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			switch {
			case info.IsDir():
				visit(path)
			case info.Mode().IsRegular():
				fn(path)
			}
		}
	}
	visit(root)
}
