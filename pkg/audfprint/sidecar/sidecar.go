// Package sidecar manages the JSON file stored next to each analysis
// artifact. It is the only durable record of that analysis' match history.
package sidecar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/matchline"
	"github.com/himanishpuri/audfprint-gui/pkg/utils"
)

// Ext is the side-car extension.
const Ext = ".json"

// Source describes the audio file an analysis was computed from.
type Source struct {
	Path        string  `json:"path"`
	DurationSec float64 `json:"durationSec,omitempty"`
	SampleRate  int     `json:"sampleRate,omitempty"`
	Channels    int     `json:"channels,omitempty"`
}

// Sidecar is the on-disk document.
type Sidecar struct {
	Precompute              []string                    `json:"precompute"`
	MatchesByDatabase       map[string][]string         `json:"matchesByDatabase"`
	ParsedMatchesByDatabase map[string]matchline.Record `json:"parsedMatchesByDatabase"`
	Source                  *Source                     `json:"source,omitempty"`
}

// Empty returns a document with initialised maps.
func Empty() *Sidecar {
	return &Sidecar{
		Precompute:              []string{},
		MatchesByDatabase:       map[string][]string{},
		ParsedMatchesByDatabase: map[string]matchline.Record{},
	}
}

func (sc *Sidecar) normalize() {
	if sc.Precompute == nil {
		sc.Precompute = []string{}
	}
	if sc.MatchesByDatabase == nil {
		sc.MatchesByDatabase = map[string][]string{}
	}
	if sc.ParsedMatchesByDatabase == nil {
		sc.ParsedMatchesByDatabase = map[string]matchline.Record{}
	}
}

// PathFor returns the side-car path of an artifact: same directory and
// base name, Ext as extension.
func PathFor(artifact string) string {
	return strings.TrimSuffix(artifact, filepath.Ext(artifact)) + Ext
}

// Store reads and writes side-cars. All mutations of one file are
// serialized; mutations of different files proceed in parallel.
type Store struct {
	locks *KeyedMutex
}

func NewStore() *Store {
	return &Store{locks: NewKeyedMutex()}
}

// Load reads the side-car at path. A missing or unparseable file yields
// an empty document.
func (s *Store) Load(path string) *Sidecar {
	unlock := s.locks.Lock(path)
	defer unlock()
	return load(path)
}

// Read is like Load but reports filesystem and decoding errors, for
// direct user requests.
func (s *Store) Read(path string) (*Sidecar, error) {
	unlock := s.locks.Lock(path)
	defer unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read side-car: %w", err)
	}
	sc := Empty()
	if err := json.Unmarshal(data, sc); err != nil {
		return nil, fmt.Errorf("decode side-car %s: %w", path, err)
	}
	sc.normalize()
	return sc, nil
}

// Save replaces the side-car at path with sc.
func (s *Store) Save(path string, sc *Sidecar) error {
	unlock := s.locks.Lock(path)
	defer unlock()
	return save(path, sc)
}

// Update applies fn to the current document and writes the result.
func (s *Store) Update(path string, fn func(*Sidecar)) error {
	unlock := s.locks.Lock(path)
	defer unlock()

	sc := load(path)
	fn(sc)
	return save(path, sc)
}

// RecordMatch appends raw to the history of database and, when raw is a
// match line, replaces the parsed record for database.
func (s *Store) RecordMatch(path, database, raw string) error {
	return s.Update(path, func(sc *Sidecar) {
		sc.MatchesByDatabase[database] = append(sc.MatchesByDatabase[database], raw)
		if rec, ok := matchline.Parse(raw); ok {
			sc.ParsedMatchesByDatabase[database] = rec
		}
	})
}

// EnsureDatabase creates an empty history for database if it has none.
func (s *Store) EnsureDatabase(path, database string) error {
	return s.Update(path, func(sc *Sidecar) {
		if _, ok := sc.MatchesByDatabase[database]; !ok {
			sc.MatchesByDatabase[database] = []string{}
		}
	})
}

// SetPrecompute replaces the precompute output lines.
func (s *Store) SetPrecompute(path string, lines []string) error {
	return s.Update(path, func(sc *Sidecar) {
		sc.Precompute = append([]string{}, lines...)
	})
}

// SetSource records the probed source audio.
func (s *Store) SetSource(path string, src Source) error {
	return s.Update(path, func(sc *Sidecar) {
		sc.Source = &src
	})
}

func load(path string) *Sidecar {
	data, err := os.ReadFile(path)
	if err != nil {
		return Empty()
	}
	sc := Empty()
	if err := json.Unmarshal(data, sc); err != nil {
		return Empty()
	}
	sc.normalize()
	return sc
}

func save(path string, sc *Sidecar) error {
	sc.normalize()
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode side-car: %w", err)
	}
	if err := utils.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("write side-car %s: %w", path, err)
	}
	return nil
}
