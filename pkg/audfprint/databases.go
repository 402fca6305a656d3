package audfprint

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/ascii"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/matchline"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/runner"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/scanner"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/script"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/sidecar"
	"github.com/himanishpuri/audfprint-gui/pkg/utils"
)

// StoreDatabase builds a new database from source files and writes its
// listing next to it. It returns the database path.
func (s *audfprintService) StoreDatabase(ctx context.Context, req StoreDatabaseRequest) (string, error) {
	files := req.Files
	if len(files) == 0 && req.Root != "" {
		files = scanner.ListSources(req.Root, req.Types, 0).Files
	}
	if len(files) == 0 {
		return "", errors.New("no source files to store")
	}

	name := req.Name
	if name == "" {
		name = filepath.Base(filepath.Clean(req.Root))
	}
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "database"
	}
	name = strings.TrimSuffix(ascii.Transliterate(name), DatabaseExt)

	var db string
	err := s.queues[KindDatabase].Do(ctx, "new "+name, func(ctx context.Context) error {
		return s.track("new", name, func() error {
			db = filepath.Join(s.layout.Databases, name+DatabaseExt)
			for i := 1; utils.Exists(db) || utils.Exists(ListingPath(db)); i++ {
				db = filepath.Join(s.layout.Databases, fmt.Sprintf("%s-%d%s", name, i, DatabaseExt))
			}
			abs, err := filepath.Abs(db)
			if err != nil {
				return err
			}

			inv := script.NewDatabase(abs, s.cores(req.Cores), false, files...)
			if req.Relative {
				dir, rel := relativeTo(req.Root, req.Levels, files)
				inv = script.NewDatabase(abs, s.cores(req.Cores), true, rel...).In(dir)
			}

			s.log.Infof("Storing %d files in %s", len(files), db)
			if _, err := s.invoke(ctx, inv, nil); err != nil {
				return err
			}
			return s.writeListing(ctx, db)
		})
	})
	if err != nil {
		return "", err
	}
	s.Refresh()
	return db, nil
}

// relativeTo splits files into a working directory and paths relative to
// it. With levels > 0 the directory is the first levels components of
// each path, otherwise root.
func relativeTo(root string, levels int, files []string) (string, []string) {
	rel := make([]string, 0, len(files))
	if levels > 0 {
		var dir string
		for _, f := range files {
			d, r := scanner.TrimLevels(f, levels)
			if dir == "" {
				dir = d
			}
			rel = append(rel, r)
		}
		return dir, rel
	}
	for _, f := range files {
		r, err := filepath.Rel(root, f)
		if err != nil {
			r = f
		}
		rel = append(rel, filepath.ToSlash(r))
	}
	return root, rel
}

// writeListing dumps the tool's list output for db into its .txt file.
func (s *audfprintService) writeListing(ctx context.Context, db string) error {
	res, err := s.invoke(ctx, script.List(db), nil)
	if err != nil {
		return fmt.Errorf("listing %s: %w", filepath.Base(db), err)
	}
	text := strings.Join(res.Stdout(), "\n")
	if text != "" {
		text += "\n"
	}
	return utils.WriteFileAtomic(ListingPath(db), []byte(text))
}

// ListDatabase returns the tool's listing of db. Tool errors are returned
// verbatim.
func (s *audfprintService) ListDatabase(ctx context.Context, db string) ([]string, error) {
	db = s.resolve(KindDatabase, db)
	res, err := s.invoke(ctx, script.List(db), nil)
	if err != nil {
		return nil, err
	}
	return res.Stdout(), nil
}

// Merge folds incoming databases into db and rewrites its listing.
func (s *audfprintService) Merge(ctx context.Context, db string, incoming ...string) error {
	if len(incoming) == 0 {
		return errors.New("merge needs at least one incoming database")
	}
	db = s.resolve(KindDatabase, db)
	sources := make([]string, len(incoming))
	for i, in := range incoming {
		sources[i] = s.resolve(KindDatabase, in)
	}

	err := s.queues[KindDatabase].Do(ctx, "merge "+db, func(ctx context.Context) error {
		return s.track("merge", db, func() error {
			s.log.Infof("Merging %d databases into %s", len(sources), db)
			if _, err := s.invoke(ctx, script.Merge(db, sources...), nil); err != nil {
				return err
			}
			return s.writeListing(ctx, db)
		})
	})
	if err != nil {
		return err
	}
	s.Refresh()
	return nil
}

// MatchDatabase matches every analysis against db in one invocation and
// routes each line to the side-car of the analysis it names.
func (s *audfprintService) MatchDatabase(ctx context.Context, db string) error {
	db = s.resolve(KindDatabase, db)
	analyses := s.ListPrecompute()
	if len(analyses) == 0 {
		return nil
	}
	key := s.databaseKey(db)

	paths := make([]string, len(analyses))
	for i, a := range analyses {
		paths[i] = a.Path
	}

	err := s.queues[KindPrecompute].Do(ctx, "match "+key, func(ctx context.Context) error {
		return s.track("match", key, func() error {
			for _, p := range paths {
				if err := s.sidecars.EnsureDatabase(sidecar.PathFor(p), key); err != nil {
					s.log.Warnf("Side-car %s: %v", p, err)
				}
			}
			_, err := s.invoke(ctx, script.Match(db, s.config.MaxMatches, paths...), func(l runner.Line) {
				target, ok := matchline.Route(l.Text, paths)
				if !ok {
					return
				}
				if err := s.sidecars.RecordMatch(sidecar.PathFor(target), key, l.Text); err != nil {
					s.log.Warnf("Side-car %s: %v", target, err)
				}
			})
			return err
		})
	})
	if err != nil {
		return err
	}
	s.Refresh()
	return nil
}

// resolve maps a bare artifact name to its path in the managed directory.
func (s *audfprintService) resolve(kind Kind, name string) string {
	if filepath.Base(name) != name {
		return name
	}
	if filepath.Ext(name) != kind.Ext() {
		name += kind.Ext()
	}
	return filepath.Join(s.layout.Dir(kind), name)
}
