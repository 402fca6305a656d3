package audfprint

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/scanner"
	"github.com/himanishpuri/audfprint-gui/pkg/utils"
)

// Export copies artifacts and their companion files to req.Dest. After
// copying, req.Confirm decides whether the originals are removed; both the
// artifact and its companion go, or neither. Items that fail are logged and
// skipped.
func (s *audfprintService) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	kind, err := ParseKind(string(req.Kind))
	if err != nil {
		return nil, err
	}
	if req.Dest == "" {
		return nil, errors.New("export needs a destination directory")
	}
	if err := utils.MakeDir(req.Dest); err != nil {
		return nil, fmt.Errorf("creating export destination: %w", err)
	}

	files := req.Files
	if len(files) == 0 {
		for _, e := range scanner.Scan(s.layout.Dir(kind), kind.Ext()) {
			files = append(files, e.Path)
		}
	}

	result := &ExportResult{Exported: []string{}, Failed: []ItemError{}}
	err = s.queues[kind].Do(ctx, "export "+string(kind), func(ctx context.Context) error {
		return s.track("export", string(kind), func() error {
			for _, f := range files {
				f = s.resolve(kind, f)
				if err := exportOne(kind, f, req.Dest); err != nil {
					s.log.Warnf("Export %s: %v", f, err)
					result.Failed = append(result.Failed, ItemError{Path: f, Error: err.Error()})
					continue
				}
				result.Exported = append(result.Exported, f)
			}

			if len(result.Exported) == 0 || req.Confirm == nil || !req.Confirm(result.Exported) {
				return nil
			}
			for _, f := range result.Exported {
				if err := utils.RemoveIfExists(f); err != nil {
					s.log.Warnf("Remove %s: %v", f, err)
				}
				if err := utils.RemoveIfExists(kind.SidePath(f)); err != nil {
					s.log.Warnf("Remove %s: %v", kind.SidePath(f), err)
				}
			}
			result.Removed = true
			return nil
		})
	})
	if err != nil {
		return result, err
	}
	s.Refresh()
	return result, nil
}

func exportOne(kind Kind, f, dest string) error {
	if err := utils.CopyFile(f, filepath.Join(dest, filepath.Base(f))); err != nil {
		return err
	}
	side := kind.SidePath(f)
	if !utils.Exists(side) {
		return nil
	}
	return utils.CopyFile(side, filepath.Join(dest, filepath.Base(side)))
}

// Import copies external artifacts, with their companion files when
// present, into the managed directory. Imported databases without a
// listing get one generated. Items that fail are logged and skipped.
func (s *audfprintService) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	kind, err := ParseKind(string(req.Kind))
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Imported: []string{}, Failed: []ItemError{}}
	err = s.queues[kind].Do(ctx, "import "+string(kind), func(ctx context.Context) error {
		return s.track("import", string(kind), func() error {
			for _, f := range req.Files {
				dst, err := s.importOne(ctx, kind, f)
				if err != nil {
					s.log.Warnf("Import %s: %v", f, err)
					result.Failed = append(result.Failed, ItemError{Path: f, Error: err.Error()})
					continue
				}
				result.Imported = append(result.Imported, dst)
			}
			return nil
		})
	})
	if err != nil {
		return result, err
	}
	s.Refresh()
	return result, nil
}

func (s *audfprintService) importOne(ctx context.Context, kind Kind, f string) (string, error) {
	if filepath.Ext(f) != kind.Ext() {
		return "", fmt.Errorf("expected a %s file", kind.Ext())
	}

	dir := s.layout.Dir(kind)
	stem := filepath.Join(dir, filepath.Base(f[:len(f)-len(kind.Ext())]))
	dst := stem + kind.Ext()
	for i := 1; utils.Exists(dst) || utils.Exists(kind.SidePath(dst)); i++ {
		dst = fmt.Sprintf("%s-%d%s", stem, i, kind.Ext())
	}

	if err := utils.CopyFile(f, dst); err != nil {
		return "", err
	}
	if side := kind.SidePath(f); utils.Exists(side) {
		if err := utils.CopyFile(side, kind.SidePath(dst)); err != nil {
			s.log.Warnf("Import %s: %v", side, err)
		}
	}

	if kind == KindDatabase && !utils.Exists(ListingPath(dst)) {
		if err := s.writeListing(ctx, dst); err != nil {
			s.log.Warnf("Import %s: %v", dst, err)
		}
	}
	return dst, nil
}
