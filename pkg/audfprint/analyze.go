package audfprint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/ascii"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/audio"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/matchline"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/runner"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/scanner"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/script"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/sidecar"
	"github.com/himanishpuri/audfprint-gui/pkg/utils"
)

// errSkip ends one file's pipeline without counting as a failure.
var errSkip = errors.New("skipped")

// Analyze runs collect, precompute, relocate, match and refresh for every
// source. Files are processed one after another; a failure of one file is
// recorded and the batch continues, except when the environment itself is
// broken.
func (s *audfprintService) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error) {
	files := req.Files
	if len(files) == 0 && req.Dir != "" {
		files = scanner.ListSources(req.Dir, req.Types, 0).Files
	}

	result := &AnalyzeResult{Analyses: []string{}, Skipped: []string{}, Failed: []ItemError{}}
	if len(files) == 0 {
		return result, nil
	}
	cores := s.cores(req.Cores)
	dbs := s.ListDatabases()

	for _, f := range files {
		var analysis string
		err := s.queues[KindPrecompute].Do(ctx, "analyze "+f, func(ctx context.Context) error {
			return s.track("analyze", f, func() error {
				var err error
				analysis, err = s.analyzeOne(ctx, f, cores, dbs)
				return err
			})
		})

		switch {
		case err == nil:
			result.Analyses = append(result.Analyses, analysis)
		case errors.Is(err, errSkip):
			result.Skipped = append(result.Skipped, f)
		case needsRemediation(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return result, err
		default:
			s.log.Errorf("Analyze %s: %v", f, err)
			result.Failed = append(result.Failed, ItemError{Path: f, Error: err.Error()})
		}
	}
	return result, nil
}

func (s *audfprintService) analyzeOne(ctx context.Context, src string, cores int, dbs []scanner.Entry) (string, error) {
	local, info, err := s.collect(ctx, src)
	if err != nil {
		return "", err
	}
	if local.staged {
		defer func() {
			if err := utils.RemoveIfExists(local.path); err != nil {
				s.log.Warnf("Removing staged copy %s: %v", local.path, err)
			}
		}()
	}

	tmp, err := os.MkdirTemp(s.config.TempDir, "audfprint-precompute-")
	if err != nil {
		return "", fmt.Errorf("creating precompute dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	s.log.Infof("Analyzing %s", local.path)
	res, err := s.invoke(ctx, script.Precompute(cores, tmp, local.path), nil)
	if err != nil {
		return "", err
	}
	lines := res.Text()

	wrote, ok := runner.WrotePath(lines)
	if !ok {
		s.log.Warnf("%s: %v", src, ErrNoOutput)
		return "", errSkip
	}
	if !filepath.IsAbs(wrote) && !utils.Exists(wrote) {
		wrote = filepath.Join(tmp, wrote)
	}

	analysis, err := s.relocate(wrote, local.name)
	if err != nil {
		return "", err
	}

	scPath := sidecar.PathFor(analysis)
	if err := s.sidecars.SetPrecompute(scPath, lines); err != nil {
		return "", err
	}
	if info != nil {
		err := s.sidecars.SetSource(scPath, sidecar.Source{
			Path:        src,
			DurationSec: info.DurationSec,
			SampleRate:  info.SampleRate,
			Channels:    info.Channels,
		})
		if err != nil {
			s.log.Warnf("Recording source of %s: %v", analysis, err)
		}
	}

	if err := s.matchAnalysis(ctx, analysis, dbs); err != nil {
		return analysis, err
	}
	s.Refresh()
	return analysis, nil
}

// collected is a source ready for the tool.
type collected struct {
	path   string // file handed to the tool
	name   string // ASCII base name the analysis is named after
	staged bool   // path is a copy under ascii/
}

// collect makes src available as a local, ASCII-named file and probes it.
// Invalid WAV files are skipped.
func (s *audfprintService) collect(ctx context.Context, src string) (collected, *audio.Info, error) {
	local := src
	if utils.IsRemoteURL(src) {
		s.log.Infof("Downloading %s", src)
		p, err := audio.Download(ctx, src, s.layout.Downloads)
		if err != nil {
			return collected{}, nil, err
		}
		local = p
	}

	staged, err := ascii.Stage(s.layout.ASCII, local)
	if err != nil {
		return collected{}, nil, err
	}
	c := collected{
		path:   staged,
		name:   ascii.Transliterate(filepath.Base(local)),
		staged: staged != local,
	}
	if c.staged {
		s.log.Debugf("Staged %s as %s", local, staged)
	}

	info, err := audio.Probe(ctx, staged)
	switch {
	case errors.Is(err, audio.ErrInvalidWAV):
		s.log.Warnf("Skipping %s: %v", src, err)
		if c.staged {
			_ = utils.RemoveIfExists(staged)
		}
		return collected{}, nil, errSkip
	case err != nil:
		s.log.Debugf("Probe %s: %v", staged, err)
		info = nil
	}
	return c, info, nil
}

// relocate moves the tool's output into the precompute directory under
// name without its extension, adding a numeric suffix on collision.
func (s *audfprintService) relocate(wrote, name string) (string, error) {
	base := filepath.Join(s.layout.Precompute, strings.TrimSuffix(name, filepath.Ext(name)))
	dst := base + AnalysisExt
	for i := 1; utils.Exists(dst) || utils.Exists(sidecar.PathFor(dst)); i++ {
		dst = fmt.Sprintf("%s-%d%s", base, i, AnalysisExt)
	}
	if err := utils.MoveFile(wrote, dst); err != nil {
		return "", fmt.Errorf("relocating %s: %w", wrote, err)
	}
	return dst, nil
}

// matchAnalysis matches one analysis against every database. Databases
// are independent side-car keys, so up to MatchConcurrency run at once.
func (s *audfprintService) matchAnalysis(ctx context.Context, analysis string, dbs []scanner.Entry) error {
	scPath := sidecar.PathFor(analysis)
	candidates := []string{analysis}

	// A failed match does not stop its siblings.
	var g errgroup.Group
	g.SetLimit(s.config.MatchConcurrency)
	for _, db := range dbs {
		key := s.databaseKey(db.Path)
		g.Go(func() error {
			if err := s.sidecars.EnsureDatabase(scPath, key); err != nil {
				s.log.Warnf("Side-car %s: %v", scPath, err)
			}
			_, err := s.invoke(ctx, script.Match(db.Path, s.config.MaxMatches, analysis), func(l runner.Line) {
				if _, ok := matchline.Route(l.Text, candidates); !ok {
					return
				}
				if err := s.sidecars.RecordMatch(scPath, key, l.Text); err != nil {
					s.log.Warnf("Side-car %s: %v", scPath, err)
				}
			})
			if err != nil {
				if needsRemediation(err) {
					return err
				}
				s.log.Errorf("Match %s against %s: %v", filepath.Base(analysis), key, err)
			}
			return nil
		})
	}
	return g.Wait()
}
