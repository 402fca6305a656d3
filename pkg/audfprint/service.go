package audfprint

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/catalog"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/events"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/matchline"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/queue"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/runner"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/scanner"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/script"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/sidecar"
	"github.com/himanishpuri/audfprint-gui/pkg/logger"
)

// audfprintService is the default implementation of the Service interface.
type audfprintService struct {
	config   *Config
	layout   Layout
	log      Logger
	exec     runner.Executor
	env      *runner.Environment
	bus      *events.Bus
	index    Index
	sidecars *sidecar.Store
	queues   map[Kind]*queue.Serial
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.MatchConcurrency < 1 {
		cfg.MatchConcurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if cfg.Bus == nil {
		cfg.Bus = events.NewBus()
	}

	layout := NewLayout(cfg.DataDir)
	if err := layout.Ensure(); err != nil {
		return nil, err
	}

	exec := cfg.Executor
	if exec == nil {
		exec = runner.New(runner.Config{
			Interpreter: cfg.Interpreter,
			ToolDir:     cfg.ToolDir,
			ToolName:    cfg.ToolName,
		})
	}

	index := cfg.Index
	if index == nil && !cfg.DisableCatalog {
		path := cfg.CatalogPath
		if path == "" {
			path = filepath.Join(cfg.DataDir, catalog.DefaultFile)
		}
		c, err := catalog.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open catalog: %w", err)
		}
		index = c
	}

	s := &audfprintService{
		config:   cfg,
		layout:   layout,
		log:      cfg.Logger,
		exec:     exec,
		bus:      cfg.Bus,
		index:    index,
		sidecars: sidecar.NewStore(),
	}

	qlog, _ := cfg.Logger.(*logger.Logger)
	s.queues = map[Kind]*queue.Serial{
		KindPrecompute: queue.NewSerial(16, qlog),
		KindDatabase:   queue.NewSerial(16, qlog),
	}

	s.env = runner.NewEnvironment(exec, runner.EnvironmentConfig{
		InstallURL: cfg.InstallURL,
		Packages:   cfg.Packages,
		Candidates: cfg.Candidates,
		OnStatus: func(st runner.Status) {
			s.bus.Publish(events.InstallationStatus, st)
		},
		OnLine: s.publishLine,
	})

	return s, nil
}

func (s *audfprintService) Layout() Layout {
	return s.layout
}

func (s *audfprintService) Close() error {
	for _, q := range s.queues {
		q.Shutdown()
	}
	if s.index != nil {
		return s.index.Close()
	}
	return nil
}

// CheckEnvironment resolves the interpreter and the tool version,
// remediating a missing runtime or dependency once.
func (s *audfprintService) CheckEnvironment(ctx context.Context) (runner.Status, error) {
	st, err := s.env.Check(ctx)
	if err != nil {
		s.log.Errorf("Environment check failed: %v", err)
		return st, err
	}
	s.log.Infof("Using %s (audfprint %s)", st.Interpreter, st.Version)
	return st, nil
}

func (s *audfprintService) EnvironmentStatus() runner.Status {
	return s.env.Status()
}

func (s *audfprintService) publishLine(l runner.Line) {
	s.bus.Publish(events.Output, events.OutputLine{Line: l.Text, Error: l.Error})
}

// invoke runs inv, streaming every line to the output channel. A missing
// runtime or dependency is remediated through the environment check and
// the invocation retried once.
func (s *audfprintService) invoke(ctx context.Context, inv script.Invocation, onLine func(runner.Line)) (*runner.Result, error) {
	emit := func(l runner.Line) {
		s.publishLine(l)
		if onLine != nil {
			onLine(l)
		}
	}

	res, err := s.exec.Run(ctx, inv, emit)
	if err == nil || !needsRemediation(err) {
		return res, err
	}

	s.log.Warnf("%s: %v, checking environment", inv, err)
	if _, checkErr := s.env.Check(ctx); checkErr != nil {
		return res, fmt.Errorf("%w: %w", err, checkErr)
	}
	return s.exec.Run(ctx, inv, emit)
}

func needsRemediation(err error) bool {
	return errors.Is(err, runner.ErrRuntimeMissing) || errors.Is(err, runner.ErrDependencyMissing)
}

// track records one action in the catalog history.
func (s *audfprintService) track(action, subject string, fn func() error) error {
	var id string
	if s.index != nil {
		var err error
		if id, err = s.index.StartRun(action, subject); err != nil {
			s.log.Warnf("Could not record %s run: %v", action, err)
		}
	}

	runErr := fn()

	if id != "" {
		recorded := runErr
		if errors.Is(recorded, errSkip) {
			recorded = nil
		}
		if err := s.index.FinishRun(id, recorded); err != nil {
			s.log.Warnf("Could not finish %s run: %v", action, err)
		}
	}
	return runErr
}

func (s *audfprintService) ListSources(root, types string, levels int) scanner.Listing {
	return scanner.ListSources(root, types, levels)
}

func (s *audfprintService) ListPrecompute() []scanner.Entry {
	return scanner.Scan(s.layout.Precompute, AnalysisExt)
}

func (s *audfprintService) ListDatabases() []scanner.Entry {
	return scanner.Scan(s.layout.Databases, DatabaseExt)
}

// MatchesFor returns the parsed matches of an analysis, given by path or
// by name in the precompute directory.
func (s *audfprintService) MatchesFor(analysis string) (map[string]matchline.Record, error) {
	path := analysis
	if filepath.Base(path) == path {
		path = filepath.Join(s.layout.Precompute, path)
	}
	scPath := path
	if filepath.Ext(path) != sidecar.Ext {
		scPath = sidecar.PathFor(path)
		if filepath.Ext(path) != AnalysisExt {
			scPath = path + sidecar.Ext
		}
	}
	sc, err := s.sidecars.Read(scPath)
	if err != nil {
		return nil, err
	}
	return sc.ParsedMatchesByDatabase, nil
}

func (s *audfprintService) History(limit int) ([]catalog.Run, error) {
	if s.index == nil {
		return []catalog.Run{}, nil
	}
	return s.index.History(limit)
}

// Refresh re-lists both managed directories, notifies subscribers and
// rebuilds the catalog from disk.
func (s *audfprintService) Refresh() Listings {
	l := Listings{
		Precompute: s.ListPrecompute(),
		Databases:  s.ListDatabases(),
	}
	s.bus.Publish(events.PrecomputeListed, l.Precompute)
	s.bus.Publish(events.DatabasesListed, l.Databases)

	if s.index != nil {
		s.reindex(l)
	}
	return l
}

func (s *audfprintService) reindex(l Listings) {
	names, paths := entryColumns(l.Precompute)
	if err := s.index.ReplaceArtifacts(catalog.KindPrecompute, names, paths); err != nil {
		s.log.Warnf("Catalog: %v", err)
	}
	dbNames, dbPaths := entryColumns(l.Databases)
	if err := s.index.ReplaceArtifacts(catalog.KindDatabase, dbNames, dbPaths); err != nil {
		s.log.Warnf("Catalog: %v", err)
	}

	for _, e := range l.Precompute {
		sc := s.sidecars.Load(sidecar.PathFor(e.Path))
		if err := s.index.ReplaceMatches(e.Name, sc.ParsedMatchesByDatabase); err != nil {
			s.log.Warnf("Catalog: %v", err)
		}
	}
	if err := s.index.PruneMatches(names); err != nil {
		s.log.Warnf("Catalog: %v", err)
	}
}

func entryColumns(entries []scanner.Entry) (names, paths []string) {
	for _, e := range entries {
		names = append(names, e.Name)
		paths = append(paths, e.Path)
	}
	return names, paths
}

func (s *audfprintService) databaseKey(db string) string {
	return DatabaseKey(s.layout.Databases, db)
}

func (s *audfprintService) cores(n int) int {
	if n > 0 {
		return n
	}
	return s.config.Cores
}
