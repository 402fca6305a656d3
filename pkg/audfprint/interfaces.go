package audfprint

import (
	"context"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/catalog"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/matchline"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/runner"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/scanner"
)

type Service interface {
	CheckEnvironment(ctx context.Context) (runner.Status, error)
	EnvironmentStatus() runner.Status

	ListSources(root, types string, levels int) scanner.Listing
	Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error)

	StoreDatabase(ctx context.Context, req StoreDatabaseRequest) (string, error)
	MatchDatabase(ctx context.Context, db string) error
	ListDatabase(ctx context.Context, db string) ([]string, error)
	Merge(ctx context.Context, db string, incoming ...string) error

	Export(ctx context.Context, req ExportRequest) (*ExportResult, error)
	Import(ctx context.Context, req ImportRequest) (*ImportResult, error)

	ListPrecompute() []scanner.Entry
	ListDatabases() []scanner.Entry
	MatchesFor(analysis string) (map[string]matchline.Record, error)
	History(limit int) ([]catalog.Run, error)
	Refresh() Listings

	Layout() Layout
	Close() error
}

// Index is the derived catalog the service keeps in sync.
type Index interface {
	ReplaceArtifacts(kind string, names, paths []string) error
	ReplaceMatches(analysis string, records map[string]matchline.Record) error
	PruneMatches(keep []string) error
	StartRun(action, subject string) (string, error)
	FinishRun(id string, runErr error) error
	History(limit int) ([]catalog.Run, error)
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
