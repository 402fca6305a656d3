// Package catalog keeps a SQLite index of the managed artifacts, their
// parsed matches and the pipeline runs. The index is derived: side-cars
// remain the record of truth and the catalog can be rebuilt from them.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/matchline"
)

const DefaultFile = "catalog.sqlite3"

const errClientNil = "catalog client is nil"

// Artifact kinds.
const (
	KindPrecompute = "precompute"
	KindDatabase   = "database"
)

// Run states.
const (
	RunRunning = "running"
	RunOK      = "ok"
	RunFailed  = "failed"
)

type Catalog struct {
	DB *gorm.DB
	db *sql.DB
}

type Artifact struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	Kind      string    `gorm:"index:idx_artifact_kind" json:"kind"`
	Name      string    `json:"name"`
	Path      string    `gorm:"uniqueIndex:idx_artifact_path" json:"path"`
	IndexedAt time.Time `json:"indexedAt"`
}

type Match struct {
	ID                      uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	Analysis                string    `gorm:"uniqueIndex:idx_match_pair,priority:1" json:"analysis"`
	Database                string    `gorm:"column:db_name;uniqueIndex:idx_match_pair,priority:2;index:idx_match_db" json:"database"`
	MatchFilename           string    `json:"matchFilename"`
	MatchDuration           string    `json:"matchDuration"`
	MatchStartInQuery       string    `json:"matchStartInQuery"`
	MatchStartInFingerprint string    `json:"matchStartInFingerprint"`
	CommonHashNumerator     string    `json:"commonHashNumerator"`
	CommonHashDenominator   string    `json:"commonHashDenominator"`
	Rank                    string    `json:"rank"`
	IndexedAt               time.Time `json:"indexedAt"`
}

type Run struct {
	ID         string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Action     string     `gorm:"index:idx_run_action" json:"action"`
	Subject    string     `json:"subject"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `gorm:"index:idx_run_started" json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Open opens or creates the catalog at path.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating catalog dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite catalog: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Artifact{}, &Match{}, &Run{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &Catalog{DB: db, db: sqlDB}, nil
}

func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// ReplaceArtifacts makes the rows of kind mirror paths, keyed by path.
func (c *Catalog) ReplaceArtifacts(kind string, names, paths []string) error {
	if c == nil || c.DB == nil {
		return errors.New(errClientNil)
	}
	if len(names) != len(paths) {
		return fmt.Errorf("replace artifacts: %d names for %d paths", len(names), len(paths))
	}

	now := time.Now()
	rows := make([]Artifact, 0, len(paths))
	for i, p := range paths {
		rows = append(rows, Artifact{Kind: kind, Name: names[i], Path: p, IndexedAt: now})
	}

	return c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("kind = ?", kind).Delete(&Artifact{}).Error; err != nil {
			return fmt.Errorf("clearing %s artifacts: %w", kind, err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("inserting %s artifacts: %w", kind, err)
		}
		return nil
	})
}

// Artifacts returns the indexed artifacts of kind ordered by path.
func (c *Catalog) Artifacts(kind string) ([]Artifact, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errClientNil)
	}
	var rows []Artifact
	if err := c.DB.Where("kind = ?", kind).Order("path").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	return rows, nil
}

// ReplaceMatches stores the parsed records of one analysis, keyed by
// database. Databases absent from records are removed for that analysis.
func (c *Catalog) ReplaceMatches(analysis string, records map[string]matchline.Record) error {
	if c == nil || c.DB == nil {
		return errors.New(errClientNil)
	}

	now := time.Now()
	return c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("analysis = ?", analysis).Delete(&Match{}).Error; err != nil {
			return fmt.Errorf("clearing matches: %w", err)
		}
		rows := make([]Match, 0, len(records))
		for db, r := range records {
			rows = append(rows, Match{
				Analysis:                analysis,
				Database:                db,
				MatchFilename:           r.MatchFilename,
				MatchDuration:           r.MatchDuration,
				MatchStartInQuery:       r.MatchStartInQuery,
				MatchStartInFingerprint: r.MatchStartInFingerprint,
				CommonHashNumerator:     r.CommonHashNumerator,
				CommonHashDenominator:   r.CommonHashDenominator,
				Rank:                    r.Rank,
				IndexedAt:               now,
			})
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("storing matches for %s: %w", analysis, err)
		}
		return nil
	})
}

// PruneMatches removes matches of analyses not listed in keep.
func (c *Catalog) PruneMatches(keep []string) error {
	if c == nil || c.DB == nil {
		return errors.New(errClientNil)
	}
	q := c.DB
	if len(keep) > 0 {
		q = q.Where("analysis NOT IN ?", keep)
	} else {
		q = q.Where("1 = 1")
	}
	if err := q.Delete(&Match{}).Error; err != nil {
		return fmt.Errorf("pruning matches: %w", err)
	}
	return nil
}

// MatchesInDatabase lists which analyses matched database.
func (c *Catalog) MatchesInDatabase(database string) ([]Match, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errClientNil)
	}
	var rows []Match
	if err := c.DB.Where("db_name = ?", database).Order("analysis").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying matches: %w", err)
	}
	return rows, nil
}

// StartRun records the start of a pipeline action and returns its id.
func (c *Catalog) StartRun(action, subject string) (string, error) {
	if c == nil || c.DB == nil {
		return "", errors.New(errClientNil)
	}
	run := Run{
		ID:        uuid.New().String(),
		Action:    action,
		Subject:   subject,
		Status:    RunRunning,
		StartedAt: time.Now(),
	}
	if err := c.DB.Create(&run).Error; err != nil {
		return "", fmt.Errorf("creating run: %w", err)
	}
	return run.ID, nil
}

// FinishRun closes a run. A nil runErr marks it ok.
func (c *Catalog) FinishRun(id string, runErr error) error {
	if c == nil || c.DB == nil {
		return errors.New(errClientNil)
	}
	now := time.Now()
	updates := map[string]any{"status": RunOK, "finished_at": now, "error": ""}
	if runErr != nil {
		updates["status"] = RunFailed
		updates["error"] = runErr.Error()
	}
	res := c.DB.Model(&Run{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("finishing run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("finishing run %s: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

// History returns the most recent runs first. limit <= 0 means all.
func (c *Catalog) History(limit int) ([]Run, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errClientNil)
	}
	q := c.DB.Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	return runs, nil
}
