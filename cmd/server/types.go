package main

import (
	"fmt"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/catalog"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/matchline"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/runner"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/scanner"
)

// CheckResponse is the response for POST /api/environment/check
type CheckResponse struct {
	Status runner.Status `json:"status"`
	Error  string        `json:"error,omitempty"`
}

// EntriesResponse lists the artifacts of one managed directory
type EntriesResponse struct {
	Entries []scanner.Entry `json:"entries"`
	Count   int             `json:"count"`
}

func newEntriesResponse(entries []scanner.Entry) EntriesResponse {
	if entries == nil {
		entries = []scanner.Entry{}
	}
	return EntriesResponse{Entries: entries, Count: len(entries)}
}

// MatchesResponse is the response for GET /api/precompute/matches
type MatchesResponse struct {
	Analysis string                      `json:"analysis"`
	Matches  map[string]matchline.Record `json:"matches"`
}

// AnalyzeRequest is the request body for POST /api/analyze
type AnalyzeRequest struct {
	audfprint.AnalyzeRequest
}

func (r *AnalyzeRequest) Validate() error {
	if len(r.Files) == 0 && r.Dir == "" {
		return fmt.Errorf("files or dir is required")
	}
	return nil
}

// StoreDatabaseRequest is the request body for POST /api/databases
type StoreDatabaseRequest struct {
	audfprint.StoreDatabaseRequest
}

func (r *StoreDatabaseRequest) Validate() error {
	if len(r.Files) == 0 && r.Root == "" {
		return fmt.Errorf("files or root is required")
	}
	if r.Relative && r.Root == "" && r.Levels == 0 {
		return fmt.Errorf("relative paths need root or levels")
	}
	return nil
}

// StoreDatabaseResponse is the response for POST /api/databases
type StoreDatabaseResponse struct {
	Message  string `json:"message"`
	Database string `json:"database"`
}

// ListDatabaseResponse is the response for GET /api/databases/list
type ListDatabaseResponse struct {
	Database string   `json:"database"`
	Lines    []string `json:"lines"`
}

// MatchDatabaseRequest is the request body for POST /api/databases/match
type MatchDatabaseRequest struct {
	Database string `json:"database"`
}

func (r *MatchDatabaseRequest) Validate() error {
	if r.Database == "" {
		return fmt.Errorf("database is required")
	}
	return nil
}

// MergeRequest is the request body for POST /api/merge
type MergeRequest struct {
	Database string   `json:"database"`
	Incoming []string `json:"incoming"`
}

func (r *MergeRequest) Validate() error {
	if r.Database == "" {
		return fmt.Errorf("database is required")
	}
	if len(r.Incoming) == 0 {
		return fmt.Errorf("incoming cannot be empty")
	}
	return nil
}

// ExportRequest is the request body for POST /api/export. The removal
// question is answered up front by Remove.
type ExportRequest struct {
	Kind   audfprint.Kind `json:"kind"`
	Files  []string       `json:"files"`
	Dest   string         `json:"dest"`
	Remove bool           `json:"remove"`
}

func (r *ExportRequest) Validate() error {
	if r.Dest == "" {
		return fmt.Errorf("dest is required")
	}
	return nil
}

// ImportRequest is the request body for POST /api/import
type ImportRequest struct {
	audfprint.ImportRequest
}

func (r *ImportRequest) Validate() error {
	if len(r.Files) == 0 {
		return fmt.Errorf("files cannot be empty")
	}
	return nil
}

// MessageResponse acknowledges an action without a payload
type MessageResponse struct {
	Message string `json:"message"`
}

// HistoryResponse is the response for GET /api/history
type HistoryResponse struct {
	Runs  []catalog.Run `json:"runs"`
	Count int           `json:"count"`
}

// LogEntry is the payload of log events
type LogEntry struct {
	Level string `json:"level"`
	Line  string `json:"line"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
