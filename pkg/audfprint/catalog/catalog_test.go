package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/matchline"
)

func setupTestCatalog(t *testing.T) (*Catalog, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sub", DefaultFile)
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open catalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, path
}

func TestOpenCreatesFile(t *testing.T) {
	c, path := setupTestCatalog(t)
	if c.DB == nil || c.db == nil {
		t.Fatal("Expected non-nil handles")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Catalog file was not created: %v", err)
	}
}

func TestNilCatalog(t *testing.T) {
	var c *Catalog
	if err := c.Close(); err != nil {
		t.Errorf("Close on nil catalog should be a no-op, got %v", err)
	}
	if _, err := c.History(1); err == nil {
		t.Error("Expected error from nil catalog")
	}
}

func TestReplaceArtifacts(t *testing.T) {
	c, _ := setupTestCatalog(t)

	if err := c.ReplaceArtifacts(KindPrecompute, []string{"b", "a"}, []string{"/p/b.afpt", "/p/a.afpt"}); err != nil {
		t.Fatalf("ReplaceArtifacts failed: %v", err)
	}
	if err := c.ReplaceArtifacts(KindDatabase, []string{"rock"}, []string{"/d/rock.pklz"}); err != nil {
		t.Fatalf("ReplaceArtifacts failed: %v", err)
	}
	if err := c.ReplaceArtifacts(KindPrecompute, []string{"a"}, []string{"/p/a.afpt"}); err != nil {
		t.Fatalf("ReplaceArtifacts failed: %v", err)
	}

	pre, err := c.Artifacts(KindPrecompute)
	if err != nil {
		t.Fatalf("Artifacts failed: %v", err)
	}
	if len(pre) != 1 || pre[0].Path != "/p/a.afpt" {
		t.Errorf("Expected only /p/a.afpt, got %+v", pre)
	}

	dbs, _ := c.Artifacts(KindDatabase)
	if len(dbs) != 1 || dbs[0].Name != "rock" {
		t.Errorf("Database rows should be untouched, got %+v", dbs)
	}

	if err := c.ReplaceArtifacts(KindDatabase, []string{"x"}, nil); err == nil {
		t.Error("Expected error for mismatched names and paths")
	}
}

func TestReplaceMatches(t *testing.T) {
	c, _ := setupTestCatalog(t)

	err := c.ReplaceMatches("song", map[string]matchline.Record{
		"rock": {MatchFilename: "rock/a.mp3", Rank: "0", CommonHashNumerator: "30"},
		"jazz": {MatchFilename: "jazz/b.mp3", Rank: "1"},
	})
	if err != nil {
		t.Fatalf("ReplaceMatches failed: %v", err)
	}
	if err := c.ReplaceMatches("song", map[string]matchline.Record{
		"rock": {MatchFilename: "rock/c.mp3", Rank: "0"},
	}); err != nil {
		t.Fatalf("ReplaceMatches failed: %v", err)
	}

	rock, err := c.MatchesInDatabase("rock")
	if err != nil {
		t.Fatalf("MatchesInDatabase failed: %v", err)
	}
	got := make([]string, 0, len(rock))
	for _, m := range rock {
		got = append(got, m.Analysis+"="+m.MatchFilename)
	}
	if diff := cmp.Diff([]string{"song=rock/c.mp3"}, got); diff != "" {
		t.Errorf("rock matches mismatch (-want +got):\n%s", diff)
	}

	jazz, _ := c.MatchesInDatabase("jazz")
	if len(jazz) != 0 {
		t.Errorf("Stale jazz match should be removed, got %+v", jazz)
	}
}

func TestPruneMatches(t *testing.T) {
	c, _ := setupTestCatalog(t)

	for _, a := range []string{"keep", "gone"} {
		if err := c.ReplaceMatches(a, map[string]matchline.Record{"rock": {Rank: "0"}}); err != nil {
			t.Fatalf("ReplaceMatches failed: %v", err)
		}
	}
	if err := c.PruneMatches([]string{"keep"}); err != nil {
		t.Fatalf("PruneMatches failed: %v", err)
	}
	rows, _ := c.MatchesInDatabase("rock")
	if len(rows) != 1 || rows[0].Analysis != "keep" {
		t.Errorf("Expected only keep to remain, got %+v", rows)
	}

	if err := c.PruneMatches(nil); err != nil {
		t.Fatalf("PruneMatches failed: %v", err)
	}
	if rows, _ := c.MatchesInDatabase("rock"); len(rows) != 0 {
		t.Errorf("Expected all matches pruned, got %+v", rows)
	}
}

func TestRunHistory(t *testing.T) {
	c, _ := setupTestCatalog(t)

	first, err := c.StartRun("analyze", "a.mp3")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	second, _ := c.StartRun("merge", "rock")

	if err := c.FinishRun(first, nil); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	if err := c.FinishRun(second, errors.New("tool exited with status 1")); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	if err := c.FinishRun("missing", nil); err == nil {
		t.Error("Expected error for unknown run id")
	}

	runs, err := c.History(0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != second || runs[0].Status != RunFailed || runs[0].Error == "" {
		t.Errorf("Most recent run should be the failed merge, got %+v", runs[0])
	}
	if runs[1].Status != RunOK || runs[1].FinishedAt == nil {
		t.Errorf("First run should be finished ok, got %+v", runs[1])
	}

	limited, _ := c.History(1)
	if len(limited) != 1 {
		t.Errorf("Expected limit to apply, got %d", len(limited))
	}
}
