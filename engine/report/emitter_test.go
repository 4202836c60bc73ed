package report

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/VulnRadar/vulnradar/engine/domain"
)

func sampleReport() domain.ConsolidatedReport {
	return Consolidate([]domain.CandidateMatch{
		{Score: 0.8, Content: "snippet", Query: domain.Query{Text: "q1", FilePath: "a.py"}},
	})
}

func TestWrite_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	loc, err := Write(sampleReport(), dir, "report.json")
	if err != nil {
		t.Fatal(err)
	}
	if loc != filepath.Join(dir, "report.json") {
		t.Fatalf("location = %s", loc)
	}

	data, err := os.ReadFile(loc)
	if err != nil {
		t.Fatal(err)
	}
	var got domain.ConsolidatedReport
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.TotalFiles != 1 || got.Files[0].FilePath != "a.py" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Files[0].Queries[0] != "q1" {
		t.Fatalf("queries not persisted: %+v", got.Files[0])
	}
}

func TestWrite_DerivedNamesAreUnique(t *testing.T) {
	dir := t.TempDir()
	a, err := Write(sampleReport(), dir, "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Write(sampleReport(), dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("two unnamed writes produced the same location: %s", a)
	}
}

func TestWrite_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "reports")
	if _, err := Write(sampleReport(), dir, "r.json"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "r.json")); err != nil {
		t.Fatal(err)
	}
}

func TestWrite_FailureSurfaced(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "file")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Using a regular file as the destination directory must fail loudly.
	_, err := Write(sampleReport(), blocked, "r.json")
	if !errors.Is(err, domain.ErrReportWriteFailed) {
		t.Fatalf("expected ErrReportWriteFailed, got %v", err)
	}
}

func TestWrite_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	if _, err := Write(sampleReport(), dir, "r.json"); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != "r.json" {
			t.Fatalf("leftover file: %s", e.Name())
		}
	}
}
