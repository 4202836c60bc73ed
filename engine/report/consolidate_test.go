package report

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/VulnRadar/vulnradar/engine/domain"
)

func match(file, query string, score float32, content string) domain.CandidateMatch {
	return domain.CandidateMatch{
		SourceID: "CVE-X",
		Score:    score,
		Content:  content,
		Query:    domain.Query{Text: query, FilePath: file},
	}
}

func TestConsolidate_MeanAndOrdering(t *testing.T) {
	rep := Consolidate([]domain.CandidateMatch{
		match("a.py", "q1", 0.8, "snippet a"),
		match("a.py", "q2", 0.6, "other"),
		match("b.py", "q1", 0.9, "snippet b"),
	})

	if rep.TotalFiles != 2 {
		t.Fatalf("total_files = %d", rep.TotalFiles)
	}
	if rep.Files[0].FilePath != "b.py" || rep.Files[1].FilePath != "a.py" {
		t.Fatalf("order: %s, %s", rep.Files[0].FilePath, rep.Files[1].FilePath)
	}
	if math.Abs(rep.Files[0].AvgScore-0.9) > 1e-6 {
		t.Errorf("b.py avg = %f", rep.Files[0].AvgScore)
	}
	if math.Abs(rep.Files[1].AvgScore-0.7) > 1e-6 {
		t.Errorf("a.py avg = %f", rep.Files[1].AvgScore)
	}
}

func TestConsolidate_DistinctQueriesFirstHitOrder(t *testing.T) {
	rep := Consolidate([]domain.CandidateMatch{
		match("a.py", "q2", 0.5, "s"),
		match("a.py", "q1", 0.5, "s"),
		match("a.py", "q2", 0.5, "s"),
	})
	got := rep.Files[0].Queries
	if len(got) != 2 || got[0] != "q2" || got[1] != "q1" {
		t.Fatalf("queries = %v", got)
	}
}

func TestConsolidate_MeanIsOrderIndependent(t *testing.T) {
	in := []domain.CandidateMatch{
		match("a.py", "q1", 0.2, "s"),
		match("b.py", "q2", 0.9, "s"),
		match("a.py", "q3", 0.8, "s"),
		match("a.py", "q1", 0.5, "s"),
	}
	perm := []domain.CandidateMatch{in[3], in[0], in[2], in[1]}

	a := Consolidate(in)
	b := Consolidate(perm)

	scores := func(r domain.ConsolidatedReport) map[string]float64 {
		m := make(map[string]float64)
		for _, e := range r.Files {
			m[e.FilePath] = e.AvgScore
		}
		return m
	}
	sa, sb := scores(a), scores(b)
	for k, v := range sa {
		if math.Abs(sb[k]-v) > 1e-9 {
			t.Errorf("avg for %s differs under permutation: %f vs %f", k, v, sb[k])
		}
	}
}

func TestConsolidate_TieBreakFirstSeen(t *testing.T) {
	rep := Consolidate([]domain.CandidateMatch{
		match("first.py", "q", 0.5, "s"),
		match("second.py", "q", 0.5, "s"),
		match("third.py", "q", 0.5, "s"),
	})
	want := []string{"first.py", "second.py", "third.py"}
	for i, w := range want {
		if rep.Files[i].FilePath != w {
			t.Fatalf("files[%d] = %s, want %s", i, rep.Files[i].FilePath, w)
		}
	}
}

func TestConsolidate_SnippetTruncated(t *testing.T) {
	long := strings.Repeat("x", SnippetMaxLen*2)
	rep := Consolidate([]domain.CandidateMatch{match("a.py", "q", 0.5, long)})
	if got := len(rep.Files[0].ContentSnippet); got != SnippetMaxLen {
		t.Fatalf("snippet length = %d", got)
	}
}

func TestConsolidate_SnippetTruncatesOnRuneBoundary(t *testing.T) {
	// A multibyte rune straddling the cap must not be split: the snippet
	// stays valid UTF-8 and the cap counts characters, not bytes.
	long := strings.Repeat("x", SnippetMaxLen-1) + strings.Repeat("é", SnippetMaxLen)
	rep := Consolidate([]domain.CandidateMatch{match("a.py", "q", 0.5, long)})

	snippet := rep.Files[0].ContentSnippet
	if !utf8.ValidString(snippet) {
		t.Fatalf("snippet is invalid UTF-8 after truncation: %q", snippet[len(snippet)-10:])
	}
	if got := utf8.RuneCountInString(snippet); got != SnippetMaxLen {
		t.Fatalf("snippet rune count = %d", got)
	}
	if !strings.HasSuffix(snippet, "é") {
		t.Fatalf("snippet lost the rune at the cap: ...%q", snippet[len(snippet)-4:])
	}
}

func TestConsolidate_Empty(t *testing.T) {
	rep := Consolidate(nil)
	if rep.TotalFiles != 0 || len(rep.Files) != 0 {
		t.Fatalf("empty input produced entries: %+v", rep)
	}
}
