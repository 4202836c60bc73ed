// Package report consolidates candidate matches into the file-level
// report and persists it as a durable artifact.
package report

import (
	"sort"

	"github.com/VulnRadar/vulnradar/engine/domain"
)

// SnippetMaxLen bounds the representative snippet stored per file so
// report size stays predictable.
const SnippetMaxLen = 500

// Consolidate groups matches by the originating query's file path and
// aggregates each group into one entry: the aggregate score is the
// arithmetic mean of the group's similarity scores, the query list is
// the distinct set of query texts in first-hit order, and the snippet
// comes from the group's first match. Entries are sorted by aggregate
// score descending; ties keep first-seen group order. Pure function.
func Consolidate(matches []domain.CandidateMatch) domain.ConsolidatedReport {
	type group struct {
		sum     float64
		count   int
		queries []string
		seen    map[string]bool
		snippet string
	}

	groups := make(map[string]*group)
	var order []string

	for _, m := range matches {
		path := m.Query.FilePath
		g, ok := groups[path]
		if !ok {
			g = &group{seen: make(map[string]bool), snippet: truncate(m.Content, SnippetMaxLen)}
			groups[path] = g
			order = append(order, path)
		}
		g.sum += float64(m.Score)
		g.count++
		if q := m.Query.Text; q != "" && !g.seen[q] {
			g.seen[q] = true
			g.queries = append(g.queries, q)
		}
	}

	entries := make([]domain.ConsolidatedEntry, 0, len(order))
	for _, path := range order {
		g := groups[path]
		entries = append(entries, domain.ConsolidatedEntry{
			FilePath:       path,
			AvgScore:       g.sum / float64(g.count),
			Queries:        g.queries,
			ContentSnippet: g.snippet,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].AvgScore > entries[j].AvgScore
	})

	return domain.ConsolidatedReport{
		TotalFiles: len(entries),
		Files:      entries,
	}
}

// truncate caps s at n characters, never splitting a multibyte rune.
func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
