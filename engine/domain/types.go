// Package domain holds the core types shared by the retrieval pipeline:
// queries, candidate matches, and the consolidated report contract.
package domain

// Query is one retrieval request derived from a single code chunk.
// Queries are ephemeral; they exist only for the duration of a run.
type Query struct {
	Text     string `json:"text"`
	ChunkID  string `json:"chunk_id"`
	FilePath string `json:"file_path"`
}

// CandidateMatch is a single similarity-search hit for one query.
type CandidateMatch struct {
	// SourceID identifies the catalog record, e.g. "CVE-2021-44228".
	SourceID string `json:"source_id"`
	// Score is the similarity score reported by the vector store.
	Score   float32 `json:"score"`
	Content string  `json:"content"`
	// Fields carries the explicitly requested payload fields, e.g.
	// severity or summary. Fields not requested are never attached.
	Fields map[string]string `json:"fields,omitempty"`
	// Query records which chunk produced this hit.
	Query Query `json:"query"`
	// RerankScore is set only when a reranking pass annotated the match.
	RerankScore *float32 `json:"rerank_score,omitempty"`
}

// ConsolidatedEntry is one row of the final report, keyed by file path.
type ConsolidatedEntry struct {
	FilePath string  `json:"file_path"`
	AvgScore float64 `json:"avg_score"`
	// Queries lists the distinct query texts that hit this file,
	// in first-hit order.
	Queries        []string `json:"queries"`
	ContentSnippet string   `json:"content_snippet"`
}

// ConsolidatedReport is the persisted artifact contract consumed by
// downstream dashboards. Files are sorted by AvgScore descending.
type ConsolidatedReport struct {
	TotalFiles int                 `json:"total_files"`
	Files      []ConsolidatedEntry `json:"files"`
}
