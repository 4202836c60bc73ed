package semantic

// VectorRecord is one catalog record to store in Qdrant.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any // source_id, content, severity, summary, ...
}

// SearchParams bundles the knobs for one similarity query.
type SearchParams struct {
	// Limit bounds raw hits requested from the index; the store may
	// return fewer.
	Limit uint64
	// Threshold drops hits scoring below it (inclusive: score >=
	// threshold passes). Applied as a client-side post-filter.
	Threshold float32
	// OutputFields is the allow-list of payload fields attached to each
	// match beyond source_id and content.
	OutputFields []string
}
