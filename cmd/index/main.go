// Command index loads a vulnerability catalog from a JSON-lines file,
// embeds each record as a document, and upserts the vectors into
// Qdrant. Point IDs are derived deterministically from the record ID so
// re-indexing the same catalog overwrites rather than duplicates.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/VulnRadar/vulnradar/engine/semantic"
	"github.com/VulnRadar/vulnradar/pkg/embed"
	"github.com/google/uuid"
)

// catalogRecord is one vulnerability entry in the input file.
type catalogRecord struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Severity string `json:"severity"`
	Summary  string `json:"summary"`
	CweID    string `json:"cwe_id"`
}

func main() {
	var (
		catalogFile = flag.String("catalog", "", "JSON-lines vulnerability catalog (required)")
		embedURL    = flag.String("embed-url", "https://generativelanguage.googleapis.com", "embedding provider base URL")
		embedModel  = flag.String("embed-model", "gemini-embedding-001", "embedding model name")
		dims        = flag.Int("dims", 768, "embedding dimensionality")
		apiKeys     = flag.String("api-keys", "", "comma-separated embedding API keys (or EMBED_API_KEYS)")
		embedQPS    = flag.Float64("embed-qps", 5, "embedding calls per second, 0 to disable")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection  = flag.String("collection", "vulnradar", "Qdrant collection name")
		batchSize   = flag.Int("batch", 32, "records embedded and upserted per batch")
		callTimeout = flag.Duration("call-timeout", 30*time.Second, "per network call timeout")
	)
	flag.Parse()

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *catalogFile == "" {
		log.Error("missing -catalog")
		os.Exit(2)
	}
	records, err := loadCatalog(*catalogFile)
	if err != nil {
		log.Error("load catalog failed", "file", *catalogFile, "error", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		log.Error("catalog is empty", "file", *catalogFile)
		os.Exit(1)
	}
	log.Info("loaded catalog", "records", len(records), "file", *catalogFile)

	keys := splitList(*apiKeys)
	if len(keys) == 0 {
		keys = splitList(os.Getenv("EMBED_API_KEYS"))
	}
	embedder, err := embed.New(embed.Config{
		BaseURL:   *embedURL,
		Model:     *embedModel,
		Dimension: *dims,
		Keys:      keys,
		QPS:       *embedQPS,
		Timeout:   *callTimeout,
	}, log)
	if err != nil {
		log.Error("embed client init failed", "error", err)
		os.Exit(1)
	}

	vs, err := semantic.New(*qdrantAddr, *collection, *dims, log)
	if err != nil {
		log.Error("qdrant dial failed", "error", err)
		os.Exit(1)
	}
	defer vs.Close()
	if err := vs.EnsureCollection(ctx); err != nil {
		log.Error("qdrant ensure collection failed", "collection", *collection, "error", err)
		os.Exit(1)
	}
	log.Info("collection ready", "collection", *collection, "dims", *dims)

	start := time.Now()
	indexed := 0
	for off := 0; off < len(records); off += *batchSize {
		if ctx.Err() != nil {
			log.Warn("interrupted", "indexed", indexed)
			os.Exit(1)
		}
		end := off + *batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[off:end]

		texts := make([]string, len(batch))
		for i, r := range batch {
			texts[i] = r.Content
		}
		vectors, err := embedder.GenerateBatch(ctx, texts, embed.TaskDocument)
		if err != nil {
			log.Error("embed batch failed", "offset", off, "error", err)
			os.Exit(1)
		}

		points := make([]semantic.VectorRecord, len(batch))
		for i, r := range batch {
			points[i] = semantic.VectorRecord{
				ID:        uuid.NewSHA1(uuid.NameSpaceURL, []byte(r.ID)).String(),
				Embedding: vectors[i],
				Payload: map[string]any{
					"source_id": r.ID,
					"content":   r.Content,
					"severity":  r.Severity,
					"summary":   r.Summary,
					"cwe_id":    r.CweID,
				},
			}
		}
		if err := vs.Upsert(ctx, points); err != nil {
			log.Error("upsert failed", "offset", off, "error", err)
			os.Exit(1)
		}
		indexed += len(batch)
		log.Info("batch indexed", "indexed", indexed, "total", len(records))
	}

	log.Info("indexing complete", "records", indexed, "duration", time.Since(start))
}

func loadCatalog(path string) ([]catalogRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []catalogRecord
	dec := json.NewDecoder(f)
	for dec.More() {
		var r catalogRecord
		if err := dec.Decode(&r); err != nil {
			return nil, err
		}
		if r.ID == "" || r.Content == "" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
