// Command scan embeds code chunks, searches the vulnerability index,
// and writes the consolidated file-level report. Chunks are read from a
// JSON-lines file; each line carries the chunk text, chunk id, and the
// file path it came from.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/VulnRadar/vulnradar/engine/domain"
	"github.com/VulnRadar/vulnradar/engine/rerank"
	"github.com/VulnRadar/vulnradar/engine/retrieval"
	"github.com/VulnRadar/vulnradar/engine/semantic"
	"github.com/VulnRadar/vulnradar/pkg/embed"
	"github.com/VulnRadar/vulnradar/pkg/metrics"
	"github.com/VulnRadar/vulnradar/pkg/mid"
	"github.com/VulnRadar/vulnradar/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

var met = metrics.New()

var (
	mQueriesTotal = met.Counter("vulnradar_scan_queries_total", "Query pipelines started")
	mFailedTotal  = met.Counter("vulnradar_scan_queries_failed_total", "Query pipelines that failed")
	mFilesTotal   = met.Counter("vulnradar_scan_report_files_total", "File entries written to reports")
	mRunsTotal    = func(outcome string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("vulnradar_scan_runs_total", "outcome", outcome), "Scan runs by outcome")
	}
	mRunDur = met.Histogram("vulnradar_scan_run_duration_seconds", "End-to-end scan run time", nil)
)

// completedEvent is published on NATS when a run lands a report.
type completedEvent struct {
	Location   string    `json:"location"`
	TotalFiles int       `json:"total_files"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	FinishedAt time.Time `json:"finished_at"`
}

func main() {
	var (
		chunksFile  = flag.String("chunks", "", "JSON-lines file of code chunks to scan (required)")
		embedURL    = flag.String("embed-url", "https://generativelanguage.googleapis.com", "embedding provider base URL")
		embedModel  = flag.String("embed-model", "gemini-embedding-001", "embedding model name")
		dims        = flag.Int("dims", 768, "embedding dimensionality")
		apiKeys     = flag.String("api-keys", "", "comma-separated embedding API keys (or EMBED_API_KEYS)")
		embedQPS    = flag.Float64("embed-qps", 5, "embedding calls per second, 0 to disable")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection  = flag.String("collection", "vulnradar", "Qdrant collection name")
		topK        = flag.Int("topk", 5, "raw hits requested per query")
		threshold   = flag.Float64("threshold", 0.5, "minimum similarity score (inclusive)")
		fields      = flag.String("fields", "severity,summary", "comma-separated payload fields to attach to matches")
		rerankURL   = flag.String("rerank-url", "", "rerank provider base URL (empty disables reranking)")
		rerankModel = flag.String("rerank-model", "rerank-v3.5", "rerank model name")
		rerankKey   = flag.String("rerank-key", "", "rerank API key (or RERANK_API_KEY)")
		rerankTopK  = flag.Int("rerank-topk", 5, "candidates kept after reranking")
		workers     = flag.Int("workers", 4, "concurrent query pipelines")
		callTimeout = flag.Duration("call-timeout", 30*time.Second, "per network call timeout")
		failFast    = flag.Bool("fail-fast", false, "abort the run on the first failed query")
		partial     = flag.Bool("partial", false, "write a partial report when the run is cancelled")
		reportDir   = flag.String("report-dir", "reports", "directory for report artifacts")
		reportName  = flag.String("report-name", "", "report file name (empty derives one from the clock)")
		natsURL     = flag.String("nats", "", "NATS URL for scan.completed events (empty disables)")
		metricsPort = flag.Int("metrics-port", 9093, "metrics HTTP port, 0 to disable")
	)
	flag.Parse()

	log := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *metricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", met.Handler())
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", *metricsPort),
			Handler: mid.Chain(mux, mid.Recover(log), mid.OTel("vulnradar-scan"), mid.Logger(log)),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	if *chunksFile == "" {
		log.Error("missing -chunks")
		os.Exit(2)
	}
	queries, err := loadChunks(*chunksFile)
	if err != nil {
		log.Error("load chunks failed", "file", *chunksFile, "error", err)
		os.Exit(1)
	}
	if len(queries) == 0 {
		log.Error("no chunks to scan", "file", *chunksFile)
		os.Exit(1)
	}
	log.Info("loaded chunks", "count", len(queries), "file", *chunksFile)

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
	if err := vs.Connect(ctx); err != nil {
		log.Error("qdrant connect failed", "collection", *collection, "error", err)
		os.Exit(1)
	}
	log.Info("connected to Qdrant", "collection", *collection, "dims", *dims)

	var reranker rerank.Reranker
	if *rerankURL != "" {
		key := *rerankKey
		if key == "" {
			key = os.Getenv("RERANK_API_KEY")
		}
		reranker = rerank.NewClient(rerank.Config{
			BaseURL: *rerankURL,
			Model:   *rerankModel,
			APIKey:  key,
			Timeout: *callTimeout,
		})
		log.Info("reranking enabled", "model", *rerankModel)
	}

	opts := retrieval.DefaultOptions()
	opts.TopK = *topK
	opts.Threshold = float32(*threshold)
	opts.OutputFields = splitList(*fields)
	opts.Workers = *workers
	opts.UseRerank = reranker != nil
	opts.RerankTopK = *rerankTopK
	opts.CallTimeout = *callTimeout
	opts.FailFast = *failFast
	opts.Partial = *partial
	opts.ReportDir = *reportDir
	opts.ReportName = *reportName

	svc := retrieval.New(embedder, vs, reranker, opts, log)

	mQueriesTotal.Add(int64(len(queries)))
	start := time.Now()
	res, err := svc.Run(ctx, queries)
	mRunDur.Since(start)
	if err != nil {
		mRunsTotal("failed").Inc()
		log.Error("scan run failed", "error", err)
		os.Exit(1)
	}
	mRunsTotal("ok").Inc()
	mFailedTotal.Add(int64(res.Failed))
	mFilesTotal.Add(int64(res.Report.TotalFiles))

	log.Info("scan complete",
		"report", res.Location,
		"files", res.Report.TotalFiles,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"duration", time.Since(start),
	)

	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL)
		if err != nil {
			log.Warn("nats connect failed, skipping event", "error", err)
			return
		}
		defer nc.Drain()
		ev := completedEvent{
			Location:   res.Location,
			TotalFiles: res.Report.TotalFiles,
			Succeeded:  res.Succeeded,
			Failed:     res.Failed,
			FinishedAt: time.Now().UTC(),
		}
		if err := natsutil.Publish(ctx, nc, "vulnradar.scan.completed", ev); err != nil {
			log.Warn("publish scan.completed failed", "error", err)
		}
	}
}

// loadChunks reads queries from a JSON-lines file. A plain JSON array
// also works, for convenience.
func loadChunks(path string) ([]domain.Query, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	var out []domain.Query

	// Peek: arrays start with '['.
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); ok && d == '[' {
		for dec.More() {
			var q domain.Query
			if err := dec.Decode(&q); err != nil {
				return nil, err
			}
			out = append(out, q)
		}
		return out, nil
	}

	// JSON-lines: reopen and decode a stream of objects. A malformed
	// line fails the whole load rather than silently truncating the set.
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	dec = json.NewDecoder(f)
	for {
		var q domain.Query
		if err := dec.Decode(&q); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode chunk %d: %w", len(out), err)
		}
		out = append(out, q)
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
