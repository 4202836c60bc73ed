// Package retrieval orchestrates the scan pipeline. For every code
// chunk it embeds the text, searches the vulnerability index, and
// optionally reranks the candidates; query pipelines run concurrently
// and meet at the consolidation step, which groups all matches into the
// file-level report and persists it.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VulnRadar/vulnradar/engine/domain"
	"github.com/VulnRadar/vulnradar/engine/rerank"
	"github.com/VulnRadar/vulnradar/engine/report"
	"github.com/VulnRadar/vulnradar/engine/semantic"
	"github.com/VulnRadar/vulnradar/pkg/embed"
	"github.com/VulnRadar/vulnradar/pkg/fn"
	"github.com/VulnRadar/vulnradar/pkg/resilience"
)

// Embedder turns query text into a vector.
type Embedder interface {
	Generate(ctx context.Context, text, task string) ([]float32, error)
}

// Searcher abstracts the vector store similarity search.
type Searcher interface {
	Search(ctx context.Context, vector []float32, p semantic.SearchParams) ([]domain.CandidateMatch, error)
}

// Options configures a retrieval run.
type Options struct {
	// TopK bounds raw hits requested per query.
	TopK int
	// Threshold drops hits below it (inclusive).
	Threshold float32
	// OutputFields is the payload allow-list attached to matches.
	OutputFields []string
	// Workers bounds concurrent query pipelines.
	Workers int
	// UseRerank enables the reranking pass when a reranker is wired.
	UseRerank bool
	// RerankTopK truncates the reranked candidate list.
	RerankTopK int
	// CallTimeout applies per network stage invocation.
	CallTimeout time.Duration
	// FailFast aborts the run on the first failed query pipeline
	// instead of excluding it.
	FailFast bool
	// Partial consolidates whatever completed when the run is
	// cancelled, instead of returning the cancellation error.
	Partial bool
	// ReportDir and ReportName control where the artifact lands; an
	// empty name derives one from the current time.
	ReportDir  string
	ReportName string
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:         5,
		Threshold:    0.5,
		OutputFields: []string{"severity", "summary"},
		Workers:      4,
		UseRerank:    true,
		RerankTopK:   5,
		CallTimeout:  30 * time.Second,
		ReportDir:    "reports",
	}
}

// Service drives retrieval runs.
type Service struct {
	embed   Embedder
	search  Searcher
	rerank  rerank.Reranker
	breaker *resilience.Breaker
	opts    Options
	logger  *slog.Logger
}

// New creates a retrieval Service. The reranker may be nil.
func New(embedder Embedder, searcher Searcher, reranker rerank.Reranker, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embed:   embedder,
		search:  searcher,
		rerank:  reranker,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		opts:    opts,
		logger:  logger,
	}
}

// RunError reports which stage of a run failed and how many query
// pipelines had succeeded by then.
type RunError struct {
	Stage     string
	Succeeded int
	Wrapped   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("retrieval: stage %s failed (%d query pipelines succeeded): %v",
		e.Stage, e.Succeeded, e.Wrapped)
}

func (e *RunError) Unwrap() error { return e.Wrapped }

// RunResult is the outcome of a completed run.
type RunResult struct {
	Report    domain.ConsolidatedReport
	Location  string
	Succeeded int
	Failed    int
}

// Run executes the full pipeline over the given queries and persists
// the consolidated report. Failed query pipelines are excluded from
// consolidation and counted, unless FailFast is set.
func (s *Service) Run(ctx context.Context, queries []domain.Query) (*RunResult, error) {
	s.logger.Info("retrieval: run start", "queries", len(queries), "workers", s.opts.Workers)

	pipeline := s.queryPipeline()
	results := fn.ParMapResult(ctx, queries, s.opts.Workers, pipeline)

	// Results come back in input order, so group first-seen order (and
	// therefore report tie-breaking) follows chunk enumeration order,
	// not completion order.
	var all []domain.CandidateMatch
	succeeded, failed := 0, 0
	var firstErr error
	for i, r := range results {
		matches, err := r.Unwrap()
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("query %s (%s): %w", queries[i].ChunkID, queries[i].FilePath, err)
			}
			s.logger.Warn("retrieval: query pipeline failed",
				"chunk_id", queries[i].ChunkID, "file", queries[i].FilePath, "error", err)
			continue
		}
		succeeded++
		all = append(all, matches...)
	}

	if err := ctx.Err(); err != nil && !s.opts.Partial {
		return nil, &RunError{Stage: "run", Succeeded: succeeded, Wrapped: err}
	}
	if s.opts.FailFast && failed > 0 {
		return nil, &RunError{Stage: "query", Succeeded: succeeded, Wrapped: firstErr}
	}

	rep := report.Consolidate(all)
	loc, err := report.Write(rep, s.opts.ReportDir, s.opts.ReportName)
	if err != nil {
		return nil, &RunError{Stage: "report", Succeeded: succeeded, Wrapped: err}
	}

	s.logger.Info("retrieval: run complete",
		"files", rep.TotalFiles, "succeeded", succeeded, "failed", failed, "location", loc)
	return &RunResult{Report: rep, Location: loc, Succeeded: succeeded, Failed: failed}, nil
}

type embeddedQuery struct {
	query  domain.Query
	vector []float32
}

// queryPipeline composes embed, search, and rerank into one stage per
// query: Query -> matches with query metadata attached.
func (s *Service) queryPipeline() fn.Stage[domain.Query, []domain.CandidateMatch] {
	embedStage := fn.TracedStage("retrieval.embed",
		fn.TimedStage(s.opts.CallTimeout, func(ctx context.Context, q domain.Query) fn.Result[embeddedQuery] {
			if err := domain.ValidateQuery(q); err != nil {
				return fn.Err[embeddedQuery](err)
			}
			vec, err := s.embed.Generate(ctx, q.Text, embed.TaskQuery)
			if err != nil {
				return fn.Err[embeddedQuery](err)
			}
			return fn.Ok(embeddedQuery{query: q, vector: vec})
		}))

	searchStage := fn.TracedStage("retrieval.search",
		fn.TimedStage(s.opts.CallTimeout, func(ctx context.Context, eq embeddedQuery) fn.Result[[]domain.CandidateMatch] {
			res := resilience.CallResult(s.breaker, ctx, func(ctx context.Context) fn.Result[[]domain.CandidateMatch] {
				return fn.FromPair(s.search.Search(ctx, eq.vector, semantic.SearchParams{
					Limit:        uint64(s.opts.TopK),
					Threshold:    s.opts.Threshold,
					OutputFields: s.opts.OutputFields,
				}))
			})
			return fn.MapResult(res, func(matches []domain.CandidateMatch) []domain.CandidateMatch {
				for i := range matches {
					matches[i].Query = eq.query
				}
				return matches
			})
		}))

	rerankStage := fn.TracedStage("retrieval.rerank",
		fn.TimedStage(s.opts.CallTimeout, func(ctx context.Context, matches []domain.CandidateMatch) fn.Result[[]domain.CandidateMatch] {
			if !s.opts.UseRerank || s.rerank == nil || len(matches) == 0 {
				return fn.Ok(matches)
			}
			reranked, err := s.rerank.Rerank(ctx, matches[0].Query.Text, matches, s.opts.RerankTopK)
			if err != nil {
				// Reranking is best-effort: keep the vector-store order.
				s.logger.Warn("retrieval: rerank failed, keeping similarity order", "error", err)
				return fn.Ok(matches)
			}
			return fn.Ok(reranked)
		}))

	return fn.Then(fn.Then(embedStage, searchStage), rerankStage)
}
