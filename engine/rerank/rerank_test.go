package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/VulnRadar/vulnradar/engine/domain"
)

func candidates() []domain.CandidateMatch {
	return []domain.CandidateMatch{
		{SourceID: "CVE-2020-0001", Score: 0.9, Content: "sql injection in login",
			Fields: map[string]string{"severity": "9.8"},
			Query:  domain.Query{Text: "query one", FilePath: "a.py"}},
		{SourceID: "CVE-2020-0002", Score: 0.8, Content: "xss in comments",
			Query: domain.Query{Text: "query one", FilePath: "a.py"}},
		{SourceID: "CVE-2020-0003", Score: 0.7, Content: "path traversal"},
	}
}

func TestRerank_ReordersAndAnnotates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Documents) != 3 {
			t.Errorf("got %d documents", len(req.Documents))
		}
		// Provider finds the last document most relevant.
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"index": 2, "relevance_score": 0.99},
				{"index": 0, "relevance_score": 0.42},
				{"index": 1, "relevance_score": 0.10},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "rerank-v3"})
	out, err := c.Rerank(context.Background(), "query one", candidates(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d results, want topK=2", len(out))
	}
	if out[0].SourceID != "CVE-2020-0003" || out[1].SourceID != "CVE-2020-0001" {
		t.Fatalf("unexpected order: %s, %s", out[0].SourceID, out[1].SourceID)
	}
	if out[0].RerankScore == nil || *out[0].RerankScore != 0.99 {
		t.Error("rerank score not annotated")
	}

	// Every pre-existing field must survive reranking.
	if out[1].Fields["severity"] != "9.8" {
		t.Error("fields dropped by rerank")
	}
	if out[1].Content != "sql injection in login" || out[1].Score != 0.9 {
		t.Error("content or similarity score dropped by rerank")
	}
	if out[1].Query.FilePath != "a.py" {
		t.Error("query metadata dropped by rerank")
	}
}

func TestRerank_ProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	if _, err := c.Rerank(context.Background(), "q", candidates(), 3); err == nil {
		t.Fatal("expected error from failing provider")
	}
}

func TestRerank_BadIndexRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"index": 17, "relevance_score": 0.5}},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	if _, err := c.Rerank(context.Background(), "q", candidates(), 3); err == nil {
		t.Fatal("expected error for out-of-range index")
	}
}

func TestRerank_EmptyInput(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:0"})
	out, err := c.Rerank(context.Background(), "q", nil, 5)
	if err != nil || out != nil {
		t.Fatalf("empty input should be a no-op: %v, %v", out, err)
	}
}
