package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/medgraph-backend/internal/enrich"
	"github.com/yungbote/medgraph-backend/internal/platform/logger"
	"github.com/yungbote/medgraph-backend/internal/rag"
)

type fakePipeline struct {
	answer *rag.Answer
	sum    enrich.Summary
	err    error
	opts   rag.BuildOptions
}

func (f *fakePipeline) AnswerQuestion(ctx context.Context, query string, opts rag.BuildOptions) (*rag.Answer, error) {
	f.opts = opts
	return f.answer, f.err
}

func (f *fakePipeline) EnrichNode(ctx context.Context, nodeID string) (enrich.Summary, error) {
	return f.sum, f.err
}

func newTestRouter(p PipelineAPI) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(RouterConfig{
		Pipeline:    p,
		CORSOrigins: []string{"http://localhost:3000"},
		Log:         logger.NewNop(),
	})
}

func TestQueryEndpoint(t *testing.T) {
	p := &fakePipeline{answer: &rag.Answer{Answer: "ok", Query: "q"}}
	router := newTestRouter(p)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/query",
		strings.NewReader(`{"query":"q","max_facts":3}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var got rag.Answer
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Answer != "ok" {
		t.Fatalf("unexpected answer: %#v", got)
	}
	if !p.opts.IncludeConcepts || p.opts.MaxFacts != 3 {
		t.Fatalf("options not forwarded: %#v", p.opts)
	}
}

func TestQueryEndpoint_RequiresQuery(t *testing.T) {
	router := newTestRouter(&fakePipeline{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestEnrichEndpoint_NodeNotFound(t *testing.T) {
	p := &fakePipeline{err: rag.ErrNodeNotFound}
	router := newTestRouter(p)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/enrich",
		strings.NewReader(`{"node_uuid":"missing"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
