package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yungbote/medgraph-backend/internal/data/graph"
	"github.com/yungbote/medgraph-backend/internal/enrich"
	"github.com/yungbote/medgraph-backend/internal/platform/logger"
	"github.com/yungbote/medgraph-backend/internal/platform/ragerr"
)

type fakeGenerator struct {
	answer string
	err    error
	prompt string
}

func (f *fakeGenerator) GenerateText(ctx context.Context, system, user string) (string, error) {
	f.prompt = user
	return f.answer, f.err
}

type fakeNodeLoader struct {
	nodes map[string]*graph.NodeText
}

func (f *fakeNodeLoader) GetNodeText(ctx context.Context, nodeID string) (*graph.NodeText, error) {
	return f.nodes[nodeID], nil
}

type fakeEnricher struct {
	sum    enrich.Summary
	nodeID string
	text   string
}

func (f *fakeEnricher) Enrich(ctx context.Context, nodeID, text string) (enrich.Summary, error) {
	f.nodeID, f.text = nodeID, text
	return f.sum, nil
}

func newPipeline(store *fakeSearcher, gen Generator, nodes NodeLoader, enricher Enricher) *Pipeline {
	assembler := newAssembler(store, nil, nil)
	return NewPipeline(assembler, gen, nodes, enricher, "gpt-4o", logger.NewNop())
}

func TestAnswerQuestion_FeedsContextToGenerator(t *testing.T) {
	store := &fakeSearcher{facts: []graph.Fact{fact("Aspirin inhibits COX-1", "Aspirin", "COX-1")}}
	gen := &fakeGenerator{answer: "Aspirin works by inhibiting COX-1."}

	ans, err := newPipeline(store, gen, nil, nil).AnswerQuestion(context.Background(), "how does aspirin work", BuildOptions{})
	if err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	if ans.Answer != "Aspirin works by inhibiting COX-1." {
		t.Fatalf("unexpected answer: %q", ans.Answer)
	}
	if ans.Metadata.NumFacts != 1 || ans.Metadata.Model != "gpt-4o" {
		t.Fatalf("unexpected metadata: %#v", ans.Metadata)
	}
	if !strings.Contains(gen.prompt, "how does aspirin work") {
		t.Fatalf("query missing from prompt:\n%s", gen.prompt)
	}
	if !strings.Contains(gen.prompt, "Aspirin inhibits COX-1") {
		t.Fatalf("retrieved fact missing from prompt:\n%s", gen.prompt)
	}
}

func TestAnswerQuestion_GenerationFailureYieldsFallback(t *testing.T) {
	store := &fakeSearcher{facts: []graph.Fact{fact("F1", "A", "B")}}
	gen := &fakeGenerator{err: ragerr.Newf(ragerr.KindGenerationFailed, "quota exceeded")}

	ans, err := newPipeline(store, gen, nil, nil).AnswerQuestion(context.Background(), "q", BuildOptions{})
	if err != nil {
		t.Fatalf("answer pathway must not propagate provider errors: %v", err)
	}
	if !ans.Degraded {
		t.Fatal("fallback answer must be flagged degraded")
	}
	if !strings.Contains(ans.Answer, "I apologize") {
		t.Fatalf("expected apologetic fallback, got %q", ans.Answer)
	}
	if ans.Metadata.NumFacts != 1 {
		t.Fatalf("metadata must survive generation failure: %#v", ans.Metadata)
	}
}

func TestAnswerQuestion_SamplesAreBounded(t *testing.T) {
	store := &fakeSearcher{facts: []graph.Fact{
		fact("F1", "A", "B"), fact("F2", "A", "B"), fact("F3", "A", "B"),
		fact("F4", "A", "B"), fact("F5", "A", "B"),
	}}
	gen := &fakeGenerator{answer: "ok"}

	ans, err := newPipeline(store, gen, nil, nil).AnswerQuestion(context.Background(), "q", BuildOptions{})
	if err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	if len(ans.SampleFacts) != 3 {
		t.Fatalf("expected 3 sample facts, got %#v", ans.SampleFacts)
	}
}

func TestAnswerQuestion_CancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := &fakeSearcher{}
	gen := &fakeGenerator{err: context.Canceled}

	_, err := newPipeline(store, gen, nil, nil).AnswerQuestion(ctx, "q", BuildOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to surface, got %v", err)
	}
}

func TestEnrichNode_LoadsTextAndDelegates(t *testing.T) {
	nodes := &fakeNodeLoader{nodes: map[string]*graph.NodeText{
		"n1": {UUID: "n1", Text: "clinical text"},
	}}
	enricher := &fakeEnricher{sum: enrich.Summary{Linked: 2}}

	sum, err := newPipeline(&fakeSearcher{}, &fakeGenerator{}, nodes, enricher).EnrichNode(context.Background(), "n1")
	if err != nil {
		t.Fatalf("EnrichNode: %v", err)
	}
	if sum.Linked != 2 {
		t.Fatalf("unexpected summary: %#v", sum)
	}
	if enricher.nodeID != "n1" || enricher.text != "clinical text" {
		t.Fatalf("wrong delegation: %q %q", enricher.nodeID, enricher.text)
	}
}

func TestEnrichNode_UnknownNode(t *testing.T) {
	p := newPipeline(&fakeSearcher{}, &fakeGenerator{}, &fakeNodeLoader{}, &fakeEnricher{})
	_, err := p.EnrichNode(context.Background(), "missing")
	if !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}
