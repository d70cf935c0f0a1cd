package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/yungbote/medgraph-backend/internal/config"
	"github.com/yungbote/medgraph-backend/internal/data/graph"
	"github.com/yungbote/medgraph-backend/internal/matcher"
	"github.com/yungbote/medgraph-backend/internal/platform/logger"
	"github.com/yungbote/medgraph-backend/internal/platform/ragerr"
	"github.com/yungbote/medgraph-backend/internal/platform/umls"
)

type fakeSearcher struct {
	facts       []graph.Fact
	entities    []graph.Entity
	factErr     error
	entityErr   error
	factLimit   int
	entityLimit int
}

func (f *fakeSearcher) SearchFacts(ctx context.Context, query string, limit int) ([]graph.Fact, error) {
	f.factLimit = limit
	facts := f.facts
	if limit < len(facts) {
		facts = facts[:limit]
	}
	return facts, f.factErr
}

func (f *fakeSearcher) SearchEntities(ctx context.Context, query string, limit int) ([]graph.Entity, error) {
	f.entityLimit = limit
	entities := f.entities
	if limit < len(entities) {
		entities = entities[:limit]
	}
	return entities, f.entityErr
}

type fakeAnnotator struct {
	details map[string]*umls.ConceptDetails
	err     error
}

func (f *fakeAnnotator) GetDetails(ctx context.Context, cui string) (*umls.ConceptDetails, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.details[cui], nil
}

type queryMatcher struct {
	mentions []matcher.Mention
}

func (q *queryMatcher) Match(text string) []matcher.Mention { return q.mentions }

var searchCfg = config.SearchConfig{DefaultFactLimit: 10, DefaultEntityLimit: 5}

func newAssembler(store Searcher, m matcher.Matcher, annotator ConceptAnnotator) *Assembler {
	if m == nil {
		m = &queryMatcher{}
	}
	if annotator == nil {
		annotator = &fakeAnnotator{}
	}
	return NewAssembler(store, m, annotator, searchCfg, logger.NewNop())
}

func fact(text, sourceName, targetName string) graph.Fact {
	return graph.Fact{
		UUID:         "f-" + text,
		Text:         text,
		SourceNodeID: "aaaabbbb-0000-0000-0000-000000000000",
		TargetNodeID: "ccccdddd-0000-0000-0000-000000000000",
		SourceName:   sourceName,
		TargetName:   targetName,
	}
}

func TestBuildContext_PreservesRankOrderAndLimit(t *testing.T) {
	store := &fakeSearcher{facts: []graph.Fact{
		fact("F1", "A", "B"),
		fact("F2", "C", "D"),
		fact("F3", "E", "F"),
	}}

	rc, err := newAssembler(store, nil, nil).BuildContext(context.Background(), "q", BuildOptions{MaxFacts: 2})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if store.factLimit != 2 {
		t.Fatalf("limit must be pushed into the search call, got %d", store.factLimit)
	}
	if len(rc.Facts) != 2 {
		t.Fatalf("expected 2 facts, got %#v", rc.Facts)
	}
	if !strings.HasPrefix(rc.Facts[0], "F1 ") || !strings.HasPrefix(rc.Facts[1], "F2 ") {
		t.Fatalf("relevance order not preserved: %#v", rc.Facts)
	}
}

func TestBuildContext_FactFormattingWithNameFallback(t *testing.T) {
	store := &fakeSearcher{facts: []graph.Fact{
		fact("Aspirin inhibits COX-1", "Aspirin", ""),
	}}

	rc, err := newAssembler(store, nil, nil).BuildContext(context.Background(), "q", BuildOptions{})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	want := "Aspirin inhibits COX-1 (Source: Aspirin; Target: Entity_ccccdddd)"
	if rc.Facts[0] != want {
		t.Fatalf("got %q, want %q", rc.Facts[0], want)
	}
}

func TestBuildContext_EntitySummaryTruncation(t *testing.T) {
	long := strings.Repeat("x", 250)
	short := strings.Repeat("y", 150)
	store := &fakeSearcher{entities: []graph.Entity{
		{Name: "Long", Summary: long},
		{Name: "Short", Summary: short},
	}}

	rc, err := newAssembler(store, nil, nil).BuildContext(context.Background(), "q", BuildOptions{})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if rc.EntitySummaries[0] != "Long: "+strings.Repeat("x", 200)+"..." {
		t.Fatalf("250-char summary must clip to 200 plus ellipsis: %q", rc.EntitySummaries[0])
	}
	if rc.EntitySummaries[1] != "Short: "+short {
		t.Fatalf("150-char summary must pass through unchanged: %q", rc.EntitySummaries[1])
	}
}

func TestBuildContext_OmitsEmptySectionHeaders(t *testing.T) {
	store := &fakeSearcher{facts: []graph.Fact{fact("F1", "A", "B")}}

	rc, err := newAssembler(store, nil, nil).BuildContext(context.Background(), "q", BuildOptions{})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if !strings.Contains(rc.RenderedText, "Relevant Facts from Knowledge Graph:") {
		t.Fatalf("facts header missing:\n%s", rc.RenderedText)
	}
	if strings.Contains(rc.RenderedText, "Relevant Entity Summaries:") {
		t.Fatalf("empty entity section must be omitted entirely:\n%s", rc.RenderedText)
	}
	if strings.Contains(rc.RenderedText, "Medical Terms and Concepts:") {
		t.Fatalf("empty concept section must be omitted entirely:\n%s", rc.RenderedText)
	}
}

func TestBuildContext_DegradedSearchYieldsEmptySection(t *testing.T) {
	store := &fakeSearcher{
		facts:    nil,
		factErr:  ragerr.Newf(ragerr.KindSearchDegraded, "index offline"),
		entities: []graph.Entity{{Name: "MRSA", Summary: "Resistant staphylococcus."}},
	}

	rc, err := newAssembler(store, nil, nil).BuildContext(context.Background(), "q", BuildOptions{})
	if err != nil {
		t.Fatalf("degraded search must not fail assembly: %v", err)
	}
	if len(rc.Facts) != 0 {
		t.Fatalf("expected no facts, got %#v", rc.Facts)
	}
	if len(rc.EntitySummaries) != 1 {
		t.Fatalf("entity search must proceed independently: %#v", rc.EntitySummaries)
	}
}

func TestBuildContext_AnnotatesQueryConcepts(t *testing.T) {
	store := &fakeSearcher{}
	m := &queryMatcher{mentions: []matcher.Mention{
		{SurfaceForm: "MRSA", CUI: "C1265292", Confidence: 0.95},
		{SurfaceForm: "unknown", CUI: "C0000000", Confidence: 0.9},
	}}
	annotator := &fakeAnnotator{details: map[string]*umls.ConceptDetails{
		"C1265292": {
			CUI:           "C1265292",
			Name:          "Methicillin-Resistant Staphylococcus Aureus",
			SemanticTypes: []string{"Bacterium"},
			Definitions:   []string{"A strain of staphylococcus resistant to methicillin."},
		},
	}}

	rc, err := newAssembler(store, m, annotator).BuildContext(context.Background(), "what is mrsa", BuildOptions{IncludeConcepts: true})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if len(rc.Concepts) != 1 {
		t.Fatalf("absent details must drop the mention: %#v", rc.Concepts)
	}
	if !strings.Contains(rc.RenderedText, "- Term: MRSA (CUI: C1265292)") {
		t.Fatalf("concept annotation missing:\n%s", rc.RenderedText)
	}
	if !strings.Contains(rc.RenderedText, "Types: Bacterium") {
		t.Fatalf("semantic types missing:\n%s", rc.RenderedText)
	}
}

func TestBuildContext_SectionOrderIsFixed(t *testing.T) {
	store := &fakeSearcher{
		facts:    []graph.Fact{fact("F1", "A", "B")},
		entities: []graph.Entity{{Name: "E", Summary: "s"}},
	}
	m := &queryMatcher{mentions: []matcher.Mention{{SurfaceForm: "t", CUI: "C1", Confidence: 1}}}
	annotator := &fakeAnnotator{details: map[string]*umls.ConceptDetails{"C1": {CUI: "C1", Name: "T"}}}

	rc, err := newAssembler(store, m, annotator).BuildContext(context.Background(), "q", BuildOptions{IncludeConcepts: true})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	factsAt := strings.Index(rc.RenderedText, "Relevant Facts")
	entitiesAt := strings.Index(rc.RenderedText, "Relevant Entity Summaries")
	conceptsAt := strings.Index(rc.RenderedText, "Medical Terms and Concepts")
	if factsAt < 0 || entitiesAt < 0 || conceptsAt < 0 {
		t.Fatalf("missing section:\n%s", rc.RenderedText)
	}
	if !(factsAt < entitiesAt && entitiesAt < conceptsAt) {
		t.Fatalf("sections out of order:\n%s", rc.RenderedText)
	}
}
