package rag

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/medgraph-backend/internal/config"
	"github.com/yungbote/medgraph-backend/internal/data/graph"
	"github.com/yungbote/medgraph-backend/internal/matcher"
	"github.com/yungbote/medgraph-backend/internal/platform/logger"
	"github.com/yungbote/medgraph-backend/internal/platform/ragerr"
	"github.com/yungbote/medgraph-backend/internal/platform/umls"
)

const summaryLimit = 200

// Searcher is the slice of the graph store the assembler needs.
type Searcher interface {
	SearchFacts(ctx context.Context, query string, limit int) ([]graph.Fact, error)
	SearchEntities(ctx context.Context, query string, limit int) ([]graph.Entity, error)
}

// ConceptAnnotator resolves concept details for query annotation. No graph
// writes happen on this path.
type ConceptAnnotator interface {
	GetDetails(ctx context.Context, cui string) (*umls.ConceptDetails, error)
}

// AnnotatedConcept pairs a mention from the query text with its canonical
// record.
type AnnotatedConcept struct {
	Mention matcher.Mention     `json:"mention"`
	Details umls.ConceptDetails `json:"details"`
}

// Context is the assembled retrieval bundle for one query. It is built fresh
// per query and never mutated after construction.
type Context struct {
	Query           string
	Facts           []string
	EntitySummaries []string
	Concepts        []AnnotatedConcept
	RenderedText    string
}

// BuildOptions controls one context assembly. Zero limits fall back to the
// configured defaults.
type BuildOptions struct {
	IncludeConcepts bool
	MaxFacts        int
	MaxEntities     int
}

// Assembler builds ranked, structured contexts from graph search and concept
// annotation.
type Assembler struct {
	store    Searcher
	matcher  matcher.Matcher
	concepts ConceptAnnotator
	cfg      config.SearchConfig
	log      *logger.Logger
}

func NewAssembler(store Searcher, m matcher.Matcher, concepts ConceptAnnotator, cfg config.SearchConfig, log *logger.Logger) *Assembler {
	return &Assembler{
		store:    store,
		matcher:  m,
		concepts: concepts,
		cfg:      cfg,
		log:      log.With("component", "ContextAssembler"),
	}
}

// BuildContext issues the fact and entity searches concurrently, annotates
// the query with concepts when requested, and renders everything into one
// context object. A degraded search contributes an empty section; assembly
// itself only fails on cancellation or a closed connection.
func (a *Assembler) BuildContext(ctx context.Context, query string, opts BuildOptions) (*Context, error) {
	maxFacts := opts.MaxFacts
	if maxFacts <= 0 {
		maxFacts = a.cfg.DefaultFactLimit
	}
	maxEntities := opts.MaxEntities
	if maxEntities <= 0 {
		maxEntities = a.cfg.DefaultEntityLimit
	}

	var (
		facts    []graph.Fact
		entities []graph.Entity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		facts, err = a.store.SearchFacts(gctx, query, maxFacts)
		return fatalOnly(err)
	})
	g.Go(func() error {
		var err error
		entities, err = a.store.SearchEntities(gctx, query, maxEntities)
		return fatalOnly(err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rc := &Context{Query: query}
	for _, f := range facts {
		rc.Facts = append(rc.Facts, formatFact(f))
	}
	for _, e := range entities {
		rc.EntitySummaries = append(rc.EntitySummaries, formatEntity(e))
	}

	if opts.IncludeConcepts {
		concepts, err := a.annotateQuery(ctx, query)
		if err != nil {
			return nil, err
		}
		rc.Concepts = concepts
	}

	rc.RenderedText = render(rc)
	a.log.Debug("context assembled",
		"query", firstN(query, 80),
		"facts", len(rc.Facts),
		"entities", len(rc.EntitySummaries),
		"concepts", len(rc.Concepts),
	)
	return rc, nil
}

// annotateQuery extracts mentions from the query text and resolves their
// details, memoizing per CUI. Absent details drop the mention; an auth
// failure stops further lookups and surfaces.
func (a *Assembler) annotateQuery(ctx context.Context, query string) ([]AnnotatedConcept, error) {
	mentions := a.matcher.Match(query)
	if len(mentions) == 0 {
		return nil, nil
	}

	memo := map[string]*umls.ConceptDetails{}
	var annotated []AnnotatedConcept
	for _, m := range mentions {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		details, seen := memo[m.CUI]
		if !seen {
			var err error
			details, err = a.concepts.GetDetails(ctx, m.CUI)
			if err != nil {
				if ragerr.IsKind(err, ragerr.KindAuthFailed) {
					return annotated, err
				}
				details = nil
			}
			memo[m.CUI] = details
		}
		if details == nil {
			continue
		}
		annotated = append(annotated, AnnotatedConcept{Mention: m, Details: *details})
	}
	return annotated, nil
}

// fatalOnly converts a degraded search into success (the empty slice is the
// result) while letting cancellation and lifecycle errors through.
func fatalOnly(err error) error {
	if err == nil {
		return nil
	}
	if ragerr.IsKind(err, ragerr.KindSearchDegraded) {
		return nil
	}
	return err
}

// formatFact renders one fact as a citation-bearing sentence. Missing
// endpoint names fall back to a truncated identifier.
func formatFact(f graph.Fact) string {
	source := f.SourceName
	if source == "" {
		source = entityFallbackName(f.SourceNodeID)
	}
	target := f.TargetName
	if target == "" {
		target = entityFallbackName(f.TargetNodeID)
	}
	return fmt.Sprintf("%s (Source: %s; Target: %s)", f.Text, source, target)
}

func entityFallbackName(id string) string {
	return "Entity_" + firstN(id, 8)
}

// formatEntity renders "name: summary", clipping long summaries.
func formatEntity(e graph.Entity) string {
	summary := e.Summary
	if len(summary) > summaryLimit {
		summary = summary[:summaryLimit] + "..."
	}
	return fmt.Sprintf("%s: %s", e.Name, summary)
}

// render concatenates the sections in fixed order: facts, then entity
// summaries, then concept annotations. Empty sections are omitted entirely,
// header included.
func render(rc *Context) string {
	var parts []string

	if len(rc.Facts) > 0 {
		parts = append(parts, "Relevant Facts from Knowledge Graph:")
		for i, fact := range rc.Facts {
			parts = append(parts, fmt.Sprintf("%d. %s", i+1, fact))
		}
		parts = append(parts, "")
	}

	if len(rc.EntitySummaries) > 0 {
		parts = append(parts, "Relevant Entity Summaries:")
		for i, ent := range rc.EntitySummaries {
			parts = append(parts, fmt.Sprintf("%d. %s", i+1, ent))
		}
		parts = append(parts, "")
	}

	if len(rc.Concepts) > 0 {
		parts = append(parts, "Medical Terms and Concepts:")
		for _, c := range rc.Concepts {
			parts = append(parts, fmt.Sprintf("- Term: %s (CUI: %s)", c.Mention.SurfaceForm, c.Details.CUI))
			if len(c.Details.SemanticTypes) > 0 {
				parts = append(parts, fmt.Sprintf("  Types: %s", strings.Join(c.Details.SemanticTypes, ", ")))
			}
			if len(c.Details.Definitions) > 0 {
				parts = append(parts, fmt.Sprintf("  Definition: %s", firstN(c.Details.Definitions[0], summaryLimit)))
			}
		}
		parts = append(parts, "")
	}

	return strings.Join(parts, "\n")
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
