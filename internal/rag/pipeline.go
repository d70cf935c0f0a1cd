package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/yungbote/medgraph-backend/internal/data/graph"
	"github.com/yungbote/medgraph-backend/internal/enrich"
	"github.com/yungbote/medgraph-backend/internal/platform/logger"
)

const systemPrompt = "You are a helpful biomedical expert assistant."

const fallbackAnswer = "I apologize, but I encountered an error while generating the answer. Please try again."

// ErrNodeNotFound is returned by EnrichNode for an unknown node uuid.
var ErrNodeNotFound = errors.New("node not found")

// Generator is the text generation contract the pipeline consumes.
type Generator interface {
	GenerateText(ctx context.Context, system, user string) (string, error)
}

// NodeLoader loads node text for targeted enrichment.
type NodeLoader interface {
	GetNodeText(ctx context.Context, nodeID string) (*graph.NodeText, error)
}

// Enricher is the slice of the enrichment engine the pipeline needs.
type Enricher interface {
	Enrich(ctx context.Context, nodeID, text string) (enrich.Summary, error)
}

// AnswerMetadata describes what went into an answer.
type AnswerMetadata struct {
	NumFacts    int    `json:"num_facts"`
	NumEntities int    `json:"num_entities"`
	NumConcepts int    `json:"num_concepts"`
	Model       string `json:"model"`
}

// Answer is the user-facing response. The answer pathway always produces one;
// generation failures yield the fallback text, never a raw provider error.
type Answer struct {
	Answer       string         `json:"answer"`
	Query        string         `json:"query"`
	Metadata     AnswerMetadata `json:"metadata"`
	SampleFacts  []string       `json:"sample_facts,omitempty"`
	SampleTerms  []string       `json:"sample_terms,omitempty"`
	Degraded     bool           `json:"degraded,omitempty"`
}

// Pipeline answers medical questions over the knowledge graph.
type Pipeline struct {
	assembler *Assembler
	generator Generator
	nodes     NodeLoader
	enricher  Enricher
	model     string
	log       *logger.Logger
}

func NewPipeline(assembler *Assembler, generator Generator, nodes NodeLoader, enricher Enricher, model string, log *logger.Logger) *Pipeline {
	return &Pipeline{
		assembler: assembler,
		generator: generator,
		nodes:     nodes,
		enricher:  enricher,
		model:     model,
		log:       log.With("component", "RAGPipeline"),
	}
}

// AnswerQuestion builds the retrieval context and generates an answer. It
// returns an error only on cancellation; every other failure degrades into a
// fallback answer so the caller always has something to show the user.
func (p *Pipeline) AnswerQuestion(ctx context.Context, query string, opts BuildOptions) (*Answer, error) {
	p.log.Info("answering question", "query", firstN(query, 100))

	rc, err := p.assembler.BuildContext(ctx, query, opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.Error("context assembly failed; answering without context", "error", err)
		rc = &Context{Query: query}
	}

	ans := &Answer{
		Query: query,
		Metadata: AnswerMetadata{
			NumFacts:    len(rc.Facts),
			NumEntities: len(rc.EntitySummaries),
			NumConcepts: len(rc.Concepts),
			Model:       p.model,
		},
	}
	for i := 0; i < len(rc.Facts) && i < 3; i++ {
		ans.SampleFacts = append(ans.SampleFacts, rc.Facts[i])
	}
	for i := 0; i < len(rc.Concepts) && i < 3; i++ {
		ans.SampleTerms = append(ans.SampleTerms, rc.Concepts[i].Mention.SurfaceForm)
	}

	text, err := p.generator.GenerateText(ctx, systemPrompt, buildPrompt(rc))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.Error("generation failed; returning fallback answer", "error", err)
		ans.Answer = fallbackAnswer
		ans.Degraded = true
		return ans, nil
	}

	ans.Answer = text
	p.log.Info("answer generated",
		"facts", ans.Metadata.NumFacts,
		"entities", ans.Metadata.NumEntities,
		"concepts", ans.Metadata.NumConcepts,
	)
	return ans, nil
}

// EnrichNode enriches one node's text content with concepts, in place.
func (p *Pipeline) EnrichNode(ctx context.Context, nodeID string) (enrich.Summary, error) {
	node, err := p.nodes.GetNodeText(ctx, nodeID)
	if err != nil {
		return enrich.Summary{}, err
	}
	if node == nil {
		return enrich.Summary{}, fmt.Errorf("rag: node %s: %w", nodeID, ErrNodeNotFound)
	}
	if node.Text == "" {
		p.log.Warn("node has no text content", "node", nodeID)
		return enrich.Summary{}, nil
	}
	return p.enricher.Enrich(ctx, nodeID, node.Text)
}

func buildPrompt(rc *Context) string {
	return fmt.Sprintf(`You are answering a medical question based on a knowledge graph of PubMed literature and UMLS medical terminology.

Use the provided facts, entity summaries, and medical term definitions as the primary evidence for your answer.
Cite specific facts when possible and ensure medical accuracy.

User Question:
%s

%s
Please provide a comprehensive answer that:
1. Directly addresses the user's question
2. Uses the provided facts as supporting evidence
3. Incorporates relevant medical terminology accurately
4. Is clear and accessible to medical professionals

Answer:`, rc.Query, rc.RenderedText)
}
