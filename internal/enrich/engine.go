package enrich

import (
	"context"
	"fmt"

	"github.com/yungbote/medgraph-backend/internal/data/graph"
	"github.com/yungbote/medgraph-backend/internal/matcher"
	"github.com/yungbote/medgraph-backend/internal/platform/logger"
	"github.com/yungbote/medgraph-backend/internal/platform/ragerr"
	"github.com/yungbote/medgraph-backend/internal/platform/umls"
)

// ConceptSource is the slice of the terminology client the engine needs.
type ConceptSource interface {
	GetDetails(ctx context.Context, cui string) (*umls.ConceptDetails, error)
	GetRelations(ctx context.Context, cui string) ([]umls.ConceptRelation, error)
}

// GraphWriter is the slice of the graph store the engine needs.
type GraphWriter interface {
	UpsertConcept(ctx context.Context, details umls.ConceptDetails) (string, error)
	LinkConceptToNode(ctx context.Context, nodeID, cui string, similarity float64) error
	LinkConceptHierarchy(ctx context.Context, broaderCUI, narrowerCUI string) error
	NodeTexts(ctx context.Context, label string, limit int) ([]graph.NodeText, error)
}

// Summary reports the outcome of one enrichment call. Per-mention failures
// never abort the batch; they are counted here instead.
type Summary struct {
	Linked  int `json:"linked"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Engine attaches canonical concepts, and their hierarchy, to graph nodes.
type Engine struct {
	matcher        matcher.Matcher
	concepts       ConceptSource
	store          GraphWriter
	hierarchyDepth int
	log            *logger.Logger
}

// NewEngine builds an engine. hierarchyDepth bounds how many broader/narrower
// hops are materialized around each newly linked concept; zero disables
// hierarchy expansion.
func NewEngine(m matcher.Matcher, concepts ConceptSource, store GraphWriter, hierarchyDepth int, log *logger.Logger) *Engine {
	return &Engine{
		matcher:        m,
		concepts:       concepts,
		store:          store,
		hierarchyDepth: hierarchyDepth,
		log:            log.With("component", "EnrichmentEngine"),
	}
}

// Enrich links the concepts mentioned in text to the node identified by
// nodeID. Re-enriching the same text is idempotent: the concept node and its
// edge are merged, never duplicated.
//
// Detail lookups are memoized per call, so remote call volume is bounded by
// the number of distinct CUIs, not the number of mentions. When a hierarchy
// depth is configured, each newly linked concept also has its broader and
// narrower neighborhood merged into the graph, once per CUI. An authentication
// failure stops remote lookups for the rest of the batch and is returned
// alongside the partial summary; anything persisted before it stays.
func (e *Engine) Enrich(ctx context.Context, nodeID, text string) (Summary, error) {
	var sum Summary

	mentions := e.matcher.Match(text)
	if len(mentions) == 0 {
		return sum, nil
	}

	memo := map[string]*umls.ConceptDetails{}
	expanded := map[string]bool{}
	var authErr error

	for _, m := range mentions {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}

		details, cached := memo[m.CUI]
		if !cached {
			if authErr != nil {
				sum.Skipped++
				continue
			}
			var err error
			details, err = e.concepts.GetDetails(ctx, m.CUI)
			if err != nil {
				if ragerr.IsKind(err, ragerr.KindAuthFailed) {
					e.log.Error("terminology auth failed; stopping lookups for batch", "cui", m.CUI)
					authErr = err
					sum.Skipped++
					continue
				}
				e.log.Warn("concept details lookup failed", "cui", m.CUI, "error", err)
				details = nil
			}
			memo[m.CUI] = details
		}
		if details == nil {
			sum.Skipped++
			continue
		}

		if err := e.linkMention(ctx, nodeID, m, *details); err != nil {
			sum.Failed++
			e.log.Warn("concept link failed", "cui", m.CUI, "node", nodeID, "error", err)
			continue
		}
		sum.Linked++

		if e.hierarchyDepth > 0 && authErr == nil && !expanded[m.CUI] {
			expanded[m.CUI] = true
			if err := e.ExpandHierarchy(ctx, m.CUI, e.hierarchyDepth); err != nil {
				if ragerr.IsKind(err, ragerr.KindAuthFailed) {
					authErr = err
					continue
				}
				e.log.Warn("hierarchy expansion failed", "cui", m.CUI, "error", err)
			}
		}
	}

	e.log.Debug("enrichment summary",
		"node", nodeID,
		"mentions", len(mentions),
		"linked", sum.Linked,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
	)
	return sum, authErr
}

func (e *Engine) linkMention(ctx context.Context, nodeID string, m matcher.Mention, details umls.ConceptDetails) error {
	if _, err := e.store.UpsertConcept(ctx, details); err != nil {
		return fmt.Errorf("upsert concept: %w", err)
	}
	if err := e.store.LinkConceptToNode(ctx, nodeID, m.CUI, m.Confidence); err != nil {
		return fmt.Errorf("link concept: %w", err)
	}
	return nil
}

// ExpandHierarchy walks the broader/narrower neighborhood of a concept up to
// depth hops, upserting each related concept and merging directed
// BROADER_THAN edges. A visited set keyed by CUI guards against cycles and
// repeated neighbors: each CUI is expanded at most once per call.
func (e *Engine) ExpandHierarchy(ctx context.Context, cui string, depth int) error {
	if depth <= 0 {
		depth = 1
	}

	visited := map[string]bool{cui: true}
	frontier := []string{cui}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, current := range frontier {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			relations, err := e.concepts.GetRelations(ctx, current)
			if err != nil {
				if ragerr.IsKind(err, ragerr.KindAuthFailed) {
					return err
				}
				e.log.Warn("relations lookup failed", "cui", current, "error", err)
				continue
			}

			for _, rel := range relations {
				related := rel.RelatedCUI
				if related == "" || visited[related] {
					continue
				}
				visited[related] = true

				details, err := e.concepts.GetDetails(ctx, related)
				if err != nil {
					if ragerr.IsKind(err, ragerr.KindAuthFailed) {
						return err
					}
					continue
				}
				if details == nil {
					continue
				}
				if _, err := e.store.UpsertConcept(ctx, *details); err != nil {
					e.log.Warn("hierarchy concept upsert failed", "cui", related, "error", err)
					continue
				}

				var linkErr error
				switch rel.Kind {
				case umls.RelationBroader:
					linkErr = e.store.LinkConceptHierarchy(ctx, related, current)
				case umls.RelationNarrower:
					linkErr = e.store.LinkConceptHierarchy(ctx, current, related)
				}
				if linkErr != nil {
					e.log.Warn("hierarchy link failed", "cui", current, "related", related, "error", linkErr)
					continue
				}
				next = append(next, related)
			}
		}
		frontier = next
	}
	return nil
}

// SweepResult accumulates per-node summaries of an enrichment sweep.
type SweepResult struct {
	Nodes   int
	Linked  int
	Skipped int
	Failed  int
	Errors  int
}

// EnrichAllNodes enriches every non-concept node's text content, up to limit
// nodes. Per-node failures are counted and the sweep continues; an
// authentication failure aborts the sweep.
func (e *Engine) EnrichAllNodes(ctx context.Context, limit int) (SweepResult, error) {
	return e.sweep(ctx, "", limit)
}

// EnrichNodesByLabel restricts the sweep to nodes carrying the given label.
func (e *Engine) EnrichNodesByLabel(ctx context.Context, label string, limit int) (SweepResult, error) {
	return e.sweep(ctx, label, limit)
}

func (e *Engine) sweep(ctx context.Context, label string, limit int) (SweepResult, error) {
	var res SweepResult

	nodes, err := e.store.NodeTexts(ctx, label, limit)
	if err != nil {
		return res, err
	}
	e.log.Info("starting enrichment sweep", "label", label, "nodes", len(nodes))

	for _, node := range nodes {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		sum, err := e.Enrich(ctx, node.UUID, node.Text)
		res.Nodes++
		res.Linked += sum.Linked
		res.Skipped += sum.Skipped
		res.Failed += sum.Failed
		if err != nil {
			if ragerr.IsKind(err, ragerr.KindAuthFailed) {
				return res, err
			}
			res.Errors++
			e.log.Warn("node enrichment failed", "node", node.UUID, "error", err)
		}
	}

	e.log.Info("enrichment sweep complete",
		"nodes", res.Nodes,
		"linked", res.Linked,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"errors", res.Errors,
	)
	return res, nil
}
