package stats

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/medgraph-backend/internal/data/graph"
)

// Source is the slice of the graph store the collector reads.
type Source interface {
	CountNodes(ctx context.Context) (int64, error)
	CountRelationships(ctx context.Context) (int64, error)
	LabelDistribution(ctx context.Context) (map[string]int64, error)
	RelationshipDistribution(ctx context.Context) (map[string]int64, error)
	ConceptStats(ctx context.Context) (graph.ConceptCounts, error)
}

// Report is a snapshot of graph size and enrichment coverage.
type Report struct {
	TotalNodes         int64
	TotalRelationships int64
	Labels             map[string]int64
	RelationshipTypes  map[string]int64
	Concepts           graph.ConceptCounts
}

func Collect(ctx context.Context, src Source) (Report, error) {
	var rep Report
	var err error

	if rep.TotalNodes, err = src.CountNodes(ctx); err != nil {
		return rep, fmt.Errorf("stats: count nodes: %w", err)
	}
	if rep.TotalRelationships, err = src.CountRelationships(ctx); err != nil {
		return rep, fmt.Errorf("stats: count relationships: %w", err)
	}
	if rep.Labels, err = src.LabelDistribution(ctx); err != nil {
		return rep, fmt.Errorf("stats: label distribution: %w", err)
	}
	if rep.RelationshipTypes, err = src.RelationshipDistribution(ctx); err != nil {
		return rep, fmt.Errorf("stats: relationship distribution: %w", err)
	}
	if rep.Concepts, err = src.ConceptStats(ctx); err != nil {
		return rep, fmt.Errorf("stats: concept stats: %w", err)
	}
	return rep, nil
}

// String renders a log-friendly multi-line report with distributions in
// descending count order.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Graph Statistics\n")
	fmt.Fprintf(&b, "  total nodes:         %d\n", r.TotalNodes)
	fmt.Fprintf(&b, "  total relationships: %d\n", r.TotalRelationships)

	if len(r.Labels) > 0 {
		fmt.Fprintf(&b, "  labels:\n")
		for _, kv := range sortedByCount(r.Labels) {
			fmt.Fprintf(&b, "    %-24s %d\n", kv.key, kv.count)
		}
	}
	if len(r.RelationshipTypes) > 0 {
		fmt.Fprintf(&b, "  relationship types:\n")
		for _, kv := range sortedByCount(r.RelationshipTypes) {
			fmt.Fprintf(&b, "    %-24s %d\n", kv.key, kv.count)
		}
	}

	fmt.Fprintf(&b, "  concepts:            %d\n", r.Concepts.Concepts)
	fmt.Fprintf(&b, "  linked nodes:        %d\n", r.Concepts.LinkedNodes)
	fmt.Fprintf(&b, "  hierarchy edges:     %d", r.Concepts.HierarchyEdges)
	return b.String()
}

type kv struct {
	key   string
	count int64
}

func sortedByCount(m map[string]int64) []kv {
	out := make([]kv, 0, len(m))
	for k, v := range m {
		out = append(out, kv{key: k, count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	return out
}
