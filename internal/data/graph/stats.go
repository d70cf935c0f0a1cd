package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// CountNodes returns the total node count.
func (s *Store) CountNodes(ctx context.Context) (int64, error) {
	records, err := s.read(ctx, `MATCH (n) RETURN count(n) AS count`, nil)
	if err != nil {
		return 0, err
	}
	return intValue(records, "count"), nil
}

// CountRelationships returns the total relationship count.
func (s *Store) CountRelationships(ctx context.Context) (int64, error) {
	records, err := s.read(ctx, `MATCH ()-[r]->() RETURN count(r) AS count`, nil)
	if err != nil {
		return 0, err
	}
	return intValue(records, "count"), nil
}

// LabelDistribution returns node counts per label, highest first.
func (s *Store) LabelDistribution(ctx context.Context) (map[string]int64, error) {
	records, err := s.read(ctx, `
MATCH (n)
UNWIND labels(n) AS label
RETURN label, count(*) AS count
ORDER BY count DESC
`, nil)
	if err != nil {
		return nil, err
	}
	dist := map[string]int64{}
	for _, rec := range records {
		label := stringValue(rec, "label")
		if label == "" {
			continue
		}
		if raw, ok := rec.Get("count"); ok {
			if n, ok := raw.(int64); ok {
				dist[label] = n
			}
		}
	}
	return dist, nil
}

// RelationshipDistribution returns relationship counts per type, highest first.
func (s *Store) RelationshipDistribution(ctx context.Context) (map[string]int64, error) {
	records, err := s.read(ctx, `
MATCH ()-[r]->()
RETURN type(r) AS rel_type, count(*) AS count
ORDER BY count DESC
`, nil)
	if err != nil {
		return nil, err
	}
	dist := map[string]int64{}
	for _, rec := range records {
		relType := stringValue(rec, "rel_type")
		if relType == "" {
			continue
		}
		if raw, ok := rec.Get("count"); ok {
			if n, ok := raw.(int64); ok {
				dist[relType] = n
			}
		}
	}
	return dist, nil
}

// ConceptCounts summarizes enrichment coverage.
type ConceptCounts struct {
	Concepts       int64
	LinkedNodes    int64
	HierarchyEdges int64
}

func (s *Store) ConceptStats(ctx context.Context) (ConceptCounts, error) {
	var cc ConceptCounts

	records, err := s.read(ctx, `MATCH (c:Concept) RETURN count(c) AS count`, nil)
	if err != nil {
		return cc, err
	}
	cc.Concepts = intValue(records, "count")

	records, err = s.read(ctx, `
MATCH (n)-[:HAS_CONCEPT]->(:Concept)
RETURN count(DISTINCT n) AS count
`, nil)
	if err != nil {
		return cc, err
	}
	cc.LinkedNodes = intValue(records, "count")

	records, err = s.read(ctx, `
MATCH (:Concept)-[r:BROADER_THAN]->(:Concept)
RETURN count(r) AS count
`, nil)
	if err != nil {
		return cc, err
	}
	cc.HierarchyEdges = intValue(records, "count")

	return cc, nil
}

func intValue(records []*neo4j.Record, key string) int64 {
	if len(records) == 0 {
		return 0
	}
	raw, ok := records[0].Get(key)
	if !ok {
		return 0
	}
	if n, ok := raw.(int64); ok {
		return n
	}
	return 0
}
