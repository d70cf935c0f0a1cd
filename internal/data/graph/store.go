package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/medgraph-backend/internal/platform/logger"
	"github.com/yungbote/medgraph-backend/internal/platform/neo4jdb"
	"github.com/yungbote/medgraph-backend/internal/platform/ragerr"
	"github.com/yungbote/medgraph-backend/internal/platform/umls"
)

// Fact is one relevance-ranked statement linking two entities. Every field is
// populated with a named default at this boundary; callers never see "maybe
// missing" attributes.
type Fact struct {
	UUID         string
	Text         string
	SourceNodeID string
	TargetNodeID string
	SourceName   string
	TargetName   string
	ValidFrom    *time.Time
	ValidUntil   *time.Time
}

// Entity is one relevance-ranked node from entity search.
type Entity struct {
	UUID       string
	Name       string
	Summary    string
	Labels     []string
	CreatedAt  time.Time
	Attributes map[string]any
}

// NodeText is the text content of a node, assembled at the adapter boundary
// for enrichment sweeps.
type NodeText struct {
	UUID string
	Name string
	Text string
}

// Store exposes the graph operations the pipeline needs. All queries are
// parameterized; identifiers are never interpolated into Cypher text.
type Store struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewStore(client *neo4jdb.Client, log *logger.Logger) *Store {
	return &Store{
		client: client,
		log:    log.With("component", "GraphStore"),
	}
}

// EnsureSchema creates constraints and fulltext indexes. Best-effort: schema
// statements may fail for restricted users, which is logged and tolerated.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE CONSTRAINT concept_cui_unique IF NOT EXISTS FOR (c:Concept) REQUIRE c.concept_id IS UNIQUE`,
		`CREATE INDEX node_uuid_idx IF NOT EXISTS FOR (n:Document) ON (n.uuid)`,
		`CREATE FULLTEXT INDEX entity_search IF NOT EXISTS FOR (n:Document|Entity|Concept) ON EACH [n.name, n.summary, n.content]`,
		`CREATE FULLTEXT INDEX fact_text IF NOT EXISTS FOR ()-[r:RELATES_TO]-() ON EACH [r.fact]`,
	}
	for _, stmt := range stmts {
		if err := s.write(ctx, stmt, nil); err != nil {
			if ragerr.IsKind(err, ragerr.KindConnectionClosed) {
				return err
			}
			s.log.Warn("schema init failed (continuing)", "error", err)
		}
	}
	return nil
}

// UpsertDocument creates a new document node. Deliberately not idempotent by
// content: each call is one episode, identified by a fresh uuid.
func (s *Store) UpsertDocument(ctx context.Context, name, content, sourceDescription string, referenceTime time.Time) (string, error) {
	id := uuid.NewString()
	err := s.write(ctx, `
CREATE (d:Document:Entity {
  uuid: $uuid,
  name: $name,
  content: $content,
  summary: $content,
  source_description: $source,
  reference_time: $reference_time,
  created_at: $created_at
})
`, map[string]any{
		"uuid":           id,
		"name":           name,
		"content":        content,
		"source":         sourceDescription,
		"reference_time": referenceTime.UTC(),
		"created_at":     time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpsertConcept creates or confirms the concept node for details.CUI. Node
// identity is keyed on the canonical identifier, so repeated calls resolve to
// the same node and return the same uuid.
func (s *Store) UpsertConcept(ctx context.Context, details umls.ConceptDetails) (string, error) {
	if details.CUI == "" {
		return "", fmt.Errorf("graph: upsert concept: missing cui")
	}
	records, err := s.writeReturning(ctx, `
MERGE (c:Concept {concept_id: $cui})
ON CREATE SET c.uuid = $uuid, c.created_at = $now
SET c.name = $name,
    c.canonical_name = $canonical_name,
    c.semantic_types = $semantic_types,
    c.definitions = $definitions,
    c.source_description = 'UMLS Metathesaurus'
RETURN c.uuid AS uuid
`, map[string]any{
		"cui":            details.CUI,
		"uuid":           uuid.NewString(),
		"now":            time.Now().UTC(),
		"name":           "UMLS_" + details.CUI,
		"canonical_name": details.Name,
		"semantic_types": toAnySlice(details.SemanticTypes),
		"definitions":    toAnySlice(details.Definitions),
	})
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", fmt.Errorf("graph: upsert concept %s returned no row", details.CUI)
	}
	return stringValue(records[0], "uuid"), nil
}

// LinkConceptToNode merges a HAS_CONCEPT edge from an arbitrary node to a
// concept. Idempotent for a given (node, concept) pair; similarity is updated
// in place.
func (s *Store) LinkConceptToNode(ctx context.Context, nodeID, cui string, similarity float64) error {
	return s.write(ctx, `
MATCH (n {uuid: $node_uuid})
MATCH (c:Concept {concept_id: $cui})
MERGE (n)-[r:HAS_CONCEPT]->(c)
SET r.similarity = $similarity
`, map[string]any{
		"node_uuid":  nodeID,
		"cui":        cui,
		"similarity": similarity,
	})
}

// LinkConceptHierarchy merges a directed BROADER_THAN edge between two
// concept nodes. Idempotent.
func (s *Store) LinkConceptHierarchy(ctx context.Context, broaderCUI, narrowerCUI string) error {
	return s.write(ctx, `
MATCH (p:Concept {concept_id: $broader})
MATCH (c:Concept {concept_id: $narrower})
MERGE (p)-[:BROADER_THAN]->(c)
`, map[string]any{
		"broader":  broaderCUI,
		"narrower": narrowerCUI,
	})
}

// SearchFacts runs a relevance-ranked fulltext search over fact edges. On
// internal failure it returns an empty slice plus a SearchDegraded error so
// callers can proceed with degraded context.
func (s *Store) SearchFacts(ctx context.Context, query string, limit int) ([]Fact, error) {
	records, err := s.read(ctx, `
CALL db.index.fulltext.queryRelationships('fact_text', $query) YIELD relationship, score
WITH relationship, score
ORDER BY score DESC
LIMIT $limit
MATCH (src)-[relationship]->(dst)
RETURN relationship.uuid AS uuid,
       relationship.fact AS fact,
       relationship.valid_at AS valid_at,
       relationship.invalid_at AS invalid_at,
       src.uuid AS source_uuid,
       src.name AS source_name,
       dst.uuid AS target_uuid,
       dst.name AS target_name
`, map[string]any{"query": query, "limit": int64(limit)})
	if err != nil {
		if ragerr.IsKind(err, ragerr.KindConnectionClosed) {
			return nil, err
		}
		s.log.Warn("fact search degraded to empty", "query", truncate(query, 80), "error", err)
		return []Fact{}, ragerr.New(ragerr.KindSearchDegraded, err)
	}

	facts := make([]Fact, 0, len(records))
	for _, rec := range records {
		facts = append(facts, Fact{
			UUID:         stringValue(rec, "uuid"),
			Text:         stringValue(rec, "fact"),
			SourceNodeID: stringValue(rec, "source_uuid"),
			TargetNodeID: stringValue(rec, "target_uuid"),
			SourceName:   stringValue(rec, "source_name"),
			TargetName:   stringValue(rec, "target_name"),
			ValidFrom:    timeValue(rec, "valid_at"),
			ValidUntil:   timeValue(rec, "invalid_at"),
		})
	}
	return facts, nil
}

// SearchEntities runs a relevance-ranked fulltext search over nodes. Same
// degrade semantics as SearchFacts.
func (s *Store) SearchEntities(ctx context.Context, query string, limit int) ([]Entity, error) {
	records, err := s.read(ctx, `
CALL db.index.fulltext.queryNodes('entity_search', $query) YIELD node, score
RETURN node, score
ORDER BY score DESC
LIMIT $limit
`, map[string]any{"query": query, "limit": int64(limit)})
	if err != nil {
		if ragerr.IsKind(err, ragerr.KindConnectionClosed) {
			return nil, err
		}
		s.log.Warn("entity search degraded to empty", "query", truncate(query, 80), "error", err)
		return []Entity{}, ragerr.New(ragerr.KindSearchDegraded, err)
	}

	entities := make([]Entity, 0, len(records))
	for _, rec := range records {
		raw, ok := rec.Get("node")
		if !ok {
			continue
		}
		node, ok := raw.(neo4j.Node)
		if !ok {
			continue
		}
		entities = append(entities, entityFromNode(node))
	}
	return entities, nil
}

// GetNodeText loads one node's text content by uuid. Returns nil when the
// node does not exist.
func (s *Store) GetNodeText(ctx context.Context, nodeID string) (*NodeText, error) {
	records, err := s.read(ctx, `
MATCH (n {uuid: $uuid})
RETURN n
LIMIT 1
`, map[string]any{"uuid": nodeID})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	raw, ok := records[0].Get("n")
	if !ok {
		return nil, nil
	}
	node, ok := raw.(neo4j.Node)
	if !ok {
		return nil, nil
	}
	nt := nodeTextFromNode(node)
	return &nt, nil
}

// NodeTexts streams node text content for enrichment sweeps. An empty label
// matches all nodes except concepts (re-enriching concept nodes with
// themselves is never useful).
func (s *Store) NodeTexts(ctx context.Context, label string, limit int) ([]NodeText, error) {
	if limit <= 0 {
		limit = 1000
	}
	records, err := s.read(ctx, `
MATCH (n)
WHERE NOT n:Concept AND ($label = '' OR $label IN labels(n))
RETURN n
LIMIT $limit
`, map[string]any{"label": label, "limit": int64(limit)})
	if err != nil {
		return nil, err
	}
	out := make([]NodeText, 0, len(records))
	for _, rec := range records {
		raw, ok := rec.Get("n")
		if !ok {
			continue
		}
		node, ok := raw.(neo4j.Node)
		if !ok {
			continue
		}
		nt := nodeTextFromNode(node)
		if nt.UUID == "" || nt.Text == "" {
			continue
		}
		out = append(out, nt)
	}
	return out, nil
}

// ClearDatabase removes every node and relationship. Used by the importer
// before a fresh corpus load.
func (s *Store) ClearDatabase(ctx context.Context) error {
	s.log.Warn("clearing graph database")
	return s.write(ctx, `MATCH (n) DETACH DELETE n`, nil)
}

// ---- session helpers ----

func (s *Store) write(ctx context.Context, cypher string, params map[string]any) error {
	_, err := s.writeReturning(ctx, cypher, params)
	return err
}

func (s *Store) writeReturning(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	driver, err := s.client.Driver()
	if err != nil {
		return nil, err
	}
	session := driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	res, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		cursor, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return cursor.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	records, _ := res.([]*neo4j.Record)
	return records, nil
}

func (s *Store) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	driver, err := s.client.Driver()
	if err != nil {
		return nil, err
	}
	session := driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	res, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		cursor, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return cursor.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	records, _ := res.([]*neo4j.Record)
	return records, nil
}

// ---- record decoding (missing-attribute handling lives here, not in callers) ----

func entityFromNode(node neo4j.Node) Entity {
	props := node.Props
	ent := Entity{
		UUID:       stringProp(props, "uuid"),
		Name:       stringProp(props, "name"),
		Summary:    stringProp(props, "summary"),
		Labels:     node.Labels,
		Attributes: map[string]any{},
	}
	if ent.Name == "" {
		ent.Name = stringProp(props, "title")
	}
	if ts := timeProp(props, "created_at"); ts != nil {
		ent.CreatedAt = *ts
	}
	for k, v := range props {
		switch k {
		case "uuid", "name", "summary", "created_at", "content":
		default:
			ent.Attributes[k] = v
		}
	}
	return ent
}

func nodeTextFromNode(node neo4j.Node) NodeText {
	props := node.Props
	nt := NodeText{
		UUID: stringProp(props, "uuid"),
		Name: stringProp(props, "name"),
	}
	for _, field := range []string{"summary", "content", "episode_body", "description", "text"} {
		if v := stringProp(props, field); v != "" {
			nt.Text = v
			break
		}
	}
	if nt.Text == "" {
		nt.Text = nt.Name
	}
	return nt
}

func stringValue(rec *neo4j.Record, key string) string {
	raw, ok := rec.Get(key)
	if !ok || raw == nil {
		return ""
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", raw)
}

func timeValue(rec *neo4j.Record, key string) *time.Time {
	raw, ok := rec.Get(key)
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case time.Time:
		return &v
	case string:
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return &ts
		}
	}
	return nil
}

func stringProp(props map[string]any, key string) string {
	if raw, ok := props[key]; ok {
		if s, ok := raw.(string); ok {
			return s
		}
	}
	return ""
}

func timeProp(props map[string]any, key string) *time.Time {
	if raw, ok := props[key]; ok {
		switch v := raw.(type) {
		case time.Time:
			return &v
		case string:
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				return &ts
			}
		}
	}
	return nil
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
