package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/medgraph-backend/internal/platform/envutil"
)

// Config carries every tunable the backend needs. It is loaded once at startup
// and passed down explicitly; no package reads the environment after Load.
type Config struct {
	Mode string

	Neo4j   Neo4jConfig
	UMLS    UMLSConfig
	OpenAI  OpenAIConfig
	Redis   RedisConfig
	Matcher MatcherConfig
	Enrich  EnrichConfig
	Search  SearchConfig
	Ingest  IngestConfig
	Server  ServerConfig
}

type Neo4jConfig struct {
	URI         string
	User        string
	Password    string
	Database    string
	Timeout     time.Duration
	MaxPoolSize int
}

type UMLSConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	MaxRetries      int
	Timeout         time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type MatcherConfig struct {
	DictionaryPath string
	MinConfidence  float64
}

type EnrichConfig struct {
	HierarchyDepth int
}

type SearchConfig struct {
	DefaultFactLimit   int
	DefaultEntityLimit int
}

type IngestConfig struct {
	CorpusPath    string
	MinTextLength int
	MaxTextLength int
}

type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

func Load() Config {
	return Config{
		Mode: envutil.Str("APP_MODE", "dev"),
		Neo4j: Neo4jConfig{
			URI:         envutil.Str("NEO4J_URI", "bolt://localhost:7687"),
			User:        envutil.Str("NEO4J_USER", "neo4j"),
			Password:    envutil.Str("NEO4J_PASSWORD", ""),
			Database:    envutil.Str("NEO4J_DATABASE", ""),
			Timeout:     envutil.Seconds("NEO4J_TIMEOUT_SECONDS", 10*time.Second),
			MaxPoolSize: envutil.Int("NEO4J_MAX_POOL_SIZE", 50),
		},
		UMLS: UMLSConfig{
			APIKey:  envutil.Str("UMLS_API_KEY", ""),
			BaseURL: envutil.Str("UMLS_BASE_URL", "https://uts-ws.nlm.nih.gov/rest"),
			Timeout: envutil.Seconds("UMLS_TIMEOUT_SECONDS", 15*time.Second),
		},
		OpenAI: OpenAIConfig{
			APIKey:          envutil.Str("OPENAI_API_KEY", ""),
			BaseURL:         envutil.Str("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:           envutil.Str("OPENAI_MODEL", "gpt-4o"),
			Temperature:     envutil.Float("OPENAI_TEMPERATURE", 0.2),
			MaxOutputTokens: envutil.Int("OPENAI_MAX_OUTPUT_TOKENS", 1000),
			MaxRetries:      envutil.Int("OPENAI_MAX_RETRIES", 3),
			Timeout:         envutil.Seconds("OPENAI_TIMEOUT_SECONDS", 120*time.Second),
		},
		Redis: RedisConfig{
			Addr:     envutil.Str("REDIS_ADDR", ""),
			Password: envutil.Str("REDIS_PASSWORD", ""),
			DB:       envutil.Int("REDIS_DB", 0),
			TTL:      envutil.Seconds("REDIS_CONCEPT_TTL_SECONDS", 24*60*60*time.Second),
		},
		Matcher: MatcherConfig{
			DictionaryPath: envutil.Str("CONCEPT_DICTIONARY_PATH", ""),
			MinConfidence:  envutil.Float("CONCEPT_MIN_CONFIDENCE", 0.7),
		},
		Enrich: EnrichConfig{
			HierarchyDepth: envutil.Int("ENRICH_HIERARCHY_DEPTH", 1),
		},
		Search: SearchConfig{
			DefaultFactLimit:   envutil.Int("SEARCH_FACT_LIMIT", 10),
			DefaultEntityLimit: envutil.Int("SEARCH_ENTITY_LIMIT", 5),
		},
		Ingest: IngestConfig{
			CorpusPath:    envutil.Str("PUBMED_CORPUS_PATH", "data/pubmed/pubmed_corpus.json"),
			MinTextLength: envutil.Int("INGEST_MIN_TEXT_LENGTH", 100),
			MaxTextLength: envutil.Int("INGEST_MAX_TEXT_LENGTH", 4096),
		},
		Server: ServerConfig{
			Addr:        envutil.Str("SERVER_ADDR", ":8080"),
			CORSOrigins: splitCSV(envutil.Str("CORS_ORIGINS", "http://localhost:3000")),
		},
	}
}

// Validate reports everything that is missing for a full deployment. The
// matcher dictionary, UMLS key, and Redis address are optional capabilities;
// their absence degrades behavior but is not an error.
func (c Config) Validate() error {
	var missing []string
	if c.Neo4j.Password == "" {
		missing = append(missing, "NEO4J_PASSWORD")
	}
	if c.OpenAI.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
