package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/medgraph-backend/internal/config"
	"github.com/yungbote/medgraph-backend/internal/platform/logger"
)

// DocumentStore is the slice of the graph store the importer needs.
type DocumentStore interface {
	UpsertDocument(ctx context.Context, name, content, sourceDescription string, referenceTime time.Time) (string, error)
	ClearDatabase(ctx context.Context) error
}

// Paper is one record of the PubMed JSON corpus.
type Paper struct {
	Title    string `json:"paper_title"`
	Authors  string `json:"paper_authors"`
	Journal  string `json:"paper_journal"`
	Year     string `json:"paper_year"`
	Abstract string `json:"paper_abstract"`
	FullText string `json:"paper_full_text"`
}

// Result summarizes one corpus import. Per-paper failures are counted and
// the import continues.
type Result struct {
	Imported int
	Failed   int
}

// Importer loads a PubMed corpus into the graph as document nodes.
type Importer struct {
	store DocumentStore
	cfg   config.IngestConfig
	log   *logger.Logger
}

func NewImporter(store DocumentStore, cfg config.IngestConfig, log *logger.Logger) *Importer {
	return &Importer{
		store: store,
		cfg:   cfg,
		log:   log.With("component", "PubMedImporter"),
	}
}

// ImportCorpus reads the JSON corpus at path (paperID -> paper) and upserts
// one document per paper. Papers are processed in stable paperID order.
func (im *Importer) ImportCorpus(ctx context.Context, path string, clearDB bool) (Result, error) {
	var res Result

	raw, err := os.ReadFile(path)
	if err != nil {
		return res, fmt.Errorf("ingest: read corpus: %w", err)
	}
	var corpus map[string]Paper
	if err := json.Unmarshal(raw, &corpus); err != nil {
		return res, fmt.Errorf("ingest: parse corpus: %w", err)
	}
	im.log.Info("starting corpus import", "path", path, "papers", len(corpus))

	if clearDB {
		if err := im.store.ClearDatabase(ctx); err != nil {
			return res, fmt.Errorf("ingest: clear database: %w", err)
		}
	}

	ids := make([]string, 0, len(corpus))
	for id := range corpus {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err := im.importPaper(ctx, id, corpus[id]); err != nil {
			res.Failed++
			im.log.Warn("paper import failed", "paper", id, "error", err)
			continue
		}
		res.Imported++
	}

	im.log.Info("corpus import complete", "imported", res.Imported, "failed", res.Failed)
	return res, nil
}

func (im *Importer) importPaper(ctx context.Context, id string, p Paper) error {
	name := p.Title
	if name == "" {
		name = id
	}
	source := fmt.Sprintf("%s, %s",
		orDefault(p.Journal, "Unknown Journal"),
		orDefault(p.Year, "Unknown Year"),
	)

	content := im.buildContent(p)
	_, err := im.store.UpsertDocument(ctx, name, content, source, referenceTime(p.Year))
	return err
}

func (im *Importer) buildContent(p Paper) string {
	base := fmt.Sprintf("Title: %s\nAuthors: %s\nJournal: %s\nYear: %s\nAbstract: %s\n\n",
		p.Title, p.Authors, p.Journal, p.Year, p.Abstract)
	return base + im.clipFullText(p.FullText)
}

// clipFullText drops full texts shorter than the minimum (noise) and clips
// everything else to the maximum.
func (im *Importer) clipFullText(fullText string) string {
	if len(fullText) < im.cfg.MinTextLength {
		return ""
	}
	if len(fullText) > im.cfg.MaxTextLength {
		return fullText[:im.cfg.MaxTextLength]
	}
	return fullText
}

// referenceTime maps a publication year to Jan 1 of that year; missing or
// unparsable years default to now.
func referenceTime(year string) time.Time {
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil || y <= 0 {
		return time.Now().UTC()
	}
	return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
