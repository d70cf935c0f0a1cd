package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/medgraph-backend/internal/config"
	"github.com/yungbote/medgraph-backend/internal/platform/logger"
)

type recordedDoc struct {
	name    string
	content string
	source  string
	refTime time.Time
}

type fakeDocStore struct {
	docs    []recordedDoc
	cleared bool
}

func (f *fakeDocStore) UpsertDocument(ctx context.Context, name, content, source string, referenceTime time.Time) (string, error) {
	f.docs = append(f.docs, recordedDoc{name: name, content: content, source: source, refTime: referenceTime})
	return "doc-uuid", nil
}

func (f *fakeDocStore) ClearDatabase(ctx context.Context) error {
	f.cleared = true
	return nil
}

var ingestCfg = config.IngestConfig{MinTextLength: 10, MaxTextLength: 50}

func writeCorpus(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	return path
}

func TestImportCorpus_BuildsContentAndSource(t *testing.T) {
	path := writeCorpus(t, `{
		"pmid1": {
			"paper_title": "Antimicrobial peptides",
			"paper_authors": "Doe J",
			"paper_journal": "Nature",
			"paper_year": "2021",
			"paper_abstract": "AMPs kill bacteria.",
			"paper_full_text": "This full text is long enough to keep."
		}
	}`)

	store := &fakeDocStore{}
	res, err := NewImporter(store, ingestCfg, logger.NewNop()).ImportCorpus(context.Background(), path, true)
	if err != nil {
		t.Fatalf("ImportCorpus: %v", err)
	}
	if res.Imported != 1 || res.Failed != 0 {
		t.Fatalf("unexpected result: %#v", res)
	}
	if !store.cleared {
		t.Fatal("expected database clear before import")
	}

	doc := store.docs[0]
	if doc.name != "Antimicrobial peptides" {
		t.Fatalf("unexpected name: %q", doc.name)
	}
	if doc.source != "Nature, 2021" {
		t.Fatalf("unexpected source: %q", doc.source)
	}
	if !strings.Contains(doc.content, "Abstract: AMPs kill bacteria.") {
		t.Fatalf("abstract missing:\n%s", doc.content)
	}
	if !strings.Contains(doc.content, "This full text") {
		t.Fatalf("full text missing:\n%s", doc.content)
	}
	want := time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC)
	if !doc.refTime.Equal(want) {
		t.Fatalf("reference time %v, want %v", doc.refTime, want)
	}
}

func TestImportCorpus_UnparsableYearDefaultsToNow(t *testing.T) {
	path := writeCorpus(t, `{
		"pmid1": {"paper_title": "T", "paper_year": "unknown"}
	}`)

	store := &fakeDocStore{}
	before := time.Now().UTC()
	if _, err := NewImporter(store, ingestCfg, logger.NewNop()).ImportCorpus(context.Background(), path, false); err != nil {
		t.Fatalf("ImportCorpus: %v", err)
	}
	after := time.Now().UTC()

	got := store.docs[0].refTime
	if got.Before(before) || got.After(after) {
		t.Fatalf("reference time %v not defaulted to now", got)
	}
	if store.cleared {
		t.Fatal("keep mode must not clear the database")
	}
}

func TestClipFullText(t *testing.T) {
	im := NewImporter(&fakeDocStore{}, ingestCfg, logger.NewNop())

	if got := im.clipFullText("too short"); got != "" {
		t.Fatalf("short full text must be dropped, got %q", got)
	}
	long := strings.Repeat("a", 80)
	if got := im.clipFullText(long); len(got) != 50 {
		t.Fatalf("long full text must clip to max, got %d chars", len(got))
	}
	ok := strings.Repeat("b", 30)
	if got := im.clipFullText(ok); got != ok {
		t.Fatalf("in-range full text must pass through, got %q", got)
	}
}

func TestImportCorpus_MissingTitleFallsBackToID(t *testing.T) {
	path := writeCorpus(t, `{"pmid42": {"paper_abstract": "A"}}`)

	store := &fakeDocStore{}
	if _, err := NewImporter(store, ingestCfg, logger.NewNop()).ImportCorpus(context.Background(), path, false); err != nil {
		t.Fatalf("ImportCorpus: %v", err)
	}
	if store.docs[0].name != "pmid42" {
		t.Fatalf("expected paper id fallback, got %q", store.docs[0].name)
	}
	if store.docs[0].source != "Unknown Journal, Unknown Year" {
		t.Fatalf("unexpected source: %q", store.docs[0].source)
	}
}
