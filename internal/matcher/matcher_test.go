package matcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yungbote/medgraph-backend/internal/config"
	"github.com/yungbote/medgraph-backend/internal/platform/logger"
)

func writeDict(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dict.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write dict: %v", err)
	}
	return path
}

func newMatcher(t *testing.T, yaml string, minConfidence float64) *DictMatcher {
	t.Helper()
	return New(config.MatcherConfig{
		DictionaryPath: writeDict(t, yaml),
		MinConfidence:  minConfidence,
	}, logger.NewNop())
}

func TestMatch_FindsPhrasesWithOffsets(t *testing.T) {
	m := newMatcher(t, `
concepts:
  - cui: C0027051
    name: Myocardial Infarction
    terms: [myocardial infarction]
  - cui: C0020538
    name: Hypertension
    terms: [hypertension]
`, 0.5)

	text := "Patient presents with acute myocardial infarction and hypertension."
	got := m.Match(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 mentions, got %#v", got)
	}
	if got[0].CUI != "C0027051" || got[0].SurfaceForm != "myocardial infarction" {
		t.Fatalf("unexpected first mention: %#v", got[0])
	}
	if text[got[0].Start:got[0].End] != got[0].SurfaceForm {
		t.Fatalf("offsets do not cover surface form: %#v", got[0])
	}
	if got[1].CUI != "C0020538" {
		t.Fatalf("unexpected second mention: %#v", got[1])
	}
}

func TestMatch_LongestSpanWinsOverlap(t *testing.T) {
	m := newMatcher(t, `
concepts:
  - cui: C0004057
    terms: [aspirin]
  - cui: C0983882
    terms: [aspirin tablet]
`, 0.5)

	got := m.Match("prescribed an aspirin tablet daily")
	if len(got) != 1 {
		t.Fatalf("expected 1 mention, got %#v", got)
	}
	if got[0].CUI != "C0983882" || got[0].SurfaceForm != "aspirin tablet" {
		t.Fatalf("longest span should win: %#v", got[0])
	}
}

func TestMatch_TieBreaksOnLowestCUI(t *testing.T) {
	dict := `
concepts:
  - cui: C0000002
    terms: [mrsa]
  - cui: C0000001
    terms: [mrsa]
`
	// Same span, same confidence, same length: lowest CUI must win, and the
	// result must be stable across repeated runs.
	for i := 0; i < 5; i++ {
		m := newMatcher(t, dict, 0.5)
		got := m.Match("infection with MRSA confirmed")
		if len(got) != 1 || got[0].CUI != "C0000001" {
			t.Fatalf("run %d: expected C0000001, got %#v", i, got)
		}
	}
}

func TestMatch_FiltersBelowConfidenceThreshold(t *testing.T) {
	m := newMatcher(t, `
concepts:
  - cui: C0011849
    terms: [diabetes]
    score: 0.4
  - cui: C0020538
    terms: [hypertension]
    score: 0.9
`, 0.7)

	got := m.Match("diabetes and hypertension")
	if len(got) != 1 || got[0].CUI != "C0020538" {
		t.Fatalf("low-confidence mention should be discarded: %#v", got)
	}
}

func TestMatch_CaseAndPunctuationInsensitive(t *testing.T) {
	m := newMatcher(t, `
concepts:
  - cui: C0004057
    terms: [acetylsalicylic acid]
`, 0.5)

	got := m.Match("Treated with Acetylsalicylic-Acid, 100mg.")
	if len(got) != 1 || got[0].CUI != "C0004057" {
		t.Fatalf("expected normalized match, got %#v", got)
	}
}

func TestMatch_UnavailableMatcherReturnsEmpty(t *testing.T) {
	m := New(config.MatcherConfig{DictionaryPath: "/nonexistent/dict.yaml"}, logger.NewNop())
	if got := m.Match("aspirin"); got != nil {
		t.Fatalf("unavailable matcher must degrade to empty, got %#v", got)
	}

	m = New(config.MatcherConfig{}, logger.NewNop())
	if got := m.Match("aspirin"); got != nil {
		t.Fatalf("unconfigured matcher must degrade to empty, got %#v", got)
	}
}
