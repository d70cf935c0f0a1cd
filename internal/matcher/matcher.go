package matcher

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/medgraph-backend/internal/config"
	"github.com/yungbote/medgraph-backend/internal/platform/logger"
)

// Mention is one detected occurrence of a concept surface form in a text.
// Offsets are byte offsets into the original input.
type Mention struct {
	SurfaceForm string
	CUI         string
	Confidence  float64
	Start       int
	End         int
}

// Matcher extracts concept mentions from free text. Implementations never
// fail: an unavailable matcher returns no mentions.
type Matcher interface {
	Match(text string) []Mention
}

type dictEntry struct {
	CUI   string   `yaml:"cui"`
	Name  string   `yaml:"name"`
	Terms []string `yaml:"terms"`
	Score float64  `yaml:"score"`
}

type dictFile struct {
	Concepts []dictEntry `yaml:"concepts"`
}

type candidate struct {
	cui        string
	confidence float64
}

// DictMatcher is a normalized-phrase dictionary matcher. It scans token
// n-grams longest-first and keeps the single best candidate per span.
type DictMatcher struct {
	terms         map[string][]candidate
	maxPhraseLen  int
	minConfidence float64
	available     bool
	log           *logger.Logger
}

// New loads the dictionary at cfg.DictionaryPath. A missing or unreadable
// dictionary yields an unavailable matcher whose Match returns no mentions;
// that is a degraded capability, not an error, since downstream consumers
// treat "no mentions" as valid.
func New(cfg config.MatcherConfig, log *logger.Logger) *DictMatcher {
	m := &DictMatcher{
		terms:         map[string][]candidate{},
		minConfidence: cfg.MinConfidence,
		log:           log.With("component", "ConceptMatcher"),
	}
	if cfg.DictionaryPath == "" {
		m.log.Warn("concept dictionary not configured; mention extraction disabled")
		return m
	}
	if err := m.load(cfg.DictionaryPath); err != nil {
		m.log.Warn("concept dictionary unavailable; mention extraction disabled",
			"path", cfg.DictionaryPath,
			"error", err,
		)
		return m
	}
	m.available = true
	m.log.Info("concept dictionary loaded", "phrases", len(m.terms))
	return m
}

func (m *DictMatcher) load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var df dictFile
	if err := yaml.Unmarshal(raw, &df); err != nil {
		return fmt.Errorf("parse dictionary: %w", err)
	}
	for _, e := range df.Concepts {
		if e.CUI == "" {
			continue
		}
		score := e.Score
		if score <= 0 || score > 1 {
			score = 1.0
		}
		terms := e.Terms
		if len(terms) == 0 && e.Name != "" {
			terms = []string{e.Name}
		}
		for _, t := range terms {
			norm := normalizePhrase(t)
			if norm == "" {
				continue
			}
			m.terms[norm] = append(m.terms[norm], candidate{cui: e.CUI, confidence: score})
			if n := len(strings.Fields(norm)); n > m.maxPhraseLen {
				m.maxPhraseLen = n
			}
		}
	}
	if len(m.terms) == 0 {
		return fmt.Errorf("dictionary has no usable phrases")
	}
	return nil
}

// Match returns non-overlapping mentions at or above the configured
// confidence threshold, in input order. Overlap resolution is deterministic:
// highest confidence wins, ties go to the longest surface form, then to the
// lexicographically lowest CUI.
func (m *DictMatcher) Match(text string) []Mention {
	if !m.available || strings.TrimSpace(text) == "" {
		return nil
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	var found []Mention
	for i := 0; i < len(tokens); i++ {
		maxLen := m.maxPhraseLen
		if rest := len(tokens) - i; rest < maxLen {
			maxLen = rest
		}
		for n := maxLen; n >= 1; n-- {
			phrase := normalizedSpan(tokens[i : i+n])
			cands, ok := m.terms[phrase]
			if !ok {
				continue
			}
			best := bestCandidate(cands)
			if best.confidence < m.minConfidence {
				continue
			}
			start := tokens[i].start
			end := tokens[i+n-1].end
			found = append(found, Mention{
				SurfaceForm: text[start:end],
				CUI:         best.cui,
				Confidence:  best.confidence,
				Start:       start,
				End:         end,
			})
		}
	}

	return resolveOverlaps(found)
}

func bestCandidate(cands []candidate) candidate {
	best := cands[0]
	for _, c := range cands[1:] {
		if c.confidence > best.confidence ||
			(c.confidence == best.confidence && c.cui < best.cui) {
			best = c
		}
	}
	return best
}

func resolveOverlaps(found []Mention) []Mention {
	if len(found) == 0 {
		return nil
	}
	ranked := make([]Mention, len(found))
	copy(ranked, found)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if la, lb := a.End-a.Start, b.End-b.Start; la != lb {
			return la > lb
		}
		if a.CUI != b.CUI {
			return a.CUI < b.CUI
		}
		return a.Start < b.Start
	})

	var kept []Mention
	for _, cand := range ranked {
		overlaps := false
		for _, k := range kept {
			if cand.Start < k.End && k.Start < cand.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, cand)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

type token struct {
	norm  string
	start int
	end   int
}

func tokenize(text string) []token {
	var tokens []token
	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, token{
				norm:  strings.ToLower(text[start:i]),
				start: start,
				end:   i,
			})
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, token{
			norm:  strings.ToLower(text[start:]),
			start: start,
			end:   len(text),
		})
	}
	return tokens
}

func normalizedSpan(tokens []token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.norm
	}
	return strings.Join(parts, " ")
}

func normalizePhrase(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
