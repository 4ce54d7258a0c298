package services

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// SimilarityScorer scores how well a candidate label fits an entity's
// attribute text, in [0,1]. Pluggable so a smarter scorer (embeddings,
// search index) can replace the lexical default without touching the
// suggestion pipeline.
type SimilarityScorer interface {
	Score(label string, text string) float64
}

// lexicalScorer matches the label and its singular form against the
// entity text. Whole-word presence scores higher than substring presence.
type lexicalScorer struct{}

// NewLexicalScorer creates the default lexical similarity scorer.
func NewLexicalScorer() SimilarityScorer {
	return lexicalScorer{}
}

var _ SimilarityScorer = lexicalScorer{}

func (lexicalScorer) Score(label string, text string) float64 {
	if label == "" || text == "" {
		return 0
	}

	haystack := strings.ToLower(text)
	words := fieldsSet(haystack)

	best := 0.0
	for _, form := range labelForms(label) {
		switch {
		case words[form]:
			best = max(best, 1.0)
		case strings.Contains(haystack, form):
			best = max(best, 0.6)
		}
	}
	return best
}

// labelForms returns the lowercase label plus its singular form, so
// "dresses" still matches an entity described as "a red dress".
func labelForms(label string) []string {
	lower := strings.ToLower(strings.TrimSpace(label))
	singular := inflection.Singular(lower)
	if singular == lower {
		return []string{lower}
	}
	return []string{lower, singular}
}

func fieldsSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r == '-' || ('a' <= r && r <= 'z') || ('0' <= r && r <= '9'))
	}) {
		set[w] = true
	}
	return set
}
