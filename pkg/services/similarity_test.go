package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLexicalScorer_WholeWord(t *testing.T) {
	scorer := NewLexicalScorer()

	assert.Equal(t, 1.0, scorer.Score("shirt", "Red Cotton Shirt in size M"))
	assert.Equal(t, 1.0, scorer.Score("Cotton", "red cotton shirt"))
}

func TestLexicalScorer_SingularMatchesPlural(t *testing.T) {
	scorer := NewLexicalScorer()

	// Label "dresses" should still match text mentioning one dress.
	assert.Equal(t, 1.0, scorer.Score("dresses", "a red dress with floral print"))
}

func TestLexicalScorer_Substring(t *testing.T) {
	scorer := NewLexicalScorer()

	// "hood" appears only inside "hooded": substring, not a whole word.
	assert.Equal(t, 0.6, scorer.Score("hood", "classic hooded sweatshirt"))
}

func TestLexicalScorer_NoMatch(t *testing.T) {
	scorer := NewLexicalScorer()

	assert.Equal(t, 0.0, scorer.Score("wool", "red cotton shirt"))
	assert.Equal(t, 0.0, scorer.Score("", "red cotton shirt"))
	assert.Equal(t, 0.0, scorer.Score("shirt", ""))
}
