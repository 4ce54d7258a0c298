package services

import (
	"math"
	"strings"

	"github.com/MohdAljahdali/salla-supabase-sync-sub001/pkg/models"
)

// ScoreWeights are the interaction weights for the performance score.
type ScoreWeights struct {
	Click      float64
	Conversion float64
	Search     float64
}

// DefaultScoreWeights reflect that a conversion says more about an
// assignment's quality than a click, and a click more than a search hit.
var DefaultScoreWeights = ScoreWeights{
	Click:      0.3,
	Conversion: 0.5,
	Search:     0.2,
}

// Scores bundles the three derived scores of one assignment.
type Scores struct {
	Performance float64
	Relevance   float64
	Popularity  float64
}

// ComputeScores derives the three scores from an assignment's counters and
// confidence. The calculation is pure: same inputs, same outputs, no clock
// and no randomness, so recomputing is always safe.
func ComputeScores(a *models.Assignment, weights ScoreWeights, keywordDensity float64) Scores {
	return Scores{
		Performance: performanceScore(a, weights),
		Relevance:   relevanceScore(a, keywordDensity),
		Popularity:  popularityScore(a),
	}
}

// performanceScore blends weighted interactions against views. Views act as
// the exposure denominator and are floored at one so an assignment that was
// never shown scores zero instead of dividing by zero.
func performanceScore(a *models.Assignment, w ScoreWeights) float64 {
	weighted := w.Click*float64(a.ClickCount) +
		w.Conversion*float64(a.ConversionCount) +
		w.Search*float64(a.SearchCount)
	views := math.Max(float64(a.ViewCount), 1)
	return clampScore(weighted / views)
}

// relevanceScore scales confidence by how prominently the label shows up in
// the entity's own attribute text.
func relevanceScore(a *models.Assignment, keywordDensity float64) float64 {
	if keywordDensity < 0 {
		keywordDensity = 0
	}
	if keywordDensity > 1 {
		keywordDensity = 1
	}
	return clampScore(a.Confidence * (0.5 + 0.5*keywordDensity))
}

// popularityScore damps total usage logarithmically so early interactions
// move the score a lot and the millionth barely at all.
func popularityScore(a *models.Assignment) float64 {
	usage := float64(a.UsageCount())
	if usage <= 0 {
		return 0
	}
	// log10 scaled so ~10k interactions saturate the score.
	return clampScore(math.Log10(1+usage) / 4)
}

// KeywordDensity measures how much of the snapshot's text the label accounts
// for: the fraction of snapshot fields whose value mentions the label.
func KeywordDensity(label string, snapshot models.AttributeSnapshot) float64 {
	if len(snapshot) == 0 || label == "" {
		return 0
	}
	needle := strings.ToLower(label)
	hits := 0
	for _, v := range snapshot {
		if strings.Contains(strings.ToLower(v), needle) {
			hits++
		}
	}
	return float64(hits) / float64(len(snapshot))
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
