package memory

import (
	"math"
	"strings"
)

// tokenize lowercases and whitespace-splits content into a set for
// Jaccard lexical similarity (spec.md §4.5).
func tokenize(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// jaccard computes |Q ∩ W| / |Q ∪ W| over lowercased token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

const (
	semanticWeightDefault = 0.7
	lexicalWeightDefault  = 0.3
)

// score implements spec.md §4.5's combined-score formula:
// combined = semanticWeight·semantic + lexicalWeight·lexical, then
// multiplied by importance/recency/type boosts.
func score(item Item, queryVector, itemVector []float32, queryTokens map[string]struct{}, semanticWeight, lexicalWeight float64) float64 {
	semantic := cosine(queryVector, itemVector)
	lexical := jaccard(queryTokens, tokenize(item.Content))
	combined := semanticWeight*semantic + lexicalWeight*lexical

	importanceBoost := item.Importance
	if importanceBoost <= 0 {
		importanceBoost = 0.5
	}
	recencyBoost := math.Max(0.1, 1-item.ageDays()/30)
	boost, ok := typeBoost[item.Type]
	if !ok {
		boost = 1.0
	}

	return combined * importanceBoost * recencyBoost * boost
}
