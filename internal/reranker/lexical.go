package reranker

import (
	"context"
	"strings"
)

// LexicalCrossEncoder scores (query, text) pairs by token overlap: the
// fraction of distinct query terms present in the candidate text. The
// candidate's length plays no part in the score. It has none of a trained
// cross-encoder's semantic power, but it satisfies the CrossEncoder
// contract with zero external dependencies, which is what lets this
// repo's rerank step run and be tested without a model server.
type LexicalCrossEncoder struct{}

// NewLexicalCrossEncoder creates the local lexical-overlap scorer.
func NewLexicalCrossEncoder() *LexicalCrossEncoder {
	return &LexicalCrossEncoder{}
}

// Score implements CrossEncoder.
func (LexicalCrossEncoder) Score(_ context.Context, query string, texts []string) ([]float32, error) {
	queryTerms := tokenSet(query)
	scores := make([]float32, len(texts))
	if len(queryTerms) == 0 {
		return scores, nil
	}

	for i, text := range texts {
		textTerms := tokenSet(text)
		if len(textTerms) == 0 {
			continue
		}
		var overlap int
		for term := range queryTerms {
			if textTerms[term] {
				overlap++
			}
		}
		scores[i] = float32(overlap) / float32(len(queryTerms))
	}
	return scores, nil
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[strings.Trim(f, ".,;:!?\"'()[]{}")] = true
	}
	return set
}

var _ CrossEncoder = LexicalCrossEncoder{}
