package embedder

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultSparseDimension bounds the term-hashing index space. Large
// enough that collisions between unrelated terms are rare for
// chunk-sized vocabularies.
const DefaultSparseDimension = 1 << 16

// SparseVectorizer produces deterministic, term-frequency-weighted
// sparse vectors by hashing lowercased tokens into a fixed-width index
// space. It stands in for an external sparse-encoding service;
// canonicalization still runs through canonicalizeSparse so the
// indices/values invariant holds regardless of which encoder produced
// the raw pairs.
type SparseVectorizer struct {
	dimension uint32
}

// NewSparseVectorizer creates a vectorizer hashing into [0, dimension).
func NewSparseVectorizer(dimension uint32) *SparseVectorizer {
	if dimension == 0 {
		dimension = DefaultSparseDimension
	}
	return &SparseVectorizer{dimension: dimension}
}

// Vectorize tokenizes text, lowercases it, and accumulates a
// term-frequency weight per hashed index. Distinct terms that hash to
// the same index share one accumulated weight, so the pairs handed to
// canonicalizeSparse already have unique indices.
func (v *SparseVectorizer) Vectorize(text string) SparseVector {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return SparseVector{}
	}

	counts := make(map[uint32]float32, len(tokens))
	for _, tok := range tokens {
		idx := v.hashToken(tok)
		counts[idx]++
	}

	indices := make([]uint32, 0, len(counts))
	values := make([]float32, 0, len(counts))
	for idx, count := range counts {
		indices = append(indices, idx)
		values = append(values, count)
	}

	sparse, err := canonicalizeSparse(indices, values)
	if err != nil {
		// counts can never produce NaN/Inf or mismatched lengths; this
		// branch exists only to keep canonicalizeSparse's single error
		// return honest.
		return SparseVector{}
	}
	return sparse
}

func (v *SparseVectorizer) hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return h.Sum32() % v.dimension
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
