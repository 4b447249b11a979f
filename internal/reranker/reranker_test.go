package reranker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRerankOrdersByScoreAndTruncates(t *testing.T) {
	r := New(NewLexicalCrossEncoder())

	items := []Item{
		{ID: "a", Text: "the quick brown fox"},
		{ID: "b", Text: "completely unrelated text"},
		{ID: "c", Text: "quick fox jumps"},
	}

	scored, err := r.Rerank(context.Background(), "quick fox", items, 2)
	require.NoError(t, err)
	require.Len(t, scored, 2)

	assert.GreaterOrEqual(t, scored[0].Score, scored[1].Score)
	for _, s := range scored {
		assert.NotEqual(t, "b", s.ID)
	}
}

func TestRerankEmptyCandidates(t *testing.T) {
	r := New(NewLexicalCrossEncoder())
	scored, err := r.Rerank(context.Background(), "anything", nil, 3)
	require.NoError(t, err)
	assert.Empty(t, scored)
}

func TestLexicalCrossEncoderScoresOverlap(t *testing.T) {
	enc := NewLexicalCrossEncoder()
	scores, err := enc.Score(context.Background(), "alpha beta", []string{"alpha beta gamma", "delta epsilon"})
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Greater(t, scores[0], scores[1])
}
