package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/knoguchi/rag/internal/chunk"
)

func TestChunkPayloadRoundTrip(t *testing.T) {
	c := chunk.Chunk{
		Text:       "hello world",
		Source:     "https://example/test.md",
		Domain:     "docs",
		Topic:      "intro",
		ChunkIndex: 3,
		IngestedAt: 1_700_000_000,
	}

	payload := chunkToPayload(c)
	got := payloadToChunk(payload)

	assert.Equal(t, c, got)
}

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, buildFilter(FilterContext{}))

	f := buildFilter(FilterContext{Domain: "docs"})
	if assert.NotNil(t, f) {
		assert.Len(t, f.Must, 1)
	}

	f = buildFilter(FilterContext{Domain: "docs", Topic: "intro"})
	if assert.NotNil(t, f) {
		assert.Len(t, f.Must, 2)
	}
}
